package reconcile

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/internal/ledger"
	"github.com/pebble-pm/pebble-exchange-core/internal/store"
	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store, *ledger.Fake) {
	t.Helper()
	st, err := store.Open(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	fake := ledger.NewFake()
	counter := 0
	idGen := func() string { counter++; return fmt.Sprintf("rid%d", counter) }
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	return New(DefaultConfig(), st, fake, idGen, now, zap.NewNop()), st, fake
}

func TestSweepOverwritesProjectionOnExcessDrift(t *testing.T) {
	r, st, fake := newTestReconciler(t)

	staleTime := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := st.PutAccount(types.Account{
		UserID: "alice", PartyID: "alice",
		AvailableBalance: money.MustParse("100"), LockedBalance: money.MustParse("0"),
		LastUpdated: staleTime,
	}); err != nil {
		t.Fatal(err)
	}
	fake.Seed(ledger.TemplateTradingAccount, "cid-alice", map[string]any{
		"owner": "alice", "availableBalance": "50", "lockedBalance": "0",
	})

	if err := r.SweepOnce(t.Context()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	acct, ok, err := st.GetAccount("alice")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("account missing after sweep")
	}
	if !acct.AvailableBalance.Eq(money.MustParse("50")) {
		t.Fatalf("available balance = %s, want 50 (overwritten from chain)", acct.AvailableBalance)
	}
	if acct.AccountContractID != "cid-alice" {
		t.Fatalf("contract id = %s, want cid-alice", acct.AccountContractID)
	}

	records, err := st.ListReconciliationRecordsByUser("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || !records[0].Reconciled {
		t.Fatalf("records = %+v, want one reconciled=true record", records)
	}
}

func TestSweepSkipsFreshAccounts(t *testing.T) {
	r, st, fake := newTestReconciler(t)

	if err := st.PutAccount(types.Account{
		UserID: "bob", PartyID: "bob",
		AvailableBalance: money.MustParse("10"),
		LastUpdated:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatal(err)
	}
	fake.Seed(ledger.TemplateTradingAccount, "cid-bob", map[string]any{
		"owner": "bob", "availableBalance": "999", "lockedBalance": "0",
	})

	if err := r.SweepOnce(t.Context()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	acct, _, err := st.GetAccount("bob")
	if err != nil {
		t.Fatal(err)
	}
	if !acct.AvailableBalance.Eq(money.MustParse("10")) {
		t.Fatalf("fresh account should not have been reconciled, got available=%s", acct.AvailableBalance)
	}
}

func TestSweepToleratesSmallDriftWithoutFlagging(t *testing.T) {
	r, st, fake := newTestReconciler(t)

	staleTime := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := st.PutAccount(types.Account{
		UserID: "carol", PartyID: "carol",
		AvailableBalance: money.MustParse("1000.0001"), LockedBalance: money.MustParse("0"),
		LastUpdated: staleTime,
	}); err != nil {
		t.Fatal(err)
	}
	fake.Seed(ledger.TemplateTradingAccount, "cid-carol", map[string]any{
		"owner": "carol", "availableBalance": "1000", "lockedBalance": "0",
	})

	if err := r.SweepOnce(t.Context()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	records, err := st.ListReconciliationRecordsByUser("carol")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Reconciled {
		t.Fatalf("records = %+v, want one reconciled=false record within tolerance", records)
	}
}
