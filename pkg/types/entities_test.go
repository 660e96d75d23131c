package types

import (
	"testing"

	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
)

func TestMarketValid(t *testing.T) {
	t.Parallel()

	m := Market{
		YesPrice: money.MustParse("0.6"),
		NoPrice:  money.MustParse("0.4"),
		Status:   MarketOpen,
	}
	if !m.Valid() {
		t.Errorf("expected valid market")
	}

	bad := m
	bad.YesPrice = money.MustParse("0.7")
	if bad.Valid() {
		t.Errorf("expected invalid market when prices don't sum to 1")
	}

	resolvedNoOutcome := m
	resolvedNoOutcome.Status = MarketResolved
	if resolvedNoOutcome.Valid() {
		t.Errorf("resolved market without outcome should be invalid")
	}
}

func TestMarketStatusTransitions(t *testing.T) {
	t.Parallel()

	if !MarketOpen.CanTransitionTo(MarketClosed) {
		t.Errorf("open -> closed should be allowed")
	}
	if MarketOpen.CanTransitionTo(MarketResolved) {
		t.Errorf("open -> resolved should not be allowed directly")
	}
	if !MarketClosed.CanTransitionTo(MarketResolved) {
		t.Errorf("closed -> resolved should be allowed")
	}
}

func TestOrderStatusMachine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderPending, OrderOpen, true},
		{OrderPending, OrderFilled, true},
		{OrderPending, OrderRejected, true},
		{OrderPending, OrderCancelled, false},
		{OrderOpen, OrderPartial, true},
		{OrderOpen, OrderCancelled, true},
		{OrderPartial, OrderFilled, true},
		{OrderPartial, OrderOpen, false},
		{OrderFilled, OrderOpen, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s -> %s = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestPositionInvariants(t *testing.T) {
	t.Parallel()

	p := Position{Quantity: money.MustParse("10"), LockedQuantity: money.MustParse("4")}
	if !p.Valid() {
		t.Errorf("expected valid position")
	}
	if !p.AvailableQuantity().Eq(money.MustParse("6")) {
		t.Errorf("AvailableQuantity = %s, want 6", p.AvailableQuantity())
	}

	over := Position{Quantity: money.MustParse("5"), LockedQuantity: money.MustParse("6")}
	if over.Valid() {
		t.Errorf("locked > quantity should be invalid")
	}

	archivedNonZero := Position{IsArchived: true, Quantity: money.MustParse("1")}
	if archivedNonZero.Valid() {
		t.Errorf("archived position with nonzero quantity should be invalid")
	}
}

func TestTradeValidAndNoLeg(t *testing.T) {
	t.Parallel()

	tr := Trade{
		BuyerID:   "u1",
		SellerID:  "u2",
		Price:     money.MustParse("0.4"),
		Quantity:  money.MustParse("100"),
		TradeType: TradeTypeShareCreation,
	}
	if !tr.Valid() {
		t.Errorf("expected valid trade")
	}
	if !tr.NoLegPrice().Eq(money.MustParse("0.6")) {
		t.Errorf("NoLegPrice = %s, want 0.6", tr.NoLegPrice())
	}

	selfMatch := tr
	selfMatch.SellerID = tr.BuyerID
	if selfMatch.Valid() {
		t.Errorf("self-match trade should be invalid")
	}
}

func TestKindError(t *testing.T) {
	t.Parallel()

	err := NewError(ErrInsufficientBalance, "not enough funds")
	if !Is(err, ErrInsufficientBalance) {
		t.Errorf("expected Is to match ErrInsufficientBalance")
	}
	if Is(err, ErrInvalidPrice) {
		t.Errorf("Is should not match unrelated kind")
	}

	wrapped := WrapError(ErrLedger, "submit failed", err)
	if kind, ok := KindOf(wrapped); !ok || kind != ErrLedger {
		t.Errorf("KindOf(wrapped) = %v,%v want LEDGER_ERROR,true", kind, ok)
	}
}
