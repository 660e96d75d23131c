package ledger

import (
	"testing"

	"go.uber.org/zap"
)

func TestFakeSubmitCommandRotatesContract(t *testing.T) {
	f := NewFake()
	ctx := t.Context()

	out, err := f.SubmitCommand(ctx, SubmitCommandInput{
		CommandID: "cmd1",
		Commands: []Command{{
			TemplateID: TemplateTradingAccount,
			Argument:   map[string]any{"owner": "alice", "availableBalance": "100"},
		}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	firstCID := out.NewContractID

	out2, err := f.SubmitCommand(ctx, SubmitCommandInput{
		CommandID: "cmd2",
		ActAs:     []string{"alice"},
		Commands: []Command{{
			TemplateID: TemplateTradingAccount,
			ContractID: firstCID,
			Choice:     ChoiceLockFunds,
			Argument:   map[string]any{"availableBalance": "50"},
		}},
	})
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if out2.NewContractID == firstCID {
		t.Fatal("exercise should rotate to a new contract id")
	}

	if got, err := f.GetContract(ctx, firstCID, "alice"); err != nil || got != nil {
		t.Fatalf("archived contract should no longer be active, got %+v err %v", got, err)
	}
	rotated, err := f.GetContract(ctx, out2.NewContractID, "alice")
	if err != nil || rotated == nil {
		t.Fatalf("rotated contract should be active, got %+v err %v", rotated, err)
	}
	if rotated.Payload["availableBalance"] != "50" {
		t.Errorf("availableBalance = %v, want 50", rotated.Payload["availableBalance"])
	}
	if rotated.Payload["owner"] != "alice" {
		t.Errorf("owner should carry over from prior payload, got %v", rotated.Payload["owner"])
	}
}

func TestFakeGetActiveContractsFiltersByParty(t *testing.T) {
	f := NewFake()
	ctx := t.Context()

	f.Seed(TemplateTradingAccount, "cid-a", map[string]any{"owner": "alice"})
	f.Seed(TemplateTradingAccount, "cid-b", map[string]any{"owner": "bob"})

	got, err := f.GetActiveContracts(ctx, TemplateTradingAccount, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ContractID != "cid-a" {
		t.Fatalf("expected only alice's contract, got %+v", got)
	}
}

func TestOfflineClientReturnsSynthetic(t *testing.T) {
	c := New(Config{Offline: true}, zap.NewNop())
	ctx := t.Context()

	out, err := c.SubmitCommand(ctx, SubmitCommandInput{CommandID: "cmd1"})
	if err != nil {
		t.Fatal(err)
	}
	if out.TransactionID == "" || out.NewContractID == "" {
		t.Fatal("offline submit should still return synthetic ids")
	}

	contracts, err := c.GetActiveContracts(ctx, TemplateTradingAccount, "alice")
	if err != nil || contracts != nil {
		t.Fatalf("offline getActiveContracts should return (nil, nil), got %+v %v", contracts, err)
	}
}
