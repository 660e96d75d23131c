package book

import (
	"testing"
	"time"

	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

func order(id string, side types.Side, action types.Action, price, qty string, at time.Time) types.Order {
	return types.Order{
		OrderID:   id,
		Side:      side,
		Action:    action,
		OrderType: types.OrderTypeLimit,
		Price:     money.MustParse(price),
		Quantity:  money.MustParse(qty),
		CreatedAt: at,
	}
}

func TestBidOrderingPriceDescThenTimeAsc(t *testing.T) {
	t.Parallel()
	b := New("m1")
	base := time.Now()

	b.Add(order("o1", types.SideYes, types.ActionBuy, "0.50", "10", base))
	b.Add(order("o2", types.SideYes, types.ActionBuy, "0.55", "10", base.Add(time.Second)))
	b.Add(order("o3", types.SideYes, types.ActionBuy, "0.55", "10", base))

	bids := b.yesBids
	if len(bids) != 3 {
		t.Fatalf("expected 3 bids, got %d", len(bids))
	}
	if bids[0].OrderID != "o3" || bids[1].OrderID != "o2" || bids[2].OrderID != "o1" {
		t.Fatalf("unexpected bid order: %v %v %v", bids[0].OrderID, bids[1].OrderID, bids[2].OrderID)
	}
}

func TestAskOrderingPriceAscThenTimeAsc(t *testing.T) {
	t.Parallel()
	b := New("m1")
	base := time.Now()

	b.Add(order("o1", types.SideYes, types.ActionSell, "0.60", "10", base))
	b.Add(order("o2", types.SideYes, types.ActionSell, "0.50", "10", base.Add(time.Second)))
	b.Add(order("o3", types.SideYes, types.ActionSell, "0.50", "10", base))

	asks := b.yesAsks
	if len(asks) != 3 {
		t.Fatalf("expected 3 asks, got %d", len(asks))
	}
	if asks[0].OrderID != "o3" || asks[1].OrderID != "o2" || asks[2].OrderID != "o1" {
		t.Fatalf("unexpected ask order: %v %v %v", asks[0].OrderID, asks[1].OrderID, asks[2].OrderID)
	}
}

func TestDirectCandidatesIsOppositeActionSameSide(t *testing.T) {
	t.Parallel()
	b := New("m1")
	now := time.Now()
	b.Add(order("ask1", types.SideYes, types.ActionSell, "0.5", "5", now))

	candidates := b.DirectCandidates(types.SideYes, types.ActionBuy)
	if len(candidates) != 1 || candidates[0].OrderID != "ask1" {
		t.Fatalf("expected ask1 as direct candidate, got %+v", candidates)
	}
}

func TestCrossCandidatesIsSameActionOppositeSide(t *testing.T) {
	t.Parallel()
	b := New("m1")
	now := time.Now()
	b.Add(order("nobid1", types.SideNo, types.ActionBuy, "0.6", "5", now))

	candidates := b.CrossCandidates(types.SideYes, types.ActionBuy)
	if len(candidates) != 1 || candidates[0].OrderID != "nobid1" {
		t.Fatalf("expected nobid1 as cross candidate, got %+v", candidates)
	}
}

func TestRemoveIfFilledLeavesPartialsResting(t *testing.T) {
	t.Parallel()
	b := New("m1")
	now := time.Now()
	entry := b.Add(order("o1", types.SideYes, types.ActionSell, "0.5", "10", now))

	entry.FilledQuantity = money.MustParse("5")
	b.RemoveIfFilled("o1")
	if _, ok := b.Get("o1"); !ok {
		t.Fatalf("partially filled order should remain resting")
	}

	entry.FilledQuantity = money.MustParse("10")
	b.RemoveIfFilled("o1")
	if _, ok := b.Get("o1"); ok {
		t.Fatalf("fully filled order should be removed")
	}
}

func TestSnapshotExcludesFullyFilledAndAggregatesByPrice(t *testing.T) {
	t.Parallel()
	b := New("m1")
	now := time.Now()
	b.Add(order("o1", types.SideYes, types.ActionBuy, "0.5", "10", now))
	b.Add(order("o2", types.SideYes, types.ActionBuy, "0.5", "5", now.Add(time.Second)))
	filled := b.Add(order("o3", types.SideYes, types.ActionBuy, "0.5", "3", now.Add(2*time.Second)))
	filled.FilledQuantity = filled.Quantity

	snap := b.Snapshot()
	if len(snap.YesBids) != 1 {
		t.Fatalf("expected 1 aggregated price level, got %d", len(snap.YesBids))
	}
	if snap.YesBids[0].RemainingQty != 15 {
		t.Fatalf("expected remaining 15, got %v", snap.YesBids[0].RemainingQty)
	}
	if snap.YesBids[0].OrderCount != 2 {
		t.Fatalf("expected order count 2, got %d", snap.YesBids[0].OrderCount)
	}
}
