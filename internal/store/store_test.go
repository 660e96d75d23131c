package store

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMarketRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	m := types.Market{
		MarketID:    "m1",
		Question:    "will it rain",
		Status:      types.MarketOpen,
		YesPrice:    money.MustParse("0.60"),
		NoPrice:     money.MustParse("0.40"),
		LastUpdated: time.Now(),
	}
	if err := s.PutMarket(m); err != nil {
		t.Fatalf("PutMarket: %v", err)
	}
	got, ok, err := s.GetMarket("m1")
	if err != nil || !ok {
		t.Fatalf("GetMarket: ok=%v err=%v", ok, err)
	}
	if got.Question != m.Question {
		t.Fatalf("question mismatch: %q", got.Question)
	}

	list, err := s.ListMarkets()
	if err != nil || len(list) != 1 {
		t.Fatalf("ListMarkets: %v items, err=%v", len(list), err)
	}
}

func TestOrderIndexesAndOpenCountAfterFill(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	o := types.Order{
		OrderID:        "o1",
		MarketID:       "m1",
		UserID:         "u1",
		Side:           types.SideYes,
		Action:         types.ActionBuy,
		OrderType:      types.OrderTypeLimit,
		Price:          money.MustParse("0.5"),
		Quantity:       money.MustParse("10"),
		Status:         types.OrderOpen,
		IdempotencyKey: "idem-1",
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := s.CreateOrder(o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	byKey, ok, err := s.GetOrderByIdempotencyKey("u1", "idem-1")
	if err != nil || !ok || byKey.OrderID != "o1" {
		t.Fatalf("GetOrderByIdempotencyKey: ok=%v err=%v got=%+v", ok, err, byKey)
	}

	open, err := s.ListOrdersByMarket("m1")
	if err != nil || len(open) != 1 {
		t.Fatalf("ListOrdersByMarket before update: %v err=%v", len(open), err)
	}

	o.Status = types.OrderFilled
	o.FilledQuantity = o.Quantity
	if err := s.UpdateOrder(o); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	count, err := s.CountOpenOrdersByUser("u1")
	if err != nil {
		t.Fatalf("CountOpenOrdersByUser: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 open orders after fill, got %d", count)
	}
}

func TestReducePositionArchivesAtZero(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	p := types.Position{
		PositionID:     "p1",
		UserID:         "u1",
		MarketID:       "m1",
		Side:           types.SideYes,
		Quantity:       money.MustParse("10"),
		LockedQuantity: money.MustParse("10"),
		AvgCostBasis:   money.MustParse("0.5"),
	}
	if err := s.PutPosition(p); err != nil {
		t.Fatalf("PutPosition: %v", err)
	}

	active, ok, err := s.GetActivePosition("u1", "m1", types.SideYes)
	if err != nil || !ok || active.PositionID != "p1" {
		t.Fatalf("GetActivePosition: ok=%v err=%v", ok, err)
	}

	updated, err := s.ReducePosition("p1", money.MustParse("10"), money.MustParse("10"))
	if err != nil {
		t.Fatalf("ReducePosition: %v", err)
	}
	if !updated.IsArchived {
		t.Fatalf("expected position archived once quantity hits zero")
	}

	_, ok, err = s.GetActivePosition("u1", "m1", types.SideYes)
	if err != nil {
		t.Fatalf("GetActivePosition after archive: %v", err)
	}
	if ok {
		t.Fatalf("archived position should no longer be active")
	}
}

func TestReducePositionRejectsOverdraft(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	p := types.Position{
		PositionID: "p2",
		UserID:     "u2",
		MarketID:   "m1",
		Side:       types.SideNo,
		Quantity:   money.MustParse("5"),
	}
	if err := s.PutPosition(p); err != nil {
		t.Fatalf("PutPosition: %v", err)
	}

	if _, err := s.ReducePosition("p2", money.MustParse("10"), money.Zero); err == nil {
		t.Fatalf("expected invariant violation error reducing below zero")
	}
}

func TestCreateBatchWithTradeAssociationsIsAtomic(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	trade := types.Trade{
		TradeID:          "t1",
		MarketID:         "m1",
		BuyerID:          "u1",
		SellerID:         "u2",
		Side:             types.SideYes,
		Price:            money.MustParse("0.5"),
		Quantity:         money.MustParse("1"),
		BuyerOrderID:     "o1",
		SellerOrderID:    "o2",
		TradeType:        types.TradeTypeShareTrade,
		SettlementStatus: types.SettlementPending,
		CreatedAt:        time.Now(),
	}
	if err := s.CreateTrade(trade); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}

	b := types.SettlementBatch{
		BatchID:   "b1",
		TradeIDs:  []string{"t1"},
		Status:    types.BatchPending,
		CreatedAt: time.Now(),
	}
	if err := s.CreateBatch(b); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	got, ok, err := s.GetBatch("b1")
	if err != nil || !ok || len(got.TradeIDs) != 1 {
		t.Fatalf("GetBatch: ok=%v err=%v got=%+v", ok, err, got)
	}

	pending, err := s.ListBatchesByStatus(types.BatchPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListBatchesByStatus: %v items err=%v", len(pending), err)
	}

	got.Status = types.BatchCompleted
	if err := s.UpdateBatch(got); err != nil {
		t.Fatalf("UpdateBatch: %v", err)
	}
	pending, err = s.ListBatchesByStatus(types.BatchPending)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending batches after completion, got %d", len(pending))
	}
}

func TestUpdateTradesSettlementStatusBulk(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, id := range []string{"t1", "t2"} {
		tr := types.Trade{
			TradeID:          id,
			MarketID:         "m1",
			BuyerID:          "u1",
			SellerID:         "u2",
			Side:             types.SideYes,
			Price:            money.MustParse("0.5"),
			Quantity:         money.MustParse("1"),
			BuyerOrderID:     "o1",
			SellerOrderID:    "o2",
			TradeType:        types.TradeTypeShareTrade,
			SettlementStatus: types.SettlementPending,
			CreatedAt:        time.Now(),
		}
		if err := s.CreateTrade(tr); err != nil {
			t.Fatalf("CreateTrade(%s): %v", id, err)
		}
	}

	now := time.Now()
	if err := s.UpdateTradesSettlementStatus([]string{"t1", "t2"}, types.SettlementSettled, &now); err != nil {
		t.Fatalf("UpdateTradesSettlementStatus: %v", err)
	}

	settled, err := s.ListTradesByStatus(types.SettlementSettled)
	if err != nil || len(settled) != 2 {
		t.Fatalf("ListTradesByStatus(settled): %v items err=%v", len(settled), err)
	}
	pending, err := s.ListTradesByStatus(types.SettlementPending)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending trades left, got %d", len(pending))
	}
}

func TestOrdersWithPendingOrSettlingTrades(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	tr := types.Trade{
		TradeID:          "t1",
		MarketID:         "m1",
		BuyerID:          "u1",
		SellerID:         "u2",
		Side:             types.SideYes,
		Price:            money.MustParse("0.5"),
		Quantity:         money.MustParse("1"),
		BuyerOrderID:     "o1",
		SellerOrderID:    "o2",
		TradeType:        types.TradeTypeShareTrade,
		SettlementStatus: types.SettlementSettling,
		CreatedAt:        time.Now(),
	}
	if err := s.CreateTrade(tr); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}

	orders, err := s.OrdersWithPendingOrSettlingTrades()
	if err != nil {
		t.Fatalf("OrdersWithPendingOrSettlingTrades: %v", err)
	}
	want := map[string]bool{"o1": true, "o2": true}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	for _, id := range orders {
		if !want[id] {
			t.Fatalf("unexpected order id %q", id)
		}
	}
}

func TestCompensationFailureLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	c := types.CompensationFailure{
		ID:        "cf1",
		OrderID:   "o1",
		UserID:    "u1",
		Amount:    money.MustParse("5"),
		Timestamp: time.Now(),
	}
	if err := s.AppendCompensationFailure(c); err != nil {
		t.Fatalf("AppendCompensationFailure: %v", err)
	}

	unresolved, err := s.ListUnresolvedCompensationFailures()
	if err != nil || len(unresolved) != 1 {
		t.Fatalf("ListUnresolvedCompensationFailures: %v items err=%v", len(unresolved), err)
	}

	if err := s.ResolveCompensationFailure("cf1", "ops-oncall", time.Now()); err != nil {
		t.Fatalf("ResolveCompensationFailure: %v", err)
	}
	unresolved, err = s.ListUnresolvedCompensationFailures()
	if err != nil || len(unresolved) != 0 {
		t.Fatalf("expected no unresolved failures after resolve, got %d", len(unresolved))
	}
}

func TestReconciliationRecordsFilterByUser(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for i, uid := range []string{"u1", "u2", "u1"} {
		r := types.ReconciliationRecord{
			ID:        "r" + string(rune('0'+i)),
			UserID:    uid,
			Timestamp: time.Now(),
		}
		if err := s.AppendReconciliationRecord(r); err != nil {
			t.Fatalf("AppendReconciliationRecord: %v", err)
		}
	}

	recs, err := s.ListReconciliationRecordsByUser("u1")
	if err != nil || len(recs) != 2 {
		t.Fatalf("ListReconciliationRecordsByUser: %v items err=%v", len(recs), err)
	}
}

func TestSettlementEventsByID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for i := 0; i < 2; i++ {
		e := types.SettlementEvent{
			ID:           "e" + string(rune('0'+i)),
			SettlementID: "s1",
			Status:       "proposed",
			Timestamp:    time.Now(),
		}
		if err := s.AppendSettlementEvent(e); err != nil {
			t.Fatalf("AppendSettlementEvent: %v", err)
		}
	}

	events, err := s.ListSettlementEvents("s1")
	if err != nil || len(events) != 2 {
		t.Fatalf("ListSettlementEvents: %v items err=%v", len(events), err)
	}
}
