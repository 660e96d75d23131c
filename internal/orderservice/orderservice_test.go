package orderservice

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/internal/book"
	"github.com/pebble-pm/pebble-exchange-core/internal/ledger"
	"github.com/pebble-pm/pebble-exchange-core/internal/matching"
	"github.com/pebble-pm/pebble-exchange-core/internal/store"
	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

func newTestService(t *testing.T) (*Service, *store.Store, *ledger.Fake) {
	t.Helper()
	st, err := store.Open(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	fake := ledger.NewFake()
	counter := 0
	idGen := func() string {
		counter++
		return fmt.Sprintf("id%d", counter)
	}
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	svc := New(DefaultConfig(), st, fake, book.NewManager(), matching.New(idGen, now), idGen, now, zap.NewNop())
	return svc, st, fake
}

func seedMarket(t *testing.T, st *store.Store, marketID string) {
	t.Helper()
	if err := st.PutMarket(types.Market{
		MarketID: marketID,
		Status:   types.MarketOpen,
		YesPrice: money.MustParse("0.5"),
		NoPrice:  money.MustParse("0.5"),
	}); err != nil {
		t.Fatal(err)
	}
}

func seedAccount(t *testing.T, st *store.Store, userID string, available string) {
	t.Helper()
	if err := st.PutAccount(types.Account{
		UserID:            userID,
		PartyID:           userID,
		AccountContractID: "cid-" + userID,
		AvailableBalance:  money.MustParse(available),
	}); err != nil {
		t.Fatal(err)
	}
}

func TestPlaceOrderDirectMatchFullFill(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedMarket(t, st, "m1")
	seedAccount(t, st, "seller", "1000")
	seedAccount(t, st, "buyer", "1000")

	ctx := t.Context()
	if _, err := svc.PlaceOrder(ctx, "seller", PlaceOrderRequest{
		MarketID: "m1", Side: types.SideYes, Action: types.ActionSell,
		OrderType: types.OrderTypeLimit, Price: money.MustParse("0.50"), Quantity: money.MustParse("100"),
	}); err == nil {
		t.Fatal("expected NO_POSITION error for sell with no position")
	}

	// Give the seller a position to sell against.
	if err := st.PutPosition(types.Position{
		PositionID: "pos-seller", UserID: "seller", MarketID: "m1", Side: types.SideYes,
		Quantity: money.MustParse("100"),
	}); err != nil {
		t.Fatal(err)
	}

	sellResp, err := svc.PlaceOrder(ctx, "seller", PlaceOrderRequest{
		MarketID: "m1", Side: types.SideYes, Action: types.ActionSell,
		OrderType: types.OrderTypeLimit, Price: money.MustParse("0.50"), Quantity: money.MustParse("100"),
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if sellResp.Order.Status != types.OrderOpen {
		t.Fatalf("resting sell should be open, got %s", sellResp.Order.Status)
	}

	buyResp, err := svc.PlaceOrder(ctx, "buyer", PlaceOrderRequest{
		MarketID: "m1", Side: types.SideYes, Action: types.ActionBuy,
		OrderType: types.OrderTypeLimit, Price: money.MustParse("0.50"), Quantity: money.MustParse("100"),
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if buyResp.Order.Status != types.OrderFilled {
		t.Fatalf("buy should fully fill, got %s", buyResp.Order.Status)
	}
	if len(buyResp.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(buyResp.Trades))
	}
	if !buyResp.Trades[0].Price.Eq(money.MustParse("0.50")) {
		t.Errorf("trade price = %s, want 0.50", buyResp.Trades[0].Price)
	}
}

func TestPlaceOrderIdempotentReplay(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedMarket(t, st, "m1")
	seedAccount(t, st, "buyer", "1000")

	ctx := t.Context()
	req := PlaceOrderRequest{
		MarketID: "m1", Side: types.SideYes, Action: types.ActionBuy,
		OrderType: types.OrderTypeLimit, Price: money.MustParse("0.50"), Quantity: money.MustParse("10"),
		IdempotencyKey: "key1",
	}
	first, err := svc.PlaceOrder(ctx, "buyer", req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.PlaceOrder(ctx, "buyer", req)
	if err != nil {
		t.Fatal(err)
	}
	if first.Order.OrderID != second.Order.OrderID {
		t.Fatalf("replayed idempotency key should return the same orderId, got %s vs %s", first.Order.OrderID, second.Order.OrderID)
	}
}

func TestCancelOrderUnauthorized(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedMarket(t, st, "m1")
	seedAccount(t, st, "buyer", "1000")

	ctx := t.Context()
	resp, err := svc.PlaceOrder(ctx, "buyer", PlaceOrderRequest{
		MarketID: "m1", Side: types.SideYes, Action: types.ActionBuy,
		OrderType: types.OrderTypeLimit, Price: money.MustParse("0.50"), Quantity: money.MustParse("10"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.CancelOrder(ctx, "someone-else", resp.Order.OrderID); !types.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}

	cancelled, err := svc.CancelOrder(ctx, "buyer", resp.Order.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != types.OrderCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
}
