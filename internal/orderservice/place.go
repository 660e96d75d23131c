package orderservice

import (
	"context"

	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// PlaceOrderResponse is PlaceOrder's result: the order's final state plus
// any trades the match produced.
type PlaceOrderResponse struct {
	Order  types.Order
	Trades []types.Trade
}

// PlaceOrder runs the order saga of spec §4.7: validate, lock on the
// ledger, persist, match, and compensate on partial failure. A market
// buy's lock uses a worst-case 0.99*quantity cap (see requiredFunds);
// callers should expect PlaceOrder to occasionally reject a market buy a
// user can afford in expectation, by design.
func (s *Service) PlaceOrder(ctx context.Context, userID string, req PlaceOrderRequest) (PlaceOrderResponse, error) {
	// Step 1: idempotency check.
	if req.IdempotencyKey != "" {
		if existing, ok, err := s.store.GetOrderByIdempotencyKey(userID, req.IdempotencyKey); err != nil {
			return PlaceOrderResponse{}, types.WrapError(types.ErrStore, "idempotency lookup", err)
		} else if ok {
			trades, err := s.store.ListTradesByOrder(existing.OrderID)
			if err != nil {
				return PlaceOrderResponse{}, types.WrapError(types.ErrStore, "load trades for idempotent order", err)
			}
			return PlaceOrderResponse{Order: existing, Trades: trades}, nil
		}
	}

	// Step 2: validate.
	market, account, err := s.validate(ctx, userID, req)
	if err != nil {
		return PlaceOrderResponse{}, err
	}

	orderID := s.idGen()
	now := s.nowTime()
	order := types.Order{
		OrderID:        orderID,
		MarketID:       req.MarketID,
		UserID:         userID,
		Side:           req.Side,
		Action:         req.Action,
		OrderType:      req.OrderType,
		Price:          req.Price,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Step 3: lock on the ledger.
	lockedAmount := requiredFunds(req)
	var lockContractID, lockTxID string
	if req.Action == types.ActionBuy {
		lockContractID, lockTxID, err = s.lockFunds(ctx, account, orderID, lockedAmount)
	} else {
		var pos types.Position
		pos, _, err = s.store.GetActivePosition(userID, req.MarketID, req.Side)
		if err == nil {
			lockContractID, lockTxID, err = s.lockPosition(ctx, pos, orderID, req.Quantity)
			lockedAmount = req.Quantity
		}
	}
	if err != nil {
		return PlaceOrderResponse{}, err
	}

	order.LockedAmount = lockedAmount
	order.LedgerLockTxID = lockTxID
	order.Status = types.OrderPending

	// Step 4: persist the order pending.
	if err := s.store.CreateOrder(order); err != nil {
		s.compensateLockOnPersistFailure(ctx, order, userID, account.PartyID, lockContractID, lockedAmount)
		return PlaceOrderResponse{}, types.WrapError(types.ErrStore, "persist order", err)
	}

	// Step 5: submit to the matching engine.
	bk := s.books.Get(req.MarketID)
	result := s.matcher.Process(bk, order)
	order = result.Order

	for _, maker := range result.UpdatedMakers {
		if err := s.store.UpdateOrder(maker); err != nil {
			s.logger.Error("failed to persist maker order update", zap.String("orderId", maker.OrderID), zap.Error(err))
		}
	}
	for _, t := range result.Trades {
		if err := s.store.CreateTrade(t); err != nil {
			s.logger.Error("failed to persist trade", zap.String("tradeId", t.TradeID), zap.Error(err))
			continue
		}
		if s.onTradeCreated != nil {
			s.onTradeCreated(t.TradeID)
		}
	}
	if err := s.store.UpdateOrder(order); err != nil {
		return PlaceOrderResponse{}, types.WrapError(types.ErrStore, "persist matched order", err)
	}

	// Step 6: market-buy refund of locked-but-unspent funds.
	if req.Action == types.ActionBuy && req.OrderType == types.OrderTypeMarket {
		s.refundMarketBuyExcess(ctx, order, lockContractID, result.Trades)
	}

	// Step 7: sell residual position unlock.
	if req.Action == types.ActionSell && order.Status.Terminal() && order.Status != types.OrderFilled {
		s.unlockSellResidual(ctx, order, lockContractID)
	}

	return PlaceOrderResponse{Order: order, Trades: result.Trades}, nil
}

func (s *Service) compensateLockOnPersistFailure(ctx context.Context, order types.Order, userID, partyID, lockContractID string, amount money.Decimal) {
	order.Status = types.OrderRejected
	var err error
	if order.Action == types.ActionBuy {
		_, err = s.unlockFunds(ctx, userID, partyID, lockContractID, order.OrderID, amount)
	} else {
		_, err = s.unlockPosition(ctx, userID, lockContractID, order.OrderID, amount)
	}
	if err != nil {
		s.recordCompensationFailure(order.OrderID, userID, lockContractID, amount, err)
	}
}

// refundMarketBuyExcess implements spec §4.7 step 6: if lockedAmount
// exceeds the actual cost by more than a rounding epsilon, refund the
// excess.
func (s *Service) refundMarketBuyExcess(ctx context.Context, order types.Order, lockContractID string, trades []types.Trade) {
	actualCost := money.Zero
	for _, t := range trades {
		cost := t.Price.Mul(t.Quantity)
		if t.TradeType == types.TradeTypeShareCreation && order.Side == types.SideNo {
			cost = t.NoLegPrice().Mul(t.Quantity)
		}
		if order.Side != t.Side {
			continue
		}
		actualCost = actualCost.Add(cost)
	}
	excess := order.LockedAmount.Sub(actualCost)
	const epsilon = "0.000001"
	if excess.Gt(money.MustParse(epsilon)) {
		if _, err := s.unlockFunds(ctx, order.UserID, order.UserID, lockContractID, order.OrderID, excess); err != nil {
			s.recordCompensationFailure(order.OrderID, order.UserID, lockContractID, excess, err)
		}
	}
}

// unlockSellResidual implements spec §4.7 step 7: for sell orders that
// reached a terminal, non-filled state (rejected with no residual
// possible here, since validate already passed — in practice "partial"
// can't be terminal, so this covers the market-sell-exhausted-book case),
// unlock whatever quantity never matched.
func (s *Service) unlockSellResidual(ctx context.Context, order types.Order, lockContractID string) {
	residual := order.Quantity.Sub(order.FilledQuantity)
	if !residual.Gt(money.Zero) {
		return
	}
	if _, err := s.unlockPosition(ctx, order.UserID, lockContractID, order.OrderID, residual); err != nil {
		s.recordCompensationFailure(order.OrderID, order.UserID, lockContractID, residual, err)
	}
}
