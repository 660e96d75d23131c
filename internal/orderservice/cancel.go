package orderservice

import (
	"context"

	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// CancelOrder implements spec §4.7's cancellation: permitted only when
// the order is pending/open/partial and owned by userID, pro-rates the
// remaining locked amount, unlocks it on the ledger (non-fatal on
// failure — logged as a compensation failure), removes the order from
// the book, and sets status = cancelled.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (types.Order, error) {
	order, ok, err := s.store.GetOrder(orderID)
	if err != nil {
		return types.Order{}, types.WrapError(types.ErrStore, "load order", err)
	}
	if !ok {
		return types.Order{}, types.NewError(types.ErrOrderNotFound, "order not found: "+orderID)
	}
	if order.UserID != userID {
		return types.Order{}, types.NewError(types.ErrUnauthorized, "order does not belong to caller")
	}
	switch order.Status {
	case types.OrderPending, types.OrderOpen, types.OrderPartial:
	default:
		return types.Order{}, types.NewError(types.ErrInvalidStatus, "order is not cancellable in status "+string(order.Status))
	}

	residual := order.Quantity.Sub(order.FilledQuantity)
	proRatedLocked := money.Zero
	if order.Quantity.IsPositive() {
		proRatedLocked = order.LockedAmount.Mul(residual).Div(order.Quantity)
	}

	if proRatedLocked.Gt(money.Zero) {
		contractID, cerr := s.resolveLockContract(ctx, order)
		if cerr != nil {
			s.logger.Warn("cancel compensation unlock failed, recording for manual reconciliation",
				zap.String("orderId", orderID), zap.Error(cerr))
			s.recordCompensationFailure(orderID, userID, order.LedgerLockTxID, proRatedLocked, cerr)
		} else {
			if order.Action == types.ActionBuy {
				_, cerr = s.unlockFunds(ctx, userID, userID, contractID, orderID, proRatedLocked)
			} else {
				_, cerr = s.unlockPosition(ctx, userID, contractID, orderID, residual)
			}
			if cerr != nil {
				s.logger.Warn("cancel compensation unlock failed, recording for manual reconciliation",
					zap.String("orderId", orderID), zap.Error(cerr))
				s.recordCompensationFailure(orderID, userID, contractID, proRatedLocked, cerr)
			}
		}
	}

	s.books.Get(order.MarketID).Remove(orderID)

	order.Status = types.OrderCancelled
	order.UpdatedAt = s.nowTime()
	if err := s.store.UpdateOrder(order); err != nil {
		return types.Order{}, types.WrapError(types.ErrStore, "persist cancelled order", err)
	}
	return order, nil
}
