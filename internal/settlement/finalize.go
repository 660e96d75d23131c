package settlement

import (
	"context"

	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// finalizeSuccess implements spec §4.8 "On success": mark trades settled,
// complete the batch, then update local account/position projections.
// Projection failures are logged, not fatal — the ledger is already the
// source of truth and the reconciler (C9) heals any resulting drift.
func (e *Engine) finalizeSuccess(ctx context.Context, batch types.SettlementBatch, trades []types.Trade) error {
	now := e.nowTime()
	ids := make([]string, len(trades))
	for i, t := range trades {
		ids[i] = t.TradeID
	}
	if err := e.store.UpdateTradesSettlementStatus(ids, types.SettlementSettled, &now); err != nil {
		return types.WrapError(types.ErrStore, "mark trades settled", err)
	}

	batch.Status = types.BatchCompleted
	batch.ProcessedAt = now
	if err := e.store.UpdateBatch(batch); err != nil {
		return types.WrapError(types.ErrStore, "complete batch", err)
	}

	for _, t := range trades {
		if err := e.applyProjections(t); err != nil {
			e.logger.Error("projection update after settlement failed",
				zap.String("tradeId", t.TradeID), zap.Error(err))
		}
	}
	return nil
}

// applyProjections implements the projection half of spec §4.8 "On
// success": debit/credit balances and update both sides' positions.
func (e *Engine) applyProjections(t types.Trade) error {
	cost := t.Price.Mul(t.Quantity)

	if buyerAcct, ok, err := e.store.GetAccount(t.BuyerID); err != nil {
		return err
	} else if ok {
		buyerAcct.LockedBalance = buyerAcct.LockedBalance.Sub(cost)
		buyerAcct.LastUpdated = e.nowTime()
		if err := e.store.PutAccount(buyerAcct); err != nil {
			return err
		}
	}

	sellerAcct, ok, err := e.store.GetAccount(t.SellerID)
	if err != nil {
		return err
	}
	if ok {
		if t.TradeType == types.TradeTypeShareCreation {
			noCost := money.One.Sub(t.Price).Mul(t.Quantity)
			sellerAcct.LockedBalance = sellerAcct.LockedBalance.Sub(noCost)
		} else {
			sellerAcct.AvailableBalance = sellerAcct.AvailableBalance.Add(cost)
		}
		sellerAcct.LastUpdated = e.nowTime()
		if err := e.store.PutAccount(sellerAcct); err != nil {
			return err
		}
	}

	buyerSide, sellerSide := t.Side, t.Side
	if t.TradeType == types.TradeTypeShareCreation {
		buyerSide, sellerSide = types.SideYes, types.SideNo
	}

	if err := e.store.IncreasePosition(t.BuyerID, t.MarketID, buyerSide, t.Quantity, t.Price, e.idGen); err != nil {
		return err
	}

	if t.TradeType == types.TradeTypeShareCreation {
		noPrice := money.One.Sub(t.Price)
		return e.store.IncreasePosition(t.SellerID, t.MarketID, sellerSide, t.Quantity, noPrice, e.idGen)
	}

	pos, ok, err := e.store.GetActivePosition(t.SellerID, t.MarketID, sellerSide)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewError(types.ErrFatal, "seller position missing at settlement for trade "+t.TradeID)
	}
	_, err = e.store.ReducePosition(pos.PositionID, t.Quantity, t.Quantity)
	return err
}

// Recover implements spec §4.8 "Recovery": batches left in an
// intermediate protocol stage when the process last stopped have
// indeterminate ledger state and cannot be safely resumed, so they and
// their trades move to failed. Batches still pending have their trades
// re-queued for the next tick.
func (e *Engine) Recover(ctx context.Context) error {
	for _, status := range []types.BatchStatus{types.BatchProposing, types.BatchAccepting, types.BatchExecuting} {
		batches, err := e.store.ListBatchesByStatus(status)
		if err != nil {
			return err
		}
		for _, b := range batches {
			b.Status = types.BatchFailed
			b.LastError = "incomplete batch recovered"
			b.ProcessedAt = e.nowTime()
			if err := e.store.UpdateBatch(b); err != nil {
				return err
			}
			if err := e.store.UpdateTradesSettlementStatus(b.TradeIDs, types.SettlementFailed, nil); err != nil {
				return err
			}
		}
	}

	pendingBatches, err := e.store.ListBatchesByStatus(types.BatchPending)
	if err != nil {
		return err
	}
	for _, b := range pendingBatches {
		for _, id := range b.TradeIDs {
			e.Enqueue(id)
		}
	}
	return nil
}
