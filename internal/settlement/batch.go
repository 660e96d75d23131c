package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// assembleBatch implements spec §4.8 "Batch assembly": drain up to
// maxBatchSize trades from the in-process queue and the store's pending
// trades, de-duplicated by tradeId, then atomically create the batch row
// with its trade associations.
func (e *Engine) assembleBatch(explicit []string) (types.SettlementBatch, bool, error) {
	seen := make(map[string]struct{}, len(explicit))
	var ids []string
	for _, id := range explicit {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		if len(ids) >= e.cfg.MaxBatchSize {
			break
		}
	}

	if len(ids) < e.cfg.MaxBatchSize {
		stored, err := e.store.ListTradesByStatus(types.SettlementPending)
		if err != nil {
			return types.SettlementBatch{}, false, err
		}
		for _, t := range stored {
			if _, dup := seen[t.TradeID]; dup {
				continue
			}
			seen[t.TradeID] = struct{}{}
			ids = append(ids, t.TradeID)
			if len(ids) >= e.cfg.MaxBatchSize {
				break
			}
		}
	}

	if len(ids) == 0 {
		return types.SettlementBatch{}, false, nil
	}

	batch := types.SettlementBatch{
		BatchID:   e.idGen(),
		TradeIDs:  ids,
		Status:    types.BatchPending,
		CreatedAt: e.nowTime(),
	}
	if err := e.store.CreateBatch(batch); err != nil {
		return types.SettlementBatch{}, false, err
	}
	if err := e.store.UpdateTradesSettlementStatus(ids, types.SettlementSettling, nil); err != nil {
		return types.SettlementBatch{}, false, err
	}
	return batch, true, nil
}

// runBatch drives one batch through propose -> accept -> execute and, on
// success, the local projection updates of spec §4.8 "On success".
func (e *Engine) runBatch(ctx context.Context, batch types.SettlementBatch) error {
	trades, err := e.loadTrades(batch.TradeIDs)
	if err != nil {
		return err
	}

	states, err := e.proposeStage(ctx, batch, trades)
	if err != nil {
		return err
	}

	if err := e.acceptStage(ctx, batch, trades, states); err != nil {
		return err
	}

	if err := e.executeStage(ctx, batch, trades, states); err != nil {
		return err
	}

	return e.finalizeSuccess(ctx, batch, trades)
}

func (e *Engine) loadTrades(tradeIDs []string) ([]types.Trade, error) {
	out := make([]types.Trade, 0, len(tradeIDs))
	for _, id := range tradeIDs {
		t, ok, err := e.store.GetTrade(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// handleBatchFailure implements spec §4.8 "Failure handling" and §7's
// settlement error policy: retry with exponential backoff up to
// maxRetries, then a permanent failure the operator must retryBatch.
func (e *Engine) handleBatchFailure(ctx context.Context, batch types.SettlementBatch, cause error) {
	e.logger.Warn("settlement batch failed", zap.String("batchId", batch.BatchID), zap.Error(cause))

	current, ok, err := e.store.GetBatch(batch.BatchID)
	if err != nil {
		e.logger.Error("reload batch for failure handling", zap.Error(err))
		return
	}
	if ok {
		batch = current
	}

	if batch.RetryCount < e.cfg.MaxRetries {
		e.retryBatchAfterDelay(ctx, batch, cause)
		return
	}

	batch.Status = types.BatchFailed
	batch.LastError = cause.Error()
	batch.ProcessedAt = e.nowTime()
	if err := e.store.UpdateBatch(batch); err != nil {
		e.logger.Error("persist permanently failed batch", zap.Error(err))
	}
	if err := e.store.UpdateTradesSettlementStatus(batch.TradeIDs, types.SettlementFailed, nil); err != nil {
		e.logger.Error("mark trades failed", zap.Error(err))
	}
}

func (e *Engine) retryBatchAfterDelay(ctx context.Context, batch types.SettlementBatch, cause error) {
	batch.RetryCount++
	batch.LastError = cause.Error()
	batch.Status = types.BatchPending
	if err := e.store.UpdateBatch(batch); err != nil {
		e.logger.Error("persist retry state", zap.Error(err))
	}
	if err := e.store.UpdateTradesSettlementStatus(batch.TradeIDs, types.SettlementPending, nil); err != nil {
		e.logger.Error("revert trades to pending for retry", zap.Error(err))
	}

	delay := backoffFor(batch.RetryCount)
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	for _, id := range batch.TradeIDs {
		e.Enqueue(id)
	}
}

// backoffFor implements min(1000*2^retryCount, 30000) ms.
func backoffFor(retryCount int) time.Duration {
	ms := 1000 * (1 << uint(retryCount))
	if ms > 30000 {
		ms = 30000
	}
	return time.Duration(ms) * time.Millisecond
}

// RetryBatch reverts a permanently failed batch to pending and re-queues
// its trades, per spec §4.8's operator-visible retryBatch(batchId).
func (e *Engine) RetryBatch(batchID string) error {
	b, ok, err := e.store.GetBatch(batchID)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewError(types.ErrNotFound, "batch not found: "+batchID)
	}
	if b.Status != types.BatchFailed {
		return types.NewError(types.ErrInvalidStatus, "only failed batches can be retried: "+batchID)
	}

	b.Status = types.BatchPending
	b.RetryCount = 0
	b.LastError = ""
	if err := e.store.UpdateBatch(b); err != nil {
		return err
	}
	if err := e.store.UpdateTradesSettlementStatus(b.TradeIDs, types.SettlementPending, nil); err != nil {
		return err
	}
	for _, id := range b.TradeIDs {
		e.Enqueue(id)
	}
	return nil
}
