package store

import (
	"encoding/json"

	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// CreateBatch atomically persists a new settlement batch row and its
// batch-trade join rows (spec §4.8 "Batch assembly").
func (s *Store) CreateBatch(b types.SettlementBatch) error {
	tx := s.NewTx()
	defer tx.Close()

	data, err := json.Marshal(b)
	if err != nil {
		return storeErr("marshal batch", err)
	}
	if err := tx.set(keyBatch(b.BatchID), data); err != nil {
		return err
	}
	if err := tx.set(keyBatchIdxStatus(string(b.Status), b.BatchID), []byte(b.BatchID)); err != nil {
		return err
	}
	for _, tradeID := range b.TradeIDs {
		if err := tx.set(keyBatchTrade(b.BatchID, tradeID), []byte{1}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetBatch fetches a batch by id.
func (s *Store) GetBatch(batchID string) (types.SettlementBatch, bool, error) {
	data, err := s.get(keyBatch(batchID))
	if err != nil {
		return types.SettlementBatch{}, false, err
	}
	if data == nil {
		return types.SettlementBatch{}, false, nil
	}
	var b types.SettlementBatch
	if err := json.Unmarshal(data, &b); err != nil {
		return types.SettlementBatch{}, false, storeErr("unmarshal batch", err)
	}
	return b, true, nil
}

// UpdateBatch atomically rewrites a batch row and moves its status index.
func (s *Store) UpdateBatch(b types.SettlementBatch) error {
	prior, ok, err := s.GetBatch(b.BatchID)
	if err != nil {
		return err
	}

	tx := s.NewTx()
	defer tx.Close()

	data, err := json.Marshal(b)
	if err != nil {
		return storeErr("marshal batch", err)
	}
	if err := tx.set(keyBatch(b.BatchID), data); err != nil {
		return err
	}
	if ok && prior.Status != b.Status {
		if err := tx.delete(keyBatchIdxStatus(string(prior.Status), b.BatchID)); err != nil {
			return err
		}
		if err := tx.set(keyBatchIdxStatus(string(b.Status), b.BatchID), []byte(b.BatchID)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListBatchesByStatus returns every batch at the given status, used by
// recovery on startup (spec §4.8 "Recovery").
func (s *Store) ListBatchesByStatus(status types.BatchStatus) ([]types.SettlementBatch, error) {
	var ids []string
	prefix := []byte(idxBatchStatus + string(status) + ":")
	if err := s.scanPrefix(prefix, func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	}); err != nil {
		return nil, err
	}
	out := make([]types.SettlementBatch, 0, len(ids))
	for _, id := range ids {
		b, ok, err := s.GetBatch(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, nil
}
