package store

import (
	"encoding/json"

	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// AppendReconciliationRecord writes a new append-only reconciliation audit
// row, produced each time the reconciler compares a projection against the
// ledger (spec §4.9).
func (s *Store) AppendReconciliationRecord(r types.ReconciliationRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return storeErr("marshal reconciliation record", err)
	}
	return s.setDirect(keyRecon(r.ID), data)
}

// ListReconciliationRecordsByUser returns every reconciliation record for a
// user. Reconciliation rows are few enough per user that a full scan
// filtered in-process is acceptable; no secondary index is maintained.
func (s *Store) ListReconciliationRecordsByUser(userID string) ([]types.ReconciliationRecord, error) {
	var out []types.ReconciliationRecord
	if err := s.scanPrefix([]byte(rowRecon), func(_, value []byte) error {
		var r types.ReconciliationRecord
		if err := json.Unmarshal(value, &r); err != nil {
			return storeErr("unmarshal reconciliation record", err)
		}
		if r.UserID == userID {
			out = append(out, r)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}
