package store

import (
	"encoding/json"

	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// AppendSettlementEvent writes a new append-only settlement audit row plus
// its settlement-id index entry. Settlement events are never mutated or
// deleted once written (spec §3).
func (s *Store) AppendSettlementEvent(e types.SettlementEvent) error {
	tx := s.NewTx()
	defer tx.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return storeErr("marshal settlement event", err)
	}
	if err := tx.set(keyEvent(e.ID), data); err != nil {
		return err
	}
	if err := tx.set(keyEventIdxSettlement(e.SettlementID, e.ID), []byte(e.ID)); err != nil {
		return err
	}
	return tx.Commit()
}

// ListSettlementEvents returns every event recorded for a settlement id,
// ordered by event id (the index key is settlementID:eventID), which is
// not necessarily the order they were appended.
func (s *Store) ListSettlementEvents(settlementID string) ([]types.SettlementEvent, error) {
	var ids []string
	prefix := []byte(idxEventSettlement + settlementID + ":")
	if err := s.scanPrefix(prefix, func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	}); err != nil {
		return nil, err
	}
	out := make([]types.SettlementEvent, 0, len(ids))
	for _, id := range ids {
		data, err := s.get(keyEvent(id))
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue
		}
		var e types.SettlementEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, storeErr("unmarshal settlement event", err)
		}
		out = append(out, e)
	}
	return out, nil
}
