package store

import (
	"encoding/json"
	"time"

	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// AppendCompensationFailure writes a new compensation-failure audit row,
// recorded when a compensating unlock fails during the order saga (spec
// §7).
func (s *Store) AppendCompensationFailure(c types.CompensationFailure) error {
	data, err := json.Marshal(c)
	if err != nil {
		return storeErr("marshal compensation failure", err)
	}
	return s.setDirect(keyCompFail(c.ID), data)
}

// GetCompensationFailure fetches a compensation failure by id.
func (s *Store) GetCompensationFailure(id string) (types.CompensationFailure, bool, error) {
	data, err := s.get(keyCompFail(id))
	if err != nil {
		return types.CompensationFailure{}, false, err
	}
	if data == nil {
		return types.CompensationFailure{}, false, nil
	}
	var c types.CompensationFailure
	if err := json.Unmarshal(data, &c); err != nil {
		return types.CompensationFailure{}, false, storeErr("unmarshal compensation failure", err)
	}
	return c, true, nil
}

// ResolveCompensationFailure marks a compensation failure resolved, for use
// by an operator once the stuck lock has been cleared manually.
func (s *Store) ResolveCompensationFailure(id, resolvedBy string, resolvedAt time.Time) error {
	c, ok, err := s.GetCompensationFailure(id)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewError(types.ErrNotFound, "compensation failure not found: "+id)
	}
	c.Resolved = true
	c.ResolvedBy = resolvedBy
	c.ResolvedAt = resolvedAt
	data, err := json.Marshal(c)
	if err != nil {
		return storeErr("marshal compensation failure", err)
	}
	return s.setDirect(keyCompFail(id), data)
}

// ListUnresolvedCompensationFailures returns every compensation failure
// not yet marked resolved.
func (s *Store) ListUnresolvedCompensationFailures() ([]types.CompensationFailure, error) {
	var out []types.CompensationFailure
	if err := s.scanPrefix([]byte(rowCompFail), func(_, value []byte) error {
		var c types.CompensationFailure
		if err := json.Unmarshal(value, &c); err != nil {
			return storeErr("unmarshal compensation failure", err)
		}
		if !c.Resolved {
			out = append(out, c)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}
