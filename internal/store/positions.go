package store

import (
	"encoding/json"

	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// PutPosition upserts a position row and maintains the
// (userId, marketId, side) uniqueness index for non-archived positions.
func (s *Store) PutPosition(p types.Position) error {
	tx := s.NewTx()
	defer tx.Close()
	if err := s.putPositionTx(tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) putPositionTx(tx *Tx, p types.Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return storeErr("marshal position", err)
	}
	if err := tx.set(keyPosition(p.PositionID), data); err != nil {
		return err
	}
	idxKey := keyPositionIdx(p.UserID, p.MarketID, string(p.Side))
	if p.IsArchived {
		return tx.delete(idxKey)
	}
	return tx.set(idxKey, []byte(p.PositionID))
}

// GetPosition fetches a position by id.
func (s *Store) GetPosition(positionID string) (types.Position, bool, error) {
	data, err := s.get(keyPosition(positionID))
	if err != nil {
		return types.Position{}, false, err
	}
	if data == nil {
		return types.Position{}, false, nil
	}
	var p types.Position
	if err := json.Unmarshal(data, &p); err != nil {
		return types.Position{}, false, storeErr("unmarshal position", err)
	}
	return p, true, nil
}

// GetActivePosition fetches the non-archived position for
// (userId, marketId, side), per the uniqueness invariant of spec §3.
func (s *Store) GetActivePosition(userID, marketID string, side types.Side) (types.Position, bool, error) {
	idxVal, err := s.get(keyPositionIdx(userID, marketID, string(side)))
	if err != nil {
		return types.Position{}, false, err
	}
	if idxVal == nil {
		return types.Position{}, false, nil
	}
	return s.GetPosition(string(idxVal))
}

// ReducePosition atomically reduces a position's quantity and
// locked-quantity together, archiving it once quantity reaches zero
// (spec §4.2). deltaQty and deltaLocked are subtracted from the current
// values.
func (s *Store) ReducePosition(positionID string, deltaQty, deltaLocked money.Decimal) (types.Position, error) {
	pos, ok, err := s.GetPosition(positionID)
	if err != nil {
		return types.Position{}, err
	}
	if !ok {
		return types.Position{}, types.NewError(types.ErrNoPosition, "position not found: "+positionID)
	}

	pos.Quantity = pos.Quantity.Sub(deltaQty)
	pos.LockedQuantity = pos.LockedQuantity.Sub(deltaLocked)
	if pos.Quantity.IsZero() {
		pos.IsArchived = true
		pos.LockedQuantity = money.Zero
	}
	if !pos.Valid() {
		return types.Position{}, types.NewError(types.ErrFatal, "position invariant violated after reduce: "+positionID)
	}

	tx := s.NewTx()
	defer tx.Close()
	if err := s.putPositionTx(tx, pos); err != nil {
		return types.Position{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Position{}, err
	}
	return pos, nil
}

// IncreasePosition atomically increases a position's quantity (creating
// the row if absent) with weighted-average cost basis updated, used by
// settlement when a buyer receives shares (spec §4.8).
func (s *Store) IncreasePosition(userID, marketID string, side types.Side, qty, price money.Decimal, idGen func() string) error {
	existing, ok, err := s.GetActivePosition(userID, marketID, side)
	if err != nil {
		return err
	}

	if !ok {
		p := types.Position{
			PositionID:   idGen(),
			UserID:       userID,
			MarketID:     marketID,
			Side:         side,
			Quantity:     qty,
			AvgCostBasis: price,
			LastUpdated:  existing.LastUpdated,
		}
		return s.PutPosition(p)
	}

	totalCost := existing.AvgCostBasis.Mul(existing.Quantity).Add(price.Mul(qty))
	newQty := existing.Quantity.Add(qty)
	existing.AvgCostBasis = totalCost.Div(newQty)
	existing.Quantity = newQty
	return s.PutPosition(existing)
}
