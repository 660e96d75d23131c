package projection

import (
	"fmt"

	"github.com/pebble-pm/pebble-exchange-core/internal/ledger"
	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// applyPositionEvent handles the PositionProjection half of spec §4.6.
func (f *Folder) applyPositionEvent(ev ledger.Event) error {
	userID := firstNonEmpty(stringField(ev.Payload, "userId"), stringField(ev.Payload, "owner"))
	marketID := stringField(ev.Payload, "marketId")
	side := types.Side(ledger.InternalSide(stringField(ev.Payload, "side")))
	if userID == "" || marketID == "" || side == "" {
		return fmt.Errorf("projection: Position event missing userId/marketId/side")
	}

	existing, found, err := f.store.GetActivePosition(userID, marketID, side)
	if err != nil {
		return err
	}

	switch ev.Type {
	case ledger.EventCreated:
		return f.replacePosition(ev, userID, marketID, side, existing, found)
	case ledger.EventArchived:
		return f.archivePositionIfZero(ev, existing, found)
	default:
		return nil
	}
}

func (f *Folder) replacePosition(ev ledger.Event, userID, marketID string, side types.Side, existing types.Position, found bool) error {
	qty, err := parseDecimalField(ev.Payload, "quantity")
	if err != nil {
		return err
	}
	locked, err := parseDecimalField(ev.Payload, "lockedQuantity")
	if err != nil {
		return err
	}
	costBasis, err := parseDecimalField(ev.Payload, "avgCostBasis")
	if err != nil {
		return err
	}

	positionID := existing.PositionID
	if !found {
		positionID = f.idGen()
	}

	p := types.Position{
		PositionID:     positionID,
		UserID:         userID,
		MarketID:       marketID,
		Side:           side,
		Quantity:       qty,
		LockedQuantity: locked,
		AvgCostBasis:   costBasis,
		IsArchived:     qty.IsZero(),
		LastUpdated:    ev.Timestamp,
	}
	if p.IsArchived {
		p.LockedQuantity = money.Zero
	}
	if !p.Valid() {
		return fmt.Errorf("projection: position invariant violated for %s/%s/%s", userID, marketID, side)
	}
	return f.store.PutPosition(p)
}

// archivePositionIfZero implements the spec §4.6 rule that a position
// archive event sets isArchived = true only if quantity = 0. If the
// event payload carries a quantity, that value governs; otherwise the
// already-stored quantity does, so a stale or unknown archive event for
// a position that still holds shares is correctly a no-op.
func (f *Folder) archivePositionIfZero(ev ledger.Event, existing types.Position, found bool) error {
	if !found {
		return nil
	}

	qty := existing.Quantity
	if _, ok := ev.Payload["quantity"]; ok {
		parsed, err := parseDecimalField(ev.Payload, "quantity")
		if err != nil {
			return err
		}
		qty = parsed
	}
	if !qty.IsZero() {
		return nil
	}

	existing.Quantity = money.Zero
	existing.LockedQuantity = money.Zero
	existing.IsArchived = true
	existing.LastUpdated = ev.Timestamp
	return f.store.PutPosition(existing)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
