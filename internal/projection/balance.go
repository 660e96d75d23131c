package projection

import (
	"fmt"

	"github.com/pebble-pm/pebble-exchange-core/internal/ledger"
	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// applyAccountEvent handles the BalanceProjection half of spec §4.6. A
// Created(TradingAccount, cid, {owner, availableBalance, lockedBalance})
// event replaces the account row for owner with the new values and new
// contract id, capturing UTXO truth: every mutation produces a new
// contract version, and the old row is simply gone (spec §4.6).
//
// Archived(TradingAccount) events are no-ops: the superseding Created
// event for the rotated contract already replaced the row, so there is
// nothing further to apply.
func (f *Folder) applyAccountEvent(ev ledger.Event) error {
	if ev.Type != ledger.EventCreated {
		return nil
	}

	owner := stringField(ev.Payload, "owner")
	if owner == "" {
		return fmt.Errorf("projection: TradingAccount event missing owner")
	}

	avail, err := parseDecimalField(ev.Payload, "availableBalance")
	if err != nil {
		return err
	}
	locked, err := parseDecimalField(ev.Payload, "lockedBalance")
	if err != nil {
		return err
	}

	account := types.Account{
		UserID:            owner,
		PartyID:           owner,
		AccountContractID: ev.ContractID,
		AvailableBalance:  avail,
		LockedBalance:     locked,
		LastUpdated:       ev.Timestamp,
	}
	if !account.Valid() {
		return fmt.Errorf("projection: account invariant violated for %s", owner)
	}
	return f.store.PutAccount(account)
}

func parseDecimalField(payload map[string]any, key string) (money.Decimal, error) {
	raw, ok := payload[key]
	if !ok {
		return money.Zero, nil
	}
	s, ok := raw.(string)
	if !ok {
		return money.Decimal{}, fmt.Errorf("projection: field %q is not a decimal string", key)
	}
	return money.Parse(s)
}
