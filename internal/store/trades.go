package store

import (
	"encoding/json"
	"time"

	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// CreateTrade atomically persists a new trade row plus its secondary
// indexes (by settlement status, by buyer order, by seller order).
func (s *Store) CreateTrade(t types.Trade) error {
	tx := s.NewTx()
	defer tx.Close()
	if err := s.createTradeTx(tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) createTradeTx(tx *Tx, t types.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return storeErr("marshal trade", err)
	}
	if err := tx.set(keyTrade(t.TradeID), data); err != nil {
		return err
	}
	if err := tx.set(keyTradeIdxStatus(string(t.SettlementStatus), t.TradeID), []byte(t.TradeID)); err != nil {
		return err
	}
	if err := tx.set(keyTradeIdxOrder(t.BuyerOrderID, t.TradeID), []byte(t.TradeID)); err != nil {
		return err
	}
	return tx.set(keyTradeIdxOrder(t.SellerOrderID, t.TradeID), []byte(t.TradeID))
}

// GetTrade fetches a trade by id.
func (s *Store) GetTrade(tradeID string) (types.Trade, bool, error) {
	data, err := s.get(keyTrade(tradeID))
	if err != nil {
		return types.Trade{}, false, err
	}
	if data == nil {
		return types.Trade{}, false, nil
	}
	var t types.Trade
	if err := json.Unmarshal(data, &t); err != nil {
		return types.Trade{}, false, storeErr("unmarshal trade", err)
	}
	return t, true, nil
}

// ListTradesByStatus returns every trade at the given settlement status.
func (s *Store) ListTradesByStatus(status types.SettlementStatus) ([]types.Trade, error) {
	var ids []string
	prefix := []byte(idxTradeStatus + string(status) + ":")
	if err := s.scanPrefix(prefix, func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	}); err != nil {
		return nil, err
	}
	return s.loadTrades(ids)
}

// ListTradesByOrder returns every trade touching the given order; the
// order saga's idempotent replay uses it to return a replayed order's
// trades.
func (s *Store) ListTradesByOrder(orderID string) ([]types.Trade, error) {
	var ids []string
	prefix := []byte(idxTradeOrder + orderID + ":")
	if err := s.scanPrefix(prefix, func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	}); err != nil {
		return nil, err
	}
	return s.loadTrades(ids)
}

// OrdersWithPendingOrSettlingTrades returns the set of distinct order ids
// (buyer or seller side) that have at least one trade in pending or
// settling settlement status — the rehydrator query of spec §4.2.
func (s *Store) OrdersWithPendingOrSettlingTrades() ([]string, error) {
	seen := make(map[string]struct{})
	for _, status := range []types.SettlementStatus{types.SettlementPending, types.SettlementSettling} {
		trades, err := s.ListTradesByStatus(status)
		if err != nil {
			return nil, err
		}
		for _, t := range trades {
			seen[t.BuyerOrderID] = struct{}{}
			seen[t.SellerOrderID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

// UpdateTradesSettlementStatus atomically transitions a batch of trades
// to a new settlement status, optionally stamping settledAt (spec §4.2
// "updating trade settlement status in bulk").
func (s *Store) UpdateTradesSettlementStatus(tradeIDs []string, status types.SettlementStatus, settledAt *time.Time) error {
	tx := s.NewTx()
	defer tx.Close()

	for _, id := range tradeIDs {
		t, ok, err := s.GetTrade(id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		oldStatus := t.SettlementStatus
		t.SettlementStatus = status
		if settledAt != nil {
			t.SettledAt = *settledAt
		}
		data, err := json.Marshal(t)
		if err != nil {
			return storeErr("marshal trade", err)
		}
		if err := tx.set(keyTrade(id), data); err != nil {
			return err
		}
		if oldStatus != status {
			if err := tx.delete(keyTradeIdxStatus(string(oldStatus), id)); err != nil {
				return err
			}
			if err := tx.set(keyTradeIdxStatus(string(status), id), []byte(id)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *Store) loadTrades(ids []string) ([]types.Trade, error) {
	out := make([]types.Trade, 0, len(ids))
	for _, id := range ids {
		t, ok, err := s.GetTrade(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}
