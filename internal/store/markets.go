package store

import (
	"encoding/json"

	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// PutMarket upserts a market row.
func (s *Store) PutMarket(m types.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return storeErr("marshal market", err)
	}
	return s.setDirect(keyMarket(m.MarketID), data)
}

// GetMarket fetches a market by id. Returns (zero, false, nil) if absent.
func (s *Store) GetMarket(marketID string) (types.Market, bool, error) {
	data, err := s.get(keyMarket(marketID))
	if err != nil {
		return types.Market{}, false, err
	}
	if data == nil {
		return types.Market{}, false, nil
	}
	var m types.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return types.Market{}, false, storeErr("unmarshal market", err)
	}
	return m, true, nil
}

// ListMarkets returns every market in the store.
func (s *Store) ListMarkets() ([]types.Market, error) {
	var out []types.Market
	err := s.scanPrefix([]byte(rowMarket), func(_, value []byte) error {
		var m types.Market
		if err := json.Unmarshal(value, &m); err != nil {
			return storeErr("unmarshal market", err)
		}
		out = append(out, m)
		return nil
	})
	return out, err
}
