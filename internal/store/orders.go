package store

import (
	"encoding/json"

	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// CreateOrder atomically persists a new order row plus its secondary
// indexes (by user, by market, by status, and by idempotency key when
// present), per spec §4.7 step 4.
func (s *Store) CreateOrder(o types.Order) error {
	tx := s.NewTx()
	defer tx.Close()

	data, err := json.Marshal(o)
	if err != nil {
		return storeErr("marshal order", err)
	}
	if err := tx.set(keyOrder(o.OrderID), data); err != nil {
		return err
	}
	if err := tx.set(keyOrderIdxUser(o.UserID, o.OrderID), []byte(o.OrderID)); err != nil {
		return err
	}
	if err := tx.set(keyOrderIdxMarket(o.MarketID, o.OrderID), []byte(o.OrderID)); err != nil {
		return err
	}
	if err := tx.set(keyOrderIdxStatus(string(o.Status), o.OrderID), []byte(o.OrderID)); err != nil {
		return err
	}
	if o.IdempotencyKey != "" {
		if err := tx.set(keyOrderIdxIdempotency(o.UserID, o.IdempotencyKey), []byte(o.OrderID)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetOrder fetches an order by id.
func (s *Store) GetOrder(orderID string) (types.Order, bool, error) {
	data, err := s.get(keyOrder(orderID))
	if err != nil {
		return types.Order{}, false, err
	}
	if data == nil {
		return types.Order{}, false, nil
	}
	var o types.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return types.Order{}, false, storeErr("unmarshal order", err)
	}
	return o, true, nil
}

// GetOrderByIdempotencyKey implements the idempotency check of spec
// §4.7 step 1: (userId, idempotencyKey) -> orderId -> Order.
func (s *Store) GetOrderByIdempotencyKey(userID, idemKey string) (types.Order, bool, error) {
	idxVal, err := s.get(keyOrderIdxIdempotency(userID, idemKey))
	if err != nil {
		return types.Order{}, false, err
	}
	if idxVal == nil {
		return types.Order{}, false, nil
	}
	return s.GetOrder(string(idxVal))
}

// UpdateOrder atomically rewrites an order row and moves its status
// index entry if the status changed.
func (s *Store) UpdateOrder(o types.Order) error {
	prior, ok, err := s.GetOrder(o.OrderID)
	if err != nil {
		return err
	}

	tx := s.NewTx()
	defer tx.Close()

	data, err := json.Marshal(o)
	if err != nil {
		return storeErr("marshal order", err)
	}
	if err := tx.set(keyOrder(o.OrderID), data); err != nil {
		return err
	}
	if ok && prior.Status != o.Status {
		if err := tx.delete(keyOrderIdxStatus(string(prior.Status), o.OrderID)); err != nil {
			return err
		}
		if err := tx.set(keyOrderIdxStatus(string(o.Status), o.OrderID), []byte(o.OrderID)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListOrdersByMarket returns every order for a market, used by the
// matching engine's orderbook rehydration collaborator (spec §4.3).
func (s *Store) ListOrdersByMarket(marketID string) ([]types.Order, error) {
	var ids []string
	prefix := []byte(idxOrderMarket + marketID + ":")
	if err := s.scanPrefix(prefix, func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	}); err != nil {
		return nil, err
	}
	return s.loadOrders(ids)
}

// ListOrdersByUser returns every order placed by a user.
func (s *Store) ListOrdersByUser(userID string) ([]types.Order, error) {
	var ids []string
	prefix := []byte(idxOrderUser + userID + ":")
	if err := s.scanPrefix(prefix, func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	}); err != nil {
		return nil, err
	}
	return s.loadOrders(ids)
}

// CountOpenOrdersByUser counts orders in pending/open/partial status for
// a user, used to enforce maxPendingOrdersPerUser (spec §4.7 step 2).
func (s *Store) CountOpenOrdersByUser(userID string) (int, error) {
	orders, err := s.ListOrdersByUser(userID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, o := range orders {
		if !o.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (s *Store) loadOrders(ids []string) ([]types.Order, error) {
	out := make([]types.Order, 0, len(ids))
	for _, id := range ids {
		o, ok, err := s.GetOrder(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, o)
		}
	}
	return out, nil
}
