// Package book maintains the in-memory, per-market four-sided limit order
// book that the matching engine consults and mutates: yesBids, yesAsks,
// noBids, noAsks, each kept in price-time priority, plus an index from
// orderId to its current entry for O(1) lookup; removal scans the order's
// side slice.
//
// Unlike the teacher's market.Book (which mirrors a remote CLOB via REST
// snapshots and WebSocket deltas), this Book is the book of record: orders
// are added, updated, and removed in place by the matching engine, never
// replaced wholesale from an external feed.
package book

import (
	"sort"
	"sync"

	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// Snapshot is a point-in-time view of all four sides of a market's book.
type Snapshot struct {
	YesBids []LevelAgg
	YesAsks []LevelAgg
	NoBids  []LevelAgg
	NoAsks  []LevelAgg
}

// LevelAgg is one price-level aggregate: price, remaining quantity across
// all resting orders at that price, and the count of such orders.
type LevelAgg struct {
	Price        float64
	RemainingQty float64
	OrderCount   int
}

// Book is the four-sided order book for one binary market. It is
// concurrency-safe (RWMutex protected); the matching engine and order
// saga run under the single-writer discipline described at the process
// level, but the mutex guards against the reconciler or API layer reading
// a snapshot mid-mutation.
type Book struct {
	mu       sync.RWMutex
	marketID string

	yesBids []*types.Order // BUY YES, price desc, then createdAt asc
	yesAsks []*types.Order // SELL YES, price asc, then createdAt asc
	noBids  []*types.Order // BUY NO, price desc, then createdAt asc
	noAsks  []*types.Order // SELL NO, price asc, then createdAt asc

	byID map[string]*types.Order
}

// New creates an empty book for a market.
func New(marketID string) *Book {
	return &Book{
		marketID: marketID,
		byID:     make(map[string]*types.Order),
	}
}

// MarketID returns the market this book belongs to.
func (b *Book) MarketID() string {
	return b.marketID
}

// sideOf returns a pointer to the slice field holding orders of the given
// (side, action) pair.
func (b *Book) sideOf(side types.Side, action types.Action) *[]*types.Order {
	switch {
	case side == types.SideYes && action == types.ActionBuy:
		return &b.yesBids
	case side == types.SideYes && action == types.ActionSell:
		return &b.yesAsks
	case side == types.SideNo && action == types.ActionBuy:
		return &b.noBids
	default:
		return &b.noAsks
	}
}

// Add inserts a resting order into the correct side, maintaining price-time
// order. The caller retains the returned pointer and mutates it only via
// Update/Remove — direct field mutation bypasses the byID index's
// invariants.
func (b *Book) Add(o types.Order) *types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := o
	slicePtr := b.sideOf(o.Side, o.Action)
	descending := o.Action == types.ActionBuy

	idx := sort.Search(len(*slicePtr), func(i int) bool {
		cur := (*slicePtr)[i]
		if cur.Price.Eq(entry.Price) {
			return cur.CreatedAt.After(entry.CreatedAt) || cur.CreatedAt.Equal(entry.CreatedAt)
		}
		if descending {
			return cur.Price.Lt(entry.Price)
		}
		return cur.Price.Gt(entry.Price)
	})

	*slicePtr = append(*slicePtr, nil)
	copy((*slicePtr)[idx+1:], (*slicePtr)[idx:])
	(*slicePtr)[idx] = &entry

	b.byID[entry.OrderID] = &entry
	return &entry
}

// Get returns the current resting entry for an order id.
func (b *Book) Get(orderID string) (*types.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.byID[orderID]
	return o, ok
}

// Remove deletes an order from its side and the index. It is a no-op if
// the order is not resting.
func (b *Book) Remove(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(orderID)
}

func (b *Book) removeLocked(orderID string) {
	entry, ok := b.byID[orderID]
	if !ok {
		return
	}
	slicePtr := b.sideOf(entry.Side, entry.Action)
	for i, o := range *slicePtr {
		if o.OrderID == orderID {
			*slicePtr = append((*slicePtr)[:i], (*slicePtr)[i+1:]...)
			break
		}
	}
	delete(b.byID, orderID)
}

// RemoveIfFilled removes an order once its remaining quantity hits zero;
// otherwise it is left resting with its mutated FilledQuantity in place.
func (b *Book) RemoveIfFilled(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.byID[orderID]
	if ok && entry.Remaining().IsZero() {
		b.removeLocked(orderID)
	}
}

// DirectCandidates returns the opposite-action book on the SAME side as
// (side, action) — the direct-match counter-book — already ordered best
// price first from the incoming order's point of view (spec §4.4 direct
// matching: YES bids match YES asks, NO bids match NO asks).
func (b *Book) DirectCandidates(side types.Side, action types.Action) []*types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	opposite := types.ActionBuy
	if action == types.ActionBuy {
		opposite = types.ActionSell
	}
	return append([]*types.Order(nil), *b.sideOf(side, opposite)...)
}

// CrossCandidates returns the same-action book on the OPPOSITE side —
// the cross-match counter-book — already ordered so that the candidate
// with the best raw price appears first, which (since effective price for
// a cross match is 1 - candidate.price) is also the candidate with the
// best effective price from the incoming order's point of view.
func (b *Book) CrossCandidates(side types.Side, action types.Action) []*types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*types.Order(nil), *b.sideOf(side.Opposite(), action)...)
}

// Snapshot returns price-level aggregates for all four sides, excluding
// fully-filled entries (there should be none resting, since Add/Remove
// keep filled orders off the book, but the filter is defensive).
func (b *Book) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		YesBids: aggregate(b.yesBids),
		YesAsks: aggregate(b.yesAsks),
		NoBids:  aggregate(b.noBids),
		NoAsks:  aggregate(b.noAsks),
	}
}

func aggregate(orders []*types.Order) []LevelAgg {
	var levels []LevelAgg
	for _, o := range orders {
		remaining := o.Remaining()
		if remaining.IsZero() {
			continue
		}
		price := o.Price.Float64()
		qty := remaining.Float64()
		if len(levels) > 0 && levels[len(levels)-1].Price == price {
			levels[len(levels)-1].RemainingQty += qty
			levels[len(levels)-1].OrderCount++
			continue
		}
		levels = append(levels, LevelAgg{Price: price, RemainingQty: qty, OrderCount: 1})
	}
	return levels
}
