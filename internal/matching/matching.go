// Package matching implements the direct and cross matching algorithm for
// binary markets: price-time priority with a direct-before-cross tiebreak,
// self-match prevention, partial fills, and market-order handling.
//
// Matching is a pure, in-memory operation over a book.Book — it has no
// suspension points and cannot fail. An invariant violation here (negative
// remaining quantity, a trade with buyerId = sellerId) is a programming
// bug, not a recoverable error, so Process panics rather than returning one.
package matching

import (
	"sort"
	"time"

	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"

	"github.com/pebble-pm/pebble-exchange-core/internal/book"
)

// Engine runs the matching algorithm against a single market's book.
type Engine struct {
	idGen func() string
	now   func() time.Time
}

// New builds a matching engine. idGen mints trade ids; now is injected for
// deterministic tests (defaults to time.Now at call time if nil).
func New(idGen func() string, now func() time.Time) *Engine {
	return &Engine{idGen: idGen, now: now}
}

// Result is the outcome of processing one incoming order.
type Result struct {
	Order         types.Order   // incoming order's final state
	Trades        []types.Trade // trades produced, in execution order
	UpdatedMakers []types.Order // maker orders mutated by this match, for the caller to persist
}

type candidate struct {
	order          *types.Order
	effectivePrice money.Decimal
	isDirect       bool
}

// Process matches one incoming order against bk and returns the trades
// produced plus the incoming order's resulting status. If the order is a
// resting limit order, it has already been added to bk by the time Process
// returns; if it rested, Result.Order reflects that state.
func (e *Engine) Process(bk *book.Book, incoming types.Order) Result {
	direct := bk.DirectCandidates(incoming.Side, incoming.Action)
	cross := bk.CrossCandidates(incoming.Side, incoming.Action)

	if incoming.OrderType == types.OrderTypeMarket && len(direct)+len(cross) == 0 {
		incoming.Status = types.OrderRejected
		return Result{Order: incoming}
	}

	candidates := rank(incoming, direct, cross)

	var trades []types.Trade
	makerUpdates := make(map[string]*types.Order)

	for _, c := range candidates {
		if incoming.Remaining().IsZero() {
			break
		}
		if c.order.UserID == incoming.UserID {
			continue
		}
		if incoming.OrderType == types.OrderTypeLimit && !satisfiesLimit(incoming, c.effectivePrice) {
			break
		}

		matchQty := minDecimal(incoming.Remaining(), c.order.Remaining())
		if matchQty.IsNegative() {
			panic("matching: negative remaining quantity on order " + c.order.OrderID)
		}
		if matchQty.IsZero() {
			continue
		}

		trade := e.buildTrade(incoming, c, matchQty)
		if trade.BuyerID == trade.SellerID {
			panic("matching: trade " + trade.TradeID + " has buyerId = sellerId")
		}
		trades = append(trades, trade)

		incoming.FilledQuantity = incoming.FilledQuantity.Add(matchQty)
		c.order.FilledQuantity = c.order.FilledQuantity.Add(matchQty)
		if c.order.Remaining().IsZero() {
			c.order.Status = types.OrderFilled
			bk.RemoveIfFilled(c.order.OrderID)
		} else {
			c.order.Status = types.OrderPartial
		}
		makerUpdates[c.order.OrderID] = c.order
	}

	incoming = finalizeIncoming(bk, incoming)

	updated := make([]types.Order, 0, len(makerUpdates))
	for _, o := range makerUpdates {
		updated = append(updated, *o)
	}

	return Result{Order: incoming, Trades: trades, UpdatedMakers: updated}
}

func finalizeIncoming(bk *book.Book, incoming types.Order) types.Order {
	if incoming.Remaining().IsZero() {
		incoming.Status = types.OrderFilled
		return incoming
	}
	if incoming.OrderType == types.OrderTypeMarket {
		incoming.Status = types.OrderPartial
		return incoming
	}
	if incoming.FilledQuantity.IsZero() {
		incoming.Status = types.OrderOpen
	} else {
		incoming.Status = types.OrderPartial
	}
	bk.Add(incoming)
	return incoming
}

func satisfiesLimit(incoming types.Order, effectivePrice money.Decimal) bool {
	if incoming.Action == types.ActionBuy {
		return effectivePrice.Le(incoming.Price)
	}
	return effectivePrice.Ge(incoming.Price)
}

func minDecimal(a, b money.Decimal) money.Decimal {
	if a.Lt(b) {
		return a
	}
	return b
}

// rank builds the ranked candidate list: best effective price for the
// incoming order first, then createdAt ascending, then direct before
// cross on an exact tie (spec §4.4 step 3).
func rank(incoming types.Order, direct, cross []*types.Order) []candidate {
	candidates := make([]candidate, 0, len(direct)+len(cross))
	for _, o := range direct {
		candidates = append(candidates, candidate{order: o, effectivePrice: o.Price, isDirect: true})
	}
	for _, o := range cross {
		candidates = append(candidates, candidate{order: o, effectivePrice: money.One.Sub(o.Price), isDirect: false})
	}

	buyer := incoming.Action == types.ActionBuy
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.effectivePrice.Eq(b.effectivePrice) {
			if buyer {
				return a.effectivePrice.Lt(b.effectivePrice)
			}
			return a.effectivePrice.Gt(b.effectivePrice)
		}
		if !a.order.CreatedAt.Equal(b.order.CreatedAt) {
			return a.order.CreatedAt.Before(b.order.CreatedAt)
		}
		return a.isDirect && !b.isDirect
	})
	return candidates
}

// buildTrade produces the Trade for one matched candidate. The trade price
// is the maker's effective price; for a cross match it is translated into
// the YES leg's price regardless of which side the incoming order traded.
func (e *Engine) buildTrade(incoming types.Order, c candidate, qty money.Decimal) types.Trade {
	now := time.Now()
	if e.now != nil {
		now = e.now()
	}

	tradeType := types.TradeTypeShareTrade
	if !c.isDirect {
		tradeType = types.TradeTypeShareCreation
	}

	buyerOrder, sellerOrder := &incoming, c.order
	if incoming.Action != types.ActionBuy {
		buyerOrder, sellerOrder = c.order, &incoming
	}

	trade := types.Trade{
		TradeID:          e.idGen(),
		MarketID:         incoming.MarketID,
		Side:             incoming.Side,
		Quantity:         qty,
		BuyerOrderID:     buyerOrder.OrderID,
		SellerOrderID:    sellerOrder.OrderID,
		BuyerID:          buyerOrder.UserID,
		SellerID:         sellerOrder.UserID,
		TradeType:        tradeType,
		SettlementStatus: types.SettlementPending,
		CreatedAt:        now,
	}

	if c.isDirect {
		trade.Price = c.effectivePrice
		return trade
	}

	// Cross match: buyerId/sellerId are reassigned to the YES-side and
	// NO-side participants respectively (spec §4.4: "the YES-buyer fills
	// buyerId, the NO-buyer fills sellerId"), generalized by symmetry to
	// the dissolving SELL/SELL case.
	yesParty, noParty := &incoming, c.order
	if incoming.Side != types.SideYes {
		yesParty, noParty = c.order, &incoming
	}
	trade.BuyerID = yesParty.UserID
	trade.SellerID = noParty.UserID
	trade.BuyerOrderID = yesParty.OrderID
	trade.SellerOrderID = noParty.OrderID

	if incoming.Side == types.SideYes {
		trade.Price = c.effectivePrice
	} else {
		trade.Price = money.One.Sub(c.effectivePrice)
	}
	return trade
}
