package orderservice

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// reqValidator enforces PlaceOrderRequest's struct tags. A single
// *validator.Validate is safe for concurrent use and caches its
// reflection work per type, so one package-level instance serves every
// request.
var reqValidator = validator.New()

// PlaceOrderRequest is the inbound order placement request.
type PlaceOrderRequest struct {
	MarketID       string          `validate:"required"`
	Side           types.Side      `validate:"required,oneof=yes no"`
	Action         types.Action    `validate:"required,oneof=buy sell"`
	OrderType      types.OrderType `validate:"required,oneof=limit market"`
	Price          money.Decimal
	Quantity       money.Decimal
	IdempotencyKey string
}

// requiredFunds computes the worst-case reservation for a buy order
// (spec §4.7): limit orders lock price*quantity; market buys lock
// 0.99*quantity as a worst-case cap, since the fill price isn't known in
// advance. This cap can exceed a user's actual eventual cost, and
// validation below checks balance against this same cap — a market buy a
// user can afford in expectation can still be rejected against the worst
// case. That is specified behavior (spec §4.7/§9), not a bug.
func requiredFunds(req PlaceOrderRequest) money.Decimal {
	if req.OrderType == types.OrderTypeMarket {
		return money.MustParse("0.99").Mul(req.Quantity)
	}
	return req.Price.Mul(req.Quantity)
}

// validate runs the business-rule checks of spec §4.7 step 2. It returns
// a *types.KindError with the exact taxonomy kind on failure; the order
// is never persisted when validate fails.
func (s *Service) validate(ctx context.Context, userID string, req PlaceOrderRequest) (types.Market, types.Account, error) {
	if err := reqValidator.Struct(req); err != nil {
		return types.Market{}, types.Account{}, types.NewError(types.ErrInvalidRequest, err.Error())
	}
	if req.OrderType == types.OrderTypeLimit {
		if req.Price.Lt(money.MustParse("0.01")) || req.Price.Gt(money.MustParse("0.99")) {
			return types.Market{}, types.Account{}, types.NewError(types.ErrInvalidPrice, "price must be in [0.01, 0.99]")
		}
	}
	if !req.Quantity.Gt(money.Zero) || req.Quantity.Gt(s.cfg.MaxQuantity) {
		return types.Market{}, types.Account{}, types.NewError(types.ErrInvalidQuantity, "quantity must be in (0, maxQuantity]")
	}

	market, ok, err := s.store.GetMarket(req.MarketID)
	if err != nil {
		return types.Market{}, types.Account{}, types.WrapError(types.ErrStore, "load market", err)
	}
	if !ok {
		return types.Market{}, types.Account{}, types.NewError(types.ErrMarketNotFound, "market not found: "+req.MarketID)
	}
	if market.Status != types.MarketOpen {
		return types.Market{}, types.Account{}, types.NewError(types.ErrMarketNotOpen, "market not open: "+req.MarketID)
	}
	if err := s.verifyMarketOpenOnchain(ctx, market); err != nil {
		return types.Market{}, types.Account{}, err
	}

	account, ok, err := s.store.GetAccount(userID)
	if err != nil {
		return types.Market{}, types.Account{}, types.WrapError(types.ErrStore, "load account", err)
	}
	if !ok {
		return types.Market{}, types.Account{}, types.NewError(types.ErrAccountNotFound, "account not found: "+userID)
	}

	count, err := s.store.CountOpenOrdersByUser(userID)
	if err != nil {
		return types.Market{}, types.Account{}, types.WrapError(types.ErrStore, "count open orders", err)
	}
	if count >= s.cfg.MaxPendingOrdersPerUser {
		return types.Market{}, types.Account{}, types.NewError(types.ErrMaxPendingOrders, "max pending orders reached")
	}

	if req.Action == types.ActionBuy {
		if account.AvailableBalance.Lt(requiredFunds(req)) {
			return types.Market{}, types.Account{}, types.NewError(types.ErrInsufficientBalance, "insufficient available balance")
		}
		return market, account, nil
	}

	pos, ok, err := s.store.GetActivePosition(userID, req.MarketID, req.Side)
	if err != nil {
		return types.Market{}, types.Account{}, types.WrapError(types.ErrStore, "load position", err)
	}
	if !ok {
		return types.Market{}, types.Account{}, types.NewError(types.ErrNoPosition, "no position to sell")
	}
	if pos.AvailableQuantity().Lt(req.Quantity) {
		return types.Market{}, types.Account{}, types.NewError(types.ErrInsufficientPosition, "insufficient unlocked position quantity")
	}
	return market, account, nil
}

// verifyMarketOpenOnchain fails closed: any error querying the ledger is
// treated as a verification failure, not as "assume open" (spec §4.7
// step 2: "fail-closed on verification error").
func (s *Service) verifyMarketOpenOnchain(ctx context.Context, market types.Market) error {
	if market.LedgerContractID == "" {
		return nil
	}
	contract, err := s.ledger.GetContract(ctx, market.LedgerContractID, s.cfg.PebbleAdminParty)
	if err != nil {
		return types.WrapError(types.ErrMarketVerificationFail, "on-chain market verification failed", err)
	}
	if contract == nil {
		return types.NewError(types.ErrMarketVerificationFail, "market contract not found on-chain")
	}
	if status, ok := contract.Payload["status"].(string); ok && status != "" && status != string(types.MarketOpen) {
		return types.NewError(types.ErrMarketNotOpenOnchain, fmt.Sprintf("market not open on-chain: status=%s", status))
	}
	return nil
}
