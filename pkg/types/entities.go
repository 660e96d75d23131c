package types

import (
	"time"

	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
)

// Market is a binary (YES/NO) prediction market (spec §3).
//
// Invariants: YesPrice+NoPrice = 1; 0 ≤ YesPrice ≤ 1; Status transitions
// open → closed → resolved only; Outcome is set iff Status is resolved.
type Market struct {
	MarketID          string
	Question          string
	Description       string
	ResolutionTime    time.Time
	Status            MarketStatus
	Outcome           Outcome
	YesPrice          money.Decimal
	NoPrice           money.Decimal
	Volume24h         money.Decimal
	TotalVolume       money.Decimal
	OpenInterest      money.Decimal
	LedgerContractID  string
	Version           int64
	LastUpdated       time.Time
}

// Valid checks the market's own invariants (does not check transitions).
func (m Market) Valid() bool {
	if !m.YesPrice.Add(m.NoPrice).Eq(money.One) {
		return false
	}
	if m.YesPrice.Lt(money.Zero) || m.YesPrice.Gt(money.One) {
		return false
	}
	if (m.Outcome != OutcomeNone) != (m.Status == MarketResolved) {
		return false
	}
	return true
}

// Account is a user's on-ledger trading account mirror (spec §3). The
// ledger uses a UTXO model: ContractID rotates every time LockFunds/
// UnlockFunds exercises the contract.
type Account struct {
	UserID            string
	PartyID           string
	AccountContractID string
	AvailableBalance  money.Decimal
	LockedBalance     money.Decimal
	LastUpdated       time.Time
}

// Valid checks the account's invariants: both balances are non-negative.
func (a Account) Valid() bool {
	return a.AvailableBalance.Ge(money.Zero) && a.LockedBalance.Ge(money.Zero)
}

// Position is a user's holding of one side of one market (spec §3).
//
// Invariants: 0 ≤ LockedQuantity ≤ Quantity; uniqueness of
// (UserID, MarketID, Side, ¬IsArchived); IsArchived ⇒ Quantity = 0 ∧
// LockedQuantity = 0.
type Position struct {
	PositionID      string
	UserID          string
	MarketID        string
	Side            Side
	Quantity        money.Decimal
	LockedQuantity  money.Decimal
	AvgCostBasis    money.Decimal
	IsArchived      bool
	LastUpdated     time.Time
}

// Valid checks the position's own invariants.
func (p Position) Valid() bool {
	if p.LockedQuantity.Lt(money.Zero) || p.LockedQuantity.Gt(p.Quantity) {
		return false
	}
	if p.IsArchived && (!p.Quantity.IsZero() || !p.LockedQuantity.IsZero()) {
		return false
	}
	return true
}

// AvailableQuantity returns the unlocked quantity available to sell.
func (p Position) AvailableQuantity() money.Decimal {
	return p.Quantity.Sub(p.LockedQuantity)
}

// Order is a resting or terminal order in a binary market (spec §3).
type Order struct {
	OrderID        string
	MarketID       string
	UserID         string
	Side           Side
	Action         Action
	OrderType      OrderType
	Price          money.Decimal // 0 for market orders
	Quantity       money.Decimal
	FilledQuantity money.Decimal
	Status         OrderStatus
	LockedAmount   money.Decimal
	LedgerLockTxID string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Valid checks the order's own invariants.
func (o Order) Valid() bool {
	if o.FilledQuantity.Lt(money.Zero) || o.FilledQuantity.Gt(o.Quantity) {
		return false
	}
	if o.FilledQuantity.Eq(o.Quantity) != (o.Status == OrderFilled) {
		return false
	}
	return true
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() money.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Trade is one execution between two orders (spec §3). For
// TradeTypeShareCreation, BuyerID is the YES-buyer, SellerID is the
// NO-buyer, Price is the YES leg's price, and 1-Price is the NO leg's.
type Trade struct {
	TradeID          string
	MarketID         string
	BuyerID          string
	SellerID         string
	Side             Side
	Price            money.Decimal
	Quantity         money.Decimal
	BuyerOrderID     string
	SellerOrderID    string
	TradeType        TradeType
	SettlementID     string
	SettlementStatus SettlementStatus
	CreatedAt        time.Time
	SettledAt        time.Time
}

// Valid checks the trade's own invariants.
func (t Trade) Valid() bool {
	if !t.Quantity.Gt(money.Zero) {
		return false
	}
	if !t.Price.Gt(money.Zero) || !t.Price.Lt(money.One) {
		return false
	}
	if t.BuyerID == t.SellerID {
		return false
	}
	switch t.TradeType {
	case TradeTypeShareTrade, TradeTypeShareCreation:
	default:
		return false
	}
	return true
}

// NoLegPrice returns the NO leg's price for a shareCreation trade
// (1 - Price); for a shareTrade it returns the zero value since there is
// no second leg.
func (t Trade) NoLegPrice() money.Decimal {
	if t.TradeType != TradeTypeShareCreation {
		return money.Zero
	}
	return money.One.Sub(t.Price)
}

// SettlementBatch groups trades for the three-stage settlement protocol
// (spec §3/§4.8).
type SettlementBatch struct {
	BatchID     string
	TradeIDs    []string
	Status      BatchStatus
	LedgerTxID  string
	CreatedAt   time.Time
	ProcessedAt time.Time
	RetryCount  int
	LastError   string
}

// SettlementEvent is an append-only audit row for the settlement protocol.
type SettlementEvent struct {
	ID            string
	ContractID    string
	SettlementID  string
	TransactionID string
	Status        string
	Timestamp     time.Time
}

// ReconciliationRecord is an append-only audit row produced by the
// reconciler for every account it compares against the ledger; Reconciled
// reports whether that comparison corrected drift.
type ReconciliationRecord struct {
	ID               string
	UserID           string
	ProjectedAvail   money.Decimal
	ProjectedLocked  money.Decimal
	OnChainAvail     money.Decimal
	OnChainLocked    money.Decimal
	Drift            money.Decimal
	RelativeDrift    money.Decimal
	Reconciled       bool
	Timestamp        time.Time
}

// CompensationFailure is an append-only audit row recording a compensating
// ledger operation (an unlock) that itself failed, for manual
// reconciliation (spec §7).
type CompensationFailure struct {
	ID         string
	OrderID    string
	UserID     string
	Amount     money.Decimal
	AccountCID string
	Error      string
	Timestamp  time.Time
	Resolved   bool
	ResolvedAt time.Time
	ResolvedBy string
}
