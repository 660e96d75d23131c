// Package orderservice implements the order saga (C7, spec §4.7): a
// single placeOrder call validates the request, locks funds or position
// on the external ledger, durably persists the order, submits it to the
// matching engine, and compensates (unlocks, cancels, rejects) on partial
// failure so the system never ends up holding a lock with no matching
// order or trade.
//
// Grounded on the teacher's engine.New constructor-injection wiring style
// (internal/engine/engine.go: explicit collaborators passed in, no
// package-level singletons). Compensation failures are recorded as store
// audit rows and logged; no channel is involved.
package orderservice

import (
	"time"

	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/internal/book"
	"github.com/pebble-pm/pebble-exchange-core/internal/ledger"
	"github.com/pebble-pm/pebble-exchange-core/internal/matching"
	"github.com/pebble-pm/pebble-exchange-core/internal/store"
	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
)

// Config holds the order service's recognized options (spec §6).
type Config struct {
	MaxQuantity             money.Decimal
	MaxPendingOrdersPerUser int
	PebbleAdminParty        string
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxQuantity:             money.NewFromInt(1_000_000),
		MaxPendingOrdersPerUser: 100,
	}
}

// Service runs the order saga.
type Service struct {
	cfg     Config
	store   *store.Store
	ledger  ledger.Facade
	books   *book.Manager
	matcher *matching.Engine
	idGen   func() string
	now     func() time.Time
	logger  *zap.Logger

	// onTradeCreated, if set, is invoked once per trade produced by a
	// successful match — the order saga's side of the settlement
	// engine's in-process queue (spec §4.8 "Batch assembly"). It never
	// blocks the saga: settlement also discovers trades by scanning the
	// store, so a dropped notification only costs one tick of latency.
	onTradeCreated func(tradeID string)
}

// New builds an order service.
func New(cfg Config, st *store.Store, lf ledger.Facade, books *book.Manager, matcher *matching.Engine, idGen func() string, now func() time.Time, logger *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   st,
		ledger:  lf,
		books:   books,
		matcher: matcher,
		idGen:   idGen,
		now:     now,
		logger:  logger.With(zap.String("component", "orderservice")),
	}
}

// OnTradeCreated registers the callback invoked after each trade this
// service persists. Wired by the caller to the settlement engine's
// Enqueue (see cmd/exchange); tests may leave it unset.
func (s *Service) OnTradeCreated(fn func(tradeID string)) {
	s.onTradeCreated = fn
}

func (s *Service) nowTime() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
