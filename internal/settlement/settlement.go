// Package settlement implements the settlement engine (C8, spec §4.8): a
// single-writer, cooperatively scheduled batching loop that walks groups
// of trades through a three-stage propose/accept/execute protocol on the
// external ledger, partitioning each batch into contention-free rounds so
// no user's UTXO-style contracts are exercised twice in the same round.
//
// Grounded on the teacher's internal/risk/manager.go Run(ctx) ticker loop
// (a cancellation-aware select over a ticker and an inbound channel),
// generalized here into the batch scheduler; the three-stage protocol and
// round partitioning are this system's own addition — no pack repo models
// UTXO settlement batching.
package settlement

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/internal/ledger"
	"github.com/pebble-pm/pebble-exchange-core/internal/store"
)

// Config holds the settlement engine's recognized options (spec §6).
type Config struct {
	BatchInterval    time.Duration
	MaxBatchSize     int
	MaxRetries       int
	RoundDelay       time.Duration
	ProposalTimeout  time.Duration
	PebbleAdminParty string
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		BatchInterval:    2 * time.Second,
		MaxBatchSize:     25,
		MaxRetries:       3,
		RoundDelay:       50 * time.Millisecond,
		ProposalTimeout:  5 * time.Minute,
		PebbleAdminParty: "pebbleAdmin",
	}
}

// proposalState tracks the rotating contract ids a trade's proposal
// accumulates as it moves through the propose/accept stages.
type proposalState struct {
	ProposalID           string
	ProposalContractID   string // SettlementProposal, then SettlementProposalAccepted, cid
	SettlementContractID string // Settlement cid, set once both sides accept
}

// Engine runs the settlement batching loop. One Engine serves one
// pebble-backed store; it is not safe to run two Engines over the same
// store concurrently (the single-writer invariant of spec §5).
type Engine struct {
	cfg    Config
	store  *store.Store
	ledger ledger.Facade
	idGen  func() string
	now    func() time.Time
	logger *zap.Logger

	queueCh chan string

	mu           sync.Mutex
	isProcessing bool

	shuttingDown atomic.Bool
	stopOnce     sync.Once
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// New builds a settlement engine.
func New(cfg Config, st *store.Store, lf ledger.Facade, idGen func() string, now func() time.Time, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   st,
		ledger:  lf,
		idGen:   idGen,
		now:     now,
		logger:  logger.With(zap.String("component", "settlement")),
		queueCh: make(chan string, 1024),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (e *Engine) nowTime() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// Enqueue submits a newly created trade id for settlement. Non-blocking:
// a full queue or a shut-down engine drops the id here, but it remains
// discoverable through the store's pending-trade scan on the next tick
// (spec §4.8 "Batch assembly" draws from both sources).
func (e *Engine) Enqueue(tradeID string) {
	if e.shuttingDown.Load() {
		return
	}
	select {
	case e.queueCh <- tradeID:
	default:
		e.logger.Warn("settlement queue full, relying on store scan", zap.String("tradeId", tradeID))
	}
}

// Run drives the batching loop until ctx is cancelled or Shutdown is
// called. Call Recover once before Run on process startup.
//
// Shutdown signals the loop to stop accepting new ticks through stopCh
// rather than cancelling ctx: ctx is handed to processOnce/runBatch
// as-is, so a batch in flight when Shutdown is called keeps observing
// the caller's original context at its ledger RPCs and sleeps, not a
// cancellation Shutdown itself introduced (spec §5/§4.8: shutdown()
// drains the in-flight batch with no preemption).
func (e *Engine) Run(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.BatchInterval)
	defer ticker.Stop()

	var pending []string
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case id := <-e.queueCh:
			pending = append(pending, id)
		case <-ticker.C:
			pending = drainQueue(e.queueCh, pending)
			e.processOnce(ctx, pending)
			pending = nil
		}
	}
}

func drainQueue(ch chan string, pending []string) []string {
	for {
		select {
		case id := <-ch:
			pending = append(pending, id)
		default:
			return pending
		}
	}
}

// Shutdown stops accepting new work and blocks until any in-flight batch
// drains (spec §5: "shutdown() blocks until the in-flight batch drains,
// then rejects further queue submissions" — no preemption mid-batch).
// It signals the loop to stop via stopCh rather than cancelling the
// Run context, so a batch already in flight runs to its own completion.
func (e *Engine) Shutdown() {
	e.shuttingDown.Store(true)
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
}

func (e *Engine) processOnce(ctx context.Context, pending []string) {
	e.mu.Lock()
	if e.isProcessing {
		e.mu.Unlock()
		return
	}
	e.isProcessing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.isProcessing = false
		e.mu.Unlock()
	}()

	batch, ok, err := e.assembleBatch(pending)
	if err != nil {
		e.logger.Error("assemble settlement batch", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if err := e.runBatch(ctx, batch); err != nil {
		e.handleBatchFailure(ctx, batch, err)
	}
}
