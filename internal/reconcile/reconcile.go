// Package reconcile implements the reconciler (C9, spec §4.9): a periodic
// sweep that compares each stale account's locally projected balances
// against the ledger's authoritative state, and heals drift beyond a
// configured tolerance.
//
// Grounded on the teacher's internal/risk/manager.go ticker-loop shape
// (the same pattern internal/settlement's scheduler generalizes); the
// per-account fan-out uses golang.org/x/sync/errgroup with a bounded
// SetLimit, aggregating per-account errors with go.uber.org/multierr
// into a single best-effort log line, since spec §4.9 requires the sweep
// to never abort because one account's ledger query failed.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pebble-pm/pebble-exchange-core/internal/ledger"
	"github.com/pebble-pm/pebble-exchange-core/internal/store"
	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// Config holds the reconciler's recognized options (spec §6).
type Config struct {
	Interval         time.Duration
	StaleThreshold   time.Duration
	DriftTolerance   money.Decimal
	PebbleAdminParty string
	Concurrency      int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       60 * time.Second,
		StaleThreshold: 5 * time.Minute,
		DriftTolerance: money.MustParse("0.001"),
		Concurrency:    8,
	}
}

// Reconciler runs the periodic drift-correction sweep.
type Reconciler struct {
	cfg    Config
	store  *store.Store
	ledger ledger.Facade
	idGen  func() string
	now    func() time.Time
	logger *zap.Logger
}

// New builds a reconciler.
func New(cfg Config, st *store.Store, lf ledger.Facade, idGen func() string, now func() time.Time, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		cfg:    cfg,
		store:  st,
		ledger: lf,
		idGen:  idGen,
		now:    now,
		logger: logger.With(zap.String("component", "reconcile")),
	}
}

func (r *Reconciler) nowTime() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Run drives the sweep loop until ctx is cancelled (spec §5: shutdown()
// cancels the reconciler).
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SweepOnce(ctx); err != nil {
				r.logger.Warn("reconciliation sweep completed with errors", zap.Error(err))
			}
		}
	}
}

// SweepOnce implements spec §4.9: for every account untouched for
// staleThresholdMinutes, fetch authoritative balances from the ledger and
// reconcile drift. Per-account errors are collected and returned (for
// logging) but never abort the sweep — a single account's ledger outage
// must not block every other account's reconciliation.
func (r *Reconciler) SweepOnce(ctx context.Context) error {
	accounts, err := r.store.ListAccounts()
	if err != nil {
		return err
	}

	cutoff := r.nowTime().Add(-r.cfg.StaleThreshold)
	limit := r.cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	var mu sync.Mutex
	var errs error
	for _, acct := range accounts {
		if acct.LastUpdated.After(cutoff) {
			continue
		}
		acct := acct
		group.Go(func() error {
			if err := r.reconcileAccount(gctx, acct); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("account %s: %w", acct.UserID, err))
				mu.Unlock()
				r.logger.Warn("reconcile account failed", zap.String("userId", acct.UserID), zap.Error(err))
			}
			return nil
		})
	}
	_ = group.Wait()
	return errs
}

// reconcileAccount implements spec §4.9's per-account drift computation
// and correction.
func (r *Reconciler) reconcileAccount(ctx context.Context, acct types.Account) error {
	contracts, err := r.ledger.GetActiveContracts(ctx, ledger.TemplateTradingAccount, acct.PartyID)
	if err != nil {
		return fmt.Errorf("query active account contracts: %w", err)
	}
	if len(contracts) == 0 {
		return fmt.Errorf("no active ledger contract for party %s", acct.PartyID)
	}
	contract := contracts[0]

	onchainAvail, err := parseDecimalField(contract.Payload, "availableBalance")
	if err != nil {
		return err
	}
	onchainLocked, err := parseDecimalField(contract.Payload, "lockedBalance")
	if err != nil {
		return err
	}

	drift := acct.AvailableBalance.Sub(onchainAvail).Abs().Add(acct.LockedBalance.Sub(onchainLocked).Abs())
	denominator := onchainAvail.Add(onchainLocked)
	relative := money.Zero
	if !denominator.IsZero() {
		relative = drift.Div(denominator)
	}

	now := r.nowTime()
	record := types.ReconciliationRecord{
		ID:              r.idGen(),
		UserID:          acct.UserID,
		ProjectedAvail:  acct.AvailableBalance,
		ProjectedLocked: acct.LockedBalance,
		OnChainAvail:    onchainAvail,
		OnChainLocked:   onchainLocked,
		Drift:           drift,
		RelativeDrift:   relative,
		Timestamp:       now,
	}

	if relative.Gt(r.cfg.DriftTolerance) {
		acct.AvailableBalance = onchainAvail
		acct.LockedBalance = onchainLocked
		acct.AccountContractID = contract.ContractID
		record.Reconciled = true
	}
	acct.LastUpdated = now
	if err := r.store.PutAccount(acct); err != nil {
		return fmt.Errorf("persist reconciled account: %w", err)
	}

	if err := r.store.AppendReconciliationRecord(record); err != nil {
		return fmt.Errorf("append reconciliation record: %w", err)
	}
	return nil
}

func parseDecimalField(payload map[string]any, key string) (money.Decimal, error) {
	raw, ok := payload[key]
	if !ok {
		return money.Zero, nil
	}
	s, ok := raw.(string)
	if !ok {
		return money.Decimal{}, fmt.Errorf("field %q is not a decimal string", key)
	}
	return money.Parse(s)
}
