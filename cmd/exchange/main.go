// Command exchange runs the binary-market trading core: the matching
// engine, order saga, settlement engine, and reconciliation sweep wired
// together against an external UTXO-style ledger.
//
// Architecture:
//
//	main.go                   — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	internal/store            — pebble-backed durable storage for orders, trades, accounts, positions
//	internal/ledger           — façade over the external ledger's submitCommand/getActiveContracts RPCs
//	internal/book, matching   — in-memory order book and price-time-priority matching engine
//	internal/orderservice     — the order placement saga: validate, lock, persist, match, compensate
//	internal/projection       — folds ledger events into local account/position projections
//	internal/settlement       — the three-stage (propose/accept/execute) settlement engine
//	internal/reconcile        — periodic drift reconciliation against the ledger's authoritative state
//
// Grounded on the teacher's cmd/bot/main.go lifecycle: load config, build
// a logger, construct the components, start their background loops, then
// block on a shutdown signal and drain gracefully.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pebble-pm/pebble-exchange-core/internal/book"
	"github.com/pebble-pm/pebble-exchange-core/internal/config"
	"github.com/pebble-pm/pebble-exchange-core/internal/ledger"
	"github.com/pebble-pm/pebble-exchange-core/internal/matching"
	"github.com/pebble-pm/pebble-exchange-core/internal/orderservice"
	"github.com/pebble-pm/pebble-exchange-core/internal/projection"
	"github.com/pebble-pm/pebble-exchange-core/internal/reconcile"
	"github.com/pebble-pm/pebble-exchange-core/internal/settlement"
	"github.com/pebble-pm/pebble-exchange-core/internal/store"
	"github.com/pebble-pm/pebble-exchange-core/pkg/idgen"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PEBBLE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Store.DataDir, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	ledgerClient := ledger.New(cfg.LedgerClientConfig(), logger)
	idGen := idgen.New
	now := time.Now

	books := book.NewManager()
	matcher := matching.New(idGen, now)

	orderCfg, err := cfg.OrderServiceEngineConfig()
	if err != nil {
		logger.Fatal("invalid order service config", zap.Error(err))
	}
	orderSvc := orderservice.New(orderCfg, st, ledgerClient, books, matcher, idGen, now, logger)

	settlementEngine := settlement.New(cfg.SettlementEngineConfig(), st, ledgerClient, idGen, now, logger)
	orderSvc.OnTradeCreated(settlementEngine.Enqueue)

	reconciler := reconcile.New(cfg.ReconcilerConfig(), st, ledgerClient, idGen, now, logger)

	folder := projection.New(st, idGen, logger)
	events := ledger.NewEventStream(cfg.Ledger.WSEventsURL, cfg.PebbleAdminParty, cfg.Ledger.Offline, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := settlementEngine.Recover(ctx); err != nil {
		logger.Error("settlement recovery failed", zap.Error(err))
	}

	go events.Run(ctx)
	go folder.Run(ctx, events.Events())
	go settlementEngine.Run(ctx)
	go reconciler.Run(ctx)

	logger.Info("pebble exchange core started",
		zap.String("dataDir", cfg.Store.DataDir),
		zap.Bool("ledgerOffline", cfg.Ledger.Offline),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	settlementEngine.Shutdown()
	cancel()
}

func newLogger(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if format != "json" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLogLevel(level))
	return cfg.Build()
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
