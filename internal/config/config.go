// Package config loads the trading core's configuration. Grounded on the
// teacher's internal/config/config.go: a YAML file read through viper with
// operational fields overridable via environment variables (PEBBLE_* in
// place of the teacher's POLY_* prefix), plus a Validate pass run once at
// startup before any component is constructed.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pebble-pm/pebble-exchange-core/internal/ledger"
	"github.com/pebble-pm/pebble-exchange-core/internal/orderservice"
	"github.com/pebble-pm/pebble-exchange-core/internal/reconcile"
	"github.com/pebble-pm/pebble-exchange-core/internal/settlement"
	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
)

// Config is the top-level configuration, mapping directly onto the YAML
// file structure (spec §6 "Configuration (recognized options)").
type Config struct {
	PebbleAdminParty string               `mapstructure:"pebble_admin_party"`
	Ledger           LedgerConfig         `mapstructure:"ledger"`
	OrderService     OrderServiceConfig   `mapstructure:"order_service"`
	Settlement       SettlementConfig     `mapstructure:"settlement"`
	Reconciliation   ReconciliationConfig `mapstructure:"reconciliation"`
	Store            StoreConfig          `mapstructure:"store"`
	Logging          LoggingConfig        `mapstructure:"logging"`
}

// LedgerConfig points at the external ledger's HTTP/WS gateway (spec §4.5).
type LedgerConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	WSEventsURL string `mapstructure:"ws_events_url"`
	TimeoutMs   int    `mapstructure:"timeout_ms"`
	Offline     bool   `mapstructure:"offline"`
}

// OrderServiceConfig maps the order saga's recognized options (spec §6).
type OrderServiceConfig struct {
	MaxQuantity             string `mapstructure:"max_quantity"`
	MaxPendingOrdersPerUser int    `mapstructure:"max_pending_orders_per_user"`
}

// SettlementConfig maps the settlement engine's recognized options (spec §6).
type SettlementConfig struct {
	BatchIntervalMs   int `mapstructure:"batch_interval_ms"`
	MaxBatchSize      int `mapstructure:"max_batch_size"`
	MaxRetries        int `mapstructure:"max_retries"`
	RoundDelayMs      int `mapstructure:"round_delay_ms"`
	ProposalTimeoutMs int `mapstructure:"proposal_timeout_ms"`
}

// ReconciliationConfig maps the reconciler's recognized options (spec §6).
type ReconciliationConfig struct {
	IntervalMs               int     `mapstructure:"interval_ms"`
	StaleThresholdMinutes    int     `mapstructure:"stale_threshold_minutes"`
	DriftTolerancePercentage float64 `mapstructure:"drift_tolerance_percentage"`
	Concurrency              int     `mapstructure:"concurrency"`
}

// StoreConfig sets where the durable pebble store lives on disk.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig controls the zap logger's level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with PEBBLE_*-prefixed env overrides,
// the same shape as the teacher's config.Load.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PEBBLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("order_service.max_quantity", "1000000")
	v.SetDefault("order_service.max_pending_orders_per_user", 100)

	v.SetDefault("settlement.batch_interval_ms", 2000)
	v.SetDefault("settlement.max_batch_size", 25)
	v.SetDefault("settlement.max_retries", 3)
	v.SetDefault("settlement.round_delay_ms", 50)
	v.SetDefault("settlement.proposal_timeout_ms", 300_000)

	v.SetDefault("reconciliation.interval_ms", 60_000)
	v.SetDefault("reconciliation.stale_threshold_minutes", 5)
	v.SetDefault("reconciliation.drift_tolerance_percentage", 0.001)
	v.SetDefault("reconciliation.concurrency", 8)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("store.data_dir", "./data")
}

// Validate checks all required fields and value ranges, mirroring the
// teacher's Config.Validate.
func (c *Config) Validate() error {
	if c.PebbleAdminParty == "" {
		return fmt.Errorf("pebble_admin_party is required")
	}
	if c.Ledger.BaseURL == "" && !c.Ledger.Offline {
		return fmt.Errorf("ledger.base_url is required unless ledger.offline is set")
	}
	if c.OrderService.MaxPendingOrdersPerUser <= 0 {
		return fmt.Errorf("order_service.max_pending_orders_per_user must be > 0")
	}
	if c.Settlement.MaxBatchSize <= 0 {
		return fmt.Errorf("settlement.max_batch_size must be > 0")
	}
	if c.Settlement.MaxRetries < 0 {
		return fmt.Errorf("settlement.max_retries must be >= 0")
	}
	if c.Reconciliation.DriftTolerancePercentage < 0 {
		return fmt.Errorf("reconciliation.drift_tolerance_percentage must be >= 0")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	return nil
}

// LedgerClientConfig translates this config's ledger block into
// ledger.Config, the façade constructor's input shape.
func (c *Config) LedgerClientConfig() ledger.Config {
	timeout := time.Duration(c.Ledger.TimeoutMs) * time.Millisecond
	if c.Ledger.TimeoutMs <= 0 {
		timeout = 10 * time.Second
	}
	return ledger.Config{
		BaseURL: c.Ledger.BaseURL,
		Timeout: timeout,
		Offline: c.Ledger.Offline,
	}
}

// OrderServiceEngineConfig translates this config into orderservice.Config.
func (c *Config) OrderServiceEngineConfig() (orderservice.Config, error) {
	maxQty, err := money.Parse(orDefault(c.OrderService.MaxQuantity, "1000000"))
	if err != nil {
		return orderservice.Config{}, fmt.Errorf("order_service.max_quantity: %w", err)
	}
	return orderservice.Config{
		MaxQuantity:             maxQty,
		MaxPendingOrdersPerUser: c.OrderService.MaxPendingOrdersPerUser,
		PebbleAdminParty:        c.PebbleAdminParty,
	}, nil
}

// SettlementEngineConfig translates this config into settlement.Config.
func (c *Config) SettlementEngineConfig() settlement.Config {
	return settlement.Config{
		BatchInterval:    time.Duration(c.Settlement.BatchIntervalMs) * time.Millisecond,
		MaxBatchSize:     c.Settlement.MaxBatchSize,
		MaxRetries:       c.Settlement.MaxRetries,
		RoundDelay:       time.Duration(c.Settlement.RoundDelayMs) * time.Millisecond,
		ProposalTimeout:  time.Duration(c.Settlement.ProposalTimeoutMs) * time.Millisecond,
		PebbleAdminParty: c.PebbleAdminParty,
	}
}

// ReconcilerConfig translates this config into reconcile.Config.
func (c *Config) ReconcilerConfig() reconcile.Config {
	return reconcile.Config{
		Interval:         time.Duration(c.Reconciliation.IntervalMs) * time.Millisecond,
		StaleThreshold:   time.Duration(c.Reconciliation.StaleThresholdMinutes) * time.Minute,
		DriftTolerance:   money.NewFromFloat(c.Reconciliation.DriftTolerancePercentage),
		PebbleAdminParty: c.PebbleAdminParty,
		Concurrency:      c.Reconciliation.Concurrency,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
