// Package config loads and validates the agent configuration from a
// YAML file, with environment variable overrides for connection secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/strategy"
)

// InstrumentConfig declares one tradable instrument.
type InstrumentConfig struct {
	Symbol   string          `yaml:"symbol"`
	Base     string          `yaml:"base"`
	Quote    string          `yaml:"quote"`
	TickSize decimal.Decimal `yaml:"tick_size"`
	LotSize  decimal.Decimal `yaml:"lot_size"`
}

// RiskConfig is the YAML shape of the risk limits.
type RiskConfig struct {
	KillSwitch           bool                       `yaml:"kill_switch"`
	DefaultMaxExposure   decimal.Decimal            `yaml:"default_max_exposure"`
	PerInstrument        map[string]decimal.Decimal `yaml:"per_instrument"`
	MaxPortfolioExposure decimal.Decimal            `yaml:"max_portfolio_exposure"`
	MaxOrderRate         int                        `yaml:"max_order_rate"`
	OrderRateWindowMs    int64                      `yaml:"order_rate_window_ms"`
	MaxDailyLoss         decimal.Decimal            `yaml:"max_daily_loss"`
}

// Limits converts the YAML shape to the engine's limit set.
func (r RiskConfig) Limits() domain.RiskLimits {
	limits := domain.RiskLimits{
		KillSwitch:           r.KillSwitch,
		DefaultMaxExposure:   r.DefaultMaxExposure,
		MaxPortfolioExposure: r.MaxPortfolioExposure,
		MaxOrderRate:         r.MaxOrderRate,
		OrderRateWindow:      time.Duration(r.OrderRateWindowMs) * time.Millisecond,
		MaxDailyLoss:         r.MaxDailyLoss,
		PerInstrument:        make(map[string]domain.InstrumentLimit, len(r.PerInstrument)),
	}
	for symbol, exposureCap := range r.PerInstrument {
		limits.PerInstrument[symbol] = domain.InstrumentLimit{MaxExposure: exposureCap}
	}
	return limits
}

// Config holds the full agent configuration.
type Config struct {
	App struct {
		Name string `yaml:"name"`
	} `yaml:"app"`

	Logging struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"logging"`

	Feed struct {
		Provider string            `yaml:"provider"`
		WSURL    string            `yaml:"ws_url"`
		Symbols  map[string]string `yaml:"symbols"` // provider symbol → instrument symbol
	} `yaml:"feed"`

	Instruments []InstrumentConfig `yaml:"instruments"`

	MarketData struct {
		LateToleranceMs int64              `yaml:"late_tolerance_ms"`
		DedupWindow     int                `yaml:"dedup_window"`
		Timeframes      []domain.Timeframe `yaml:"timeframes"`
	} `yaml:"market_data"`

	Risk RiskConfig `yaml:"risk"`

	Ledger struct {
		InitialCash           decimal.Decimal `yaml:"initial_cash"`
		CheckpointIntervalSec int             `yaml:"checkpoint_interval_sec"`
	} `yaml:"ledger"`

	Lifecycle struct {
		AckTimeoutMs     int64 `yaml:"ack_timeout_ms"`
		MaxSubmitRetries int   `yaml:"max_submit_retries"`
		RetryBackoffMs   int64 `yaml:"retry_backoff_ms"`
	} `yaml:"lifecycle"`

	Strategies []strategy.Config `yaml:"strategies"`

	Storage struct {
		Backend       string `yaml:"backend"` // memory, postgres, pebble
		PostgresDSN   string `yaml:"postgres_dsn"`
		ClickHouseDSN string `yaml:"clickhouse_dsn"`
		PebblePath    string `yaml:"pebble_path"`
	} `yaml:"storage"`

	Cache struct {
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		TTLSec        int    `yaml:"ttl_sec"`
	} `yaml:"cache"`

	Metrics struct {
		Addr string `yaml:"addr"` // empty disables the /metrics listener
	} `yaml:"metrics"`
}

// Load reads and parses a config file, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instrument with empty symbol")
		}
		if seen[inst.Symbol] {
			return fmt.Errorf("duplicate instrument %s", inst.Symbol)
		}
		seen[inst.Symbol] = true
		if inst.TickSize.Sign() <= 0 || inst.LotSize.Sign() <= 0 {
			return fmt.Errorf("instrument %s: tick_size and lot_size must be positive", inst.Symbol)
		}
	}

	if c.MarketData.LateToleranceMs < 0 {
		return fmt.Errorf("late_tolerance_ms must not be negative")
	}
	for _, tf := range c.MarketData.Timeframes {
		if tf.DurationMs() == 0 {
			return fmt.Errorf("unknown timeframe %q", tf)
		}
	}

	if c.Risk.MaxOrderRate > 0 && c.Risk.OrderRateWindowMs <= 0 {
		return fmt.Errorf("max_order_rate requires a positive order_rate_window_ms")
	}
	if c.Risk.MaxDailyLoss.IsNegative() {
		return fmt.Errorf("max_daily_loss must not be negative")
	}

	switch c.Storage.Backend {
	case "", "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires postgres_dsn")
		}
	case "pebble":
		if c.Storage.PebblePath == "" {
			return fmt.Errorf("pebble backend requires pebble_path")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	for i, sc := range c.Strategies {
		if _, err := strategy.FromConfig(sc); err != nil {
			return fmt.Errorf("strategy %d (%s): %w", i, sc.Name, err)
		}
	}
	return nil
}

// Instrument returns the declared instrument for a symbol.
func (c *Config) Instrument(symbol string) (*domain.Instrument, bool) {
	for _, inst := range c.Instruments {
		if inst.Symbol == symbol {
			return &domain.Instrument{
				Symbol:   inst.Symbol,
				Base:     inst.Base,
				Quote:    inst.Quote,
				TickSize: inst.TickSize,
				LotSize:  inst.LotSize,
			}, true
		}
	}
	return nil, false
}

// overrideWithEnv replaces connection settings from the environment when
// present. Secrets never need to live in the config file.
func overrideWithEnv(cfg *Config) {
	if dsn := os.Getenv("TRADER_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if dsn := os.Getenv("TRADER_CLICKHOUSE_DSN"); dsn != "" {
		cfg.Storage.ClickHouseDSN = dsn
	}
	if addr := os.Getenv("TRADER_REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if pass := os.Getenv("TRADER_REDIS_PASSWORD"); pass != "" {
		cfg.Cache.RedisPassword = pass
	}
	if url := os.Getenv("TRADER_FEED_WS_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
}
