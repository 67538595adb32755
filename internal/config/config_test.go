package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"crypto-trading-agent/internal/domain"
)

const validYAML = `
app:
  name: trader
logging:
  level: info
feed:
  provider: stub
  ws_url: wss://example.com/ws
  symbols:
    btcusdt: BTC-USD
instruments:
  - symbol: BTC-USD
    base: BTC
    quote: USD
    tick_size: "0.01"
    lot_size: "0.0001"
market_data:
  late_tolerance_ms: 2000
  dedup_window: 1024
  timeframes: [1m, 5m]
risk:
  default_max_exposure: "50000"
  per_instrument:
    BTC-USD: "100000"
  max_portfolio_exposure: "200000"
  max_order_rate: 10
  order_rate_window_ms: 60000
  max_daily_loss: "5000"
ledger:
  initial_cash: "100000"
  checkpoint_interval_sec: 60
lifecycle:
  ack_timeout_ms: 5000
  max_submit_retries: 3
  retry_backoff_ms: 250
strategies:
  - name: sma-btc
    type: SMA_CROSS
    instruments: [BTC-USD]
    timeframe: 5m
    fast_period: 5
    slow_period: 20
    order_quantity: "0.1"
storage:
  backend: memory
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.App.Name != "trader" {
		t.Errorf("expected app name trader, got %s", cfg.App.Name)
	}
	if len(cfg.Instruments) != 1 || cfg.Instruments[0].Symbol != "BTC-USD" {
		t.Errorf("unexpected instruments: %+v", cfg.Instruments)
	}

	limits := cfg.Risk.Limits()
	if !limits.InstrumentExposureCap("BTC-USD").Equal(decimal.NewFromInt(100000)) {
		t.Errorf("per-instrument cap not applied: %s", limits.InstrumentExposureCap("BTC-USD"))
	}
	if !limits.InstrumentExposureCap("ETH-USD").Equal(decimal.NewFromInt(50000)) {
		t.Errorf("default cap not applied: %s", limits.InstrumentExposureCap("ETH-USD"))
	}
	if limits.OrderRateWindow.Milliseconds() != 60000 {
		t.Errorf("unexpected rate window: %v", limits.OrderRateWindow)
	}

	inst, ok := cfg.Instrument("BTC-USD")
	if !ok {
		t.Fatal("Instrument lookup failed")
	}
	if !inst.TickSize.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("unexpected tick size: %s", inst.TickSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRADER_POSTGRES_DSN", "postgres://env-host/trader")
	t.Setenv("TRADER_REDIS_ADDR", "env-redis:6379")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.PostgresDSN != "postgres://env-host/trader" {
		t.Errorf("postgres DSN not overridden: %s", cfg.Storage.PostgresDSN)
	}
	if cfg.Cache.RedisAddr != "env-redis:6379" {
		t.Errorf("redis addr not overridden: %s", cfg.Cache.RedisAddr)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no instruments", func(c *Config) { c.Instruments = nil }},
		{"duplicate instrument", func(c *Config) { c.Instruments = append(c.Instruments, c.Instruments[0]) }},
		{"zero tick size", func(c *Config) { c.Instruments[0].TickSize = decimal.Zero }},
		{"negative tolerance", func(c *Config) { c.MarketData.LateToleranceMs = -1 }},
		{"bad timeframe", func(c *Config) { c.MarketData.Timeframes = []domain.Timeframe{"7m"} }},
		{"rate without window", func(c *Config) { c.Risk.OrderRateWindowMs = 0 }},
		{"negative daily loss", func(c *Config) { c.Risk.MaxDailyLoss = decimal.NewFromInt(-1) }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"broken strategy", func(c *Config) { c.Strategies[0].SlowPeriod = 0 }},
	}
	for _, tc := range cases {
		cfg, err := Load(writeConfig(t, validYAML))
		if err != nil {
			t.Fatalf("%s: base config failed to load: %v", tc.name, err)
		}
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
