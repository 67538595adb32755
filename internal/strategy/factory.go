package strategy

import (
	"errors"

	"github.com/shopspring/decimal"

	"crypto-trading-agent/internal/domain"
)

// Strategy types accepted by FromConfig.
const (
	TypeSMACross        = "SMA_CROSS"
	TypeTargetRebalance = "TARGET_REBALANCE"
)

// Factory errors
var (
	ErrUnknownStrategyType = errors.New("unknown strategy type")
	ErrMissingName         = errors.New("strategy requires a name")
	ErrMissingInstruments  = errors.New("SMA_CROSS requires instruments")
	ErrInvalidPeriods      = errors.New("SMA_CROSS requires 0 < fast_period < slow_period")
	ErrMissingClip         = errors.New("SMA_CROSS requires a positive order_quantity")
	ErrInvalidTimeframe    = errors.New("SMA_CROSS requires a known timeframe")
	ErrMissingTargets      = errors.New("TARGET_REBALANCE requires targets")
	ErrNegativeBand        = errors.New("TARGET_REBALANCE band must not be negative")
)

// Config declares one strategy instance. Only the fields relevant to the
// declared type are read.
type Config struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Instruments []string `yaml:"instruments"`

	// SMA_CROSS
	Timeframe     domain.Timeframe `yaml:"timeframe"`
	FastPeriod    int              `yaml:"fast_period"`
	SlowPeriod    int              `yaml:"slow_period"`
	OrderQuantity decimal.Decimal  `yaml:"order_quantity"`

	// TARGET_REBALANCE
	Targets map[string]decimal.Decimal `yaml:"targets"`
	Band    decimal.Decimal            `yaml:"band"`
}

// FromConfig creates a Strategy from its declaration, validating the
// parameters the declared type requires.
func FromConfig(cfg Config) (Strategy, error) {
	if cfg.Name == "" {
		return nil, ErrMissingName
	}
	switch cfg.Type {
	case TypeSMACross:
		return fromSMACrossConfig(cfg)
	case TypeTargetRebalance:
		return fromTargetRebalanceConfig(cfg)
	default:
		return nil, ErrUnknownStrategyType
	}
}

func fromSMACrossConfig(cfg Config) (*SMACross, error) {
	if len(cfg.Instruments) == 0 {
		return nil, ErrMissingInstruments
	}
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= cfg.FastPeriod {
		return nil, ErrInvalidPeriods
	}
	if !cfg.OrderQuantity.IsPositive() {
		return nil, ErrMissingClip
	}
	if cfg.Timeframe.DurationMs() == 0 {
		return nil, ErrInvalidTimeframe
	}
	return NewSMACross(cfg.Name, cfg.Instruments, cfg.Timeframe, cfg.FastPeriod, cfg.SlowPeriod, cfg.OrderQuantity), nil
}

func fromTargetRebalanceConfig(cfg Config) (*TargetRebalance, error) {
	if len(cfg.Targets) == 0 {
		return nil, ErrMissingTargets
	}
	if cfg.Band.IsNegative() {
		return nil, ErrNegativeBand
	}
	return NewTargetRebalance(cfg.Name, cfg.Targets, cfg.Band), nil
}
