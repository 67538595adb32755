package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentLimit caps exposure for a single instrument.
type InstrumentLimit struct {
	MaxExposure decimal.Decimal // absolute notional cap, quote units
}

// RiskLimits is the externally supplied risk configuration. Read-only to
// the risk engine; hot reload is out of scope.
type RiskLimits struct {
	KillSwitch bool // deny everything when set

	// Per-instrument exposure caps, keyed by symbol. DefaultMaxExposure
	// applies to instruments without an explicit entry.
	PerInstrument      map[string]InstrumentLimit
	DefaultMaxExposure decimal.Decimal

	MaxPortfolioExposure decimal.Decimal // sum of absolute notionals
	MaxOrderRate         int             // orders per window, 0 = unlimited
	OrderRateWindow      time.Duration
	MaxDailyLoss         decimal.Decimal // positive number, quote units
}

// InstrumentExposureCap resolves the exposure cap for a symbol.
func (l RiskLimits) InstrumentExposureCap(symbol string) decimal.Decimal {
	if lim, ok := l.PerInstrument[symbol]; ok {
		return lim.MaxExposure
	}
	return l.DefaultMaxExposure
}
