package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"crypto-trading-agent/internal/domain"
)

// SMACross trades moving-average crossovers on closed candles. A fast
// average crossing above the slow one buys a fixed clip; crossing below
// sells. It ignores ticks entirely.
type SMACross struct {
	name        string
	instruments []string
	timeframe   domain.Timeframe
	fast, slow  int
	clip        decimal.Decimal

	closes map[string][]decimal.Decimal // ring of recent closes per instrument
	above  map[string]bool              // last observed fast-above-slow state
	primed map[string]bool
}

// NewSMACross creates a crossover strategy. fast must be smaller than
// slow; the factory validates that.
func NewSMACross(name string, instruments []string, timeframe domain.Timeframe, fast, slow int, clip decimal.Decimal) *SMACross {
	return &SMACross{
		name:        name,
		instruments: instruments,
		timeframe:   timeframe,
		fast:        fast,
		slow:        slow,
		clip:        clip,
		closes:      make(map[string][]decimal.Decimal),
		above:       make(map[string]bool),
		primed:      make(map[string]bool),
	}
}

func (s *SMACross) Name() string          { return s.name }
func (s *SMACross) Instruments() []string { return s.instruments }

func (s *SMACross) OnTick(ctx context.Context, t *domain.Tick, view *AccountView) []domain.StrategySignal {
	return nil
}

func (s *SMACross) OnCandle(ctx context.Context, c *domain.Candle, view *AccountView) []domain.StrategySignal {
	if c.Timeframe != s.timeframe || !subscribed(s.instruments, c.Instrument) {
		return nil
	}

	window := append(s.closes[c.Instrument], c.Close)
	if len(window) > s.slow {
		window = window[len(window)-s.slow:]
	}
	s.closes[c.Instrument] = window
	if len(window) < s.slow {
		return nil
	}

	above := sma(window, s.fast).GreaterThan(sma(window, s.slow))
	if !s.primed[c.Instrument] {
		// First complete window only establishes direction.
		s.primed[c.Instrument] = true
		s.above[c.Instrument] = above
		return nil
	}
	if above == s.above[c.Instrument] {
		return nil
	}
	s.above[c.Instrument] = above

	side := domain.SideSell
	if above {
		side = domain.SideBuy
	}
	return []domain.StrategySignal{{
		StrategyID: s.name,
		Instrument: c.Instrument,
		Kind:       domain.SignalKindOrder,
		Side:       side,
		Quantity:   s.clip,
		Timestamp:  c.OpenTime + c.Timeframe.DurationMs(),
	}}
}

// sma averages the last n values of window. Callers guarantee
// len(window) >= n.
func sma(window []decimal.Decimal, n int) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range window[len(window)-n:] {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
