package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"crypto-trading-agent/internal/domain"
)

// TargetRebalance holds each instrument at a configured absolute
// position, emitting a TARGET signal whenever the live position drifts
// outside the tolerance band. Sizing the correcting order from the
// target and the current position is the consumer's job.
type TargetRebalance struct {
	name    string
	targets map[string]decimal.Decimal // instrument → desired signed position
	band    decimal.Decimal            // absolute drift tolerated before rebalancing
}

// NewTargetRebalance creates a rebalancing strategy.
func NewTargetRebalance(name string, targets map[string]decimal.Decimal, band decimal.Decimal) *TargetRebalance {
	return &TargetRebalance{name: name, targets: targets, band: band}
}

func (s *TargetRebalance) Name() string { return s.name }

func (s *TargetRebalance) Instruments() []string {
	out := make([]string, 0, len(s.targets))
	for instrument := range s.targets {
		out = append(out, instrument)
	}
	return out
}

func (s *TargetRebalance) OnTick(ctx context.Context, t *domain.Tick, view *AccountView) []domain.StrategySignal {
	target, ok := s.targets[t.Instrument]
	if !ok {
		return nil
	}

	// Quantity already working at the exchange counts toward the
	// target, otherwise every tick in the band-exceeded window would
	// stack another order.
	projected := view.PositionQty(t.Instrument)
	if open, ok := view.OpenQty[t.Instrument]; ok {
		projected = projected.Add(open)
	}
	if target.Sub(projected).Abs().LessThanOrEqual(s.band) {
		return nil
	}

	return []domain.StrategySignal{{
		StrategyID: s.name,
		Instrument: t.Instrument,
		Kind:       domain.SignalKindTarget,
		Target:     target,
		Timestamp:  t.Timestamp,
	}}
}

func (s *TargetRebalance) OnCandle(ctx context.Context, c *domain.Candle, view *AccountView) []domain.StrategySignal {
	return nil
}
