// Package strategy defines the decision-layer contract and a few
// reference implementations. Strategies are pure with respect to shared
// state: they see a read-only account view and emit signals.
package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"crypto-trading-agent/internal/domain"
)

// AccountView is the read-only snapshot a strategy decides against.
// It is assembled fresh for every dispatch cycle; mutating it has no
// effect on the live account.
type AccountView struct {
	Positions map[string]*domain.Position
	Cash      decimal.Decimal
	Marks     map[string]decimal.Decimal // latest trade price per instrument
	OpenQty   map[string]decimal.Decimal // unfilled quantity of open orders, signed
}

// PositionQty returns the signed position quantity for an instrument,
// zero when flat.
func (v *AccountView) PositionQty(instrument string) decimal.Decimal {
	if p, ok := v.Positions[instrument]; ok {
		return p.Quantity
	}
	return decimal.Zero
}

// Strategy is a decision unit. Callbacks run on the scheduler goroutine
// in registration order and must not block.
type Strategy interface {
	// Name identifies the strategy instance; signals carry it as
	// StrategyID.
	Name() string

	// Instruments returns the instruments this strategy wants data for.
	Instruments() []string

	// OnTick is invoked for every normalized tick on a subscribed
	// instrument.
	OnTick(ctx context.Context, t *domain.Tick, view *AccountView) []domain.StrategySignal

	// OnCandle is invoked when a candle closes on a subscribed
	// instrument.
	OnCandle(ctx context.Context, c *domain.Candle, view *AccountView) []domain.StrategySignal
}

// subscribed reports whether instrument is in the list. Helper shared by
// the implementations here.
func subscribed(list []string, instrument string) bool {
	for _, s := range list {
		if s == instrument {
			return true
		}
	}
	return false
}
