package domain

import "github.com/shopspring/decimal"

// SignalKind distinguishes direct order intents from target-position
// rebalance requests.
type SignalKind string

// Signal kinds.
const (
	SignalKindOrder  SignalKind = "ORDER"  // explicit side/quantity intent
	SignalKindTarget SignalKind = "TARGET" // desired absolute position
)

// StrategySignal is a transient order intent produced by a strategy and
// consumed within one scheduling cycle. Strategies never mutate shared
// state; they only return signals.
type StrategySignal struct {
	StrategyID string
	Instrument string
	Kind       SignalKind
	Side       Side            // ORDER signals
	Quantity   decimal.Decimal // ORDER signals; positive
	Target     decimal.Decimal // TARGET signals; signed desired position
	Price      decimal.Decimal // zero = market
	Timestamp  int64           // Unix milliseconds
}
