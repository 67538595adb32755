package domain

import "github.com/shopspring/decimal"

// Position is the ledger's view of holdings in one instrument.
// Quantity is signed (negative = short); AvgCost is the weighted-average
// entry price of the open quantity. Mutated only by the ledger store.
type Position struct {
	Instrument  string
	Quantity    decimal.Decimal // signed
	AvgCost     decimal.Decimal // weighted-average cost of open quantity
	RealizedPnL decimal.Decimal // cumulative, quote units
	LastFillSeq uint64          // journal sequence of the last applied fill
	UpdatedAt   int64           // Unix milliseconds
}

// Exposure returns the absolute notional value at the given mark price.
func (p *Position) Exposure(mark decimal.Decimal) decimal.Decimal {
	return p.Quantity.Abs().Mul(mark)
}

// UnrealizedPnL marks the open quantity to the given price.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return mark.Sub(p.AvgCost).Mul(p.Quantity)
}

// Clone returns a copy safe to hand outside the ledger.
func (p *Position) Clone() *Position {
	c := *p
	return &c
}
