package domain

import "github.com/shopspring/decimal"

// Instrument describes a tradable pair. Immutable once registered;
// the agent rejects signals for instruments it does not know.
type Instrument struct {
	Symbol   string          // e.g. "BTC-USDT"
	Base     string          // base asset, e.g. "BTC"
	Quote    string          // quote asset, e.g. "USDT"
	TickSize decimal.Decimal // minimum price increment
	LotSize  decimal.Decimal // minimum quantity increment
}

// RoundPrice snaps a price down to the instrument tick size.
func (i Instrument) RoundPrice(p decimal.Decimal) decimal.Decimal {
	if i.TickSize.IsZero() {
		return p
	}
	return p.Div(i.TickSize).Floor().Mul(i.TickSize)
}

// RoundQuantity snaps a quantity down to the instrument lot size.
func (i Instrument) RoundQuantity(q decimal.Decimal) decimal.Decimal {
	if i.LotSize.IsZero() {
		return q
	}
	return q.Div(i.LotSize).Floor().Mul(i.LotSize)
}
