package domain

import "github.com/shopspring/decimal"

// Fill confirms that some quantity of an order executed at a price.
// Fills are immutable once recorded and append-only per order; FillID is
// a deterministic hash so replays and duplicate deliveries dedup cleanly.
type Fill struct {
	FillID     string // deterministic hash, see idhash.ComputeFillID
	OrderID    string
	Instrument string
	Side       Side
	Quantity   decimal.Decimal // always positive; Side carries direction
	Price      decimal.Decimal
	Timestamp  int64  // Unix milliseconds
	Sequence   uint64 // ledger-assigned journal sequence, 0 until journaled
}

// SignedQuantity returns the position delta this fill contributes.
func (f *Fill) SignedQuantity() decimal.Decimal {
	if f.Side == SideSell {
		return f.Quantity.Neg()
	}
	return f.Quantity
}
