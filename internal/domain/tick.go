package domain

import "github.com/shopspring/decimal"

// Tick is a single normalized market data observation.
// Timestamps are exchange-reported Unix milliseconds; Sequence breaks
// ties between observations in the same millisecond.
type Tick struct {
	Instrument string          // instrument symbol
	Timestamp  int64           // Unix timestamp in milliseconds
	Sequence   uint64          // exchange sequence number within timestamp
	Price      decimal.Decimal // trade price
	Volume     decimal.Decimal // traded base quantity
}

// Key identifies a tick for deduplication: (instrument, timestamp, sequence).
type TickKey struct {
	Instrument string
	Timestamp  int64
	Sequence   uint64
}

// Key returns the dedup key for this tick.
func (t *Tick) Key() TickKey {
	return TickKey{Instrument: t.Instrument, Timestamp: t.Timestamp, Sequence: t.Sequence}
}
