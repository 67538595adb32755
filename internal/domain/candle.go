package domain

import "github.com/shopspring/decimal"

// Timeframe identifies a candle aggregation interval.
type Timeframe string

// Supported candle timeframes.
const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// DurationMs returns the timeframe length in milliseconds, or 0 for an
// unknown timeframe.
func (tf Timeframe) DurationMs() int64 {
	switch tf {
	case Timeframe1m:
		return 60_000
	case Timeframe5m:
		return 5 * 60_000
	case Timeframe15m:
		return 15 * 60_000
	case Timeframe1h:
		return 60 * 60_000
	case Timeframe4h:
		return 4 * 60 * 60_000
	case Timeframe1d:
		return 24 * 60 * 60_000
	default:
		return 0
	}
}

// Candle is an OHLCV aggregate of ticks for one timeframe bucket.
type Candle struct {
	Instrument string
	Timeframe  Timeframe
	OpenTime   int64 // bucket start, Unix milliseconds
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
	TradeCount int
}
