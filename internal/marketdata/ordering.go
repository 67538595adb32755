package marketdata

import (
	"errors"
	"sort"

	"crypto-trading-agent/internal/domain"
)

// ErrInvalidOrdering is returned when candles are not in replay order.
var ErrInvalidOrdering = errors.New("candles are not in deterministic order")

// SortCandles orders candles by (open time ASC, instrument ASC).
// This provides deterministic ordering for backtest replay.
func SortCandles(candles []*domain.Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return compareCandles(candles[i], candles[j]) < 0
	})
}

// ValidateCandleOrdering checks if candles are strictly ordered.
// Returns ErrInvalidOrdering if not; equal keys mean a duplicate bucket.
func ValidateCandleOrdering(candles []*domain.Candle) error {
	for i := 1; i < len(candles); i++ {
		if compareCandles(candles[i-1], candles[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareCandles returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (open time ASC, instrument ASC)
func compareCandles(a, b *domain.Candle) int {
	if a.OpenTime != b.OpenTime {
		if a.OpenTime < b.OpenTime {
			return -1
		}
		return 1
	}
	if a.Instrument != b.Instrument {
		if a.Instrument < b.Instrument {
			return -1
		}
		return 1
	}
	return 0
}
