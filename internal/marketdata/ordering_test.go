package marketdata

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"crypto-trading-agent/internal/domain"
)

func candle(instrument string, openTime int64, close int64) *domain.Candle {
	return &domain.Candle{
		Instrument: instrument,
		Timeframe:  domain.Timeframe1m,
		OpenTime:   openTime,
		Open:       decimal.NewFromInt(close),
		High:       decimal.NewFromInt(close),
		Low:        decimal.NewFromInt(close),
		Close:      decimal.NewFromInt(close),
		Volume:     decimal.NewFromInt(1),
	}
}

func TestSortCandles_ReplayOrder(t *testing.T) {
	candles := []*domain.Candle{
		candle("ETH-USDT", 120_000, 3000),
		candle("BTC-USDT", 60_000, 101),
		candle("BTC-USDT", 120_000, 102),
		candle("BTC-USDT", 0, 100),
	}

	SortCandles(candles)

	if err := ValidateCandleOrdering(candles); err != nil {
		t.Fatalf("sorted candles failed validation: %v", err)
	}
	if candles[0].OpenTime != 0 || candles[0].Instrument != "BTC-USDT" {
		t.Errorf("first candle = %s@%d, want BTC-USDT@0", candles[0].Instrument, candles[0].OpenTime)
	}
	// Equal open times order by instrument for a stable replay.
	if candles[2].Instrument != "BTC-USDT" || candles[3].Instrument != "ETH-USDT" {
		t.Errorf("tie at 120000 ordered %s, %s; want BTC-USDT, ETH-USDT",
			candles[2].Instrument, candles[3].Instrument)
	}
}

func TestValidateCandleOrdering_RejectsRegressions(t *testing.T) {
	cases := map[string][]*domain.Candle{
		"open time decreases": {
			candle("BTC-USDT", 120_000, 101),
			candle("BTC-USDT", 60_000, 100),
		},
		"duplicate bucket": {
			candle("BTC-USDT", 60_000, 100),
			candle("BTC-USDT", 60_000, 100),
		},
	}

	for name, candles := range cases {
		if err := ValidateCandleOrdering(candles); !errors.Is(err, ErrInvalidOrdering) {
			t.Errorf("%s: got %v, want ErrInvalidOrdering", name, err)
		}
	}
}

func TestValidateCandleOrdering_AcceptsSortedHistory(t *testing.T) {
	candles := []*domain.Candle{
		candle("BTC-USDT", 0, 100),
		candle("BTC-USDT", 60_000, 101),
		candle("ETH-USDT", 60_000, 3000),
		candle("BTC-USDT", 120_000, 102),
	}
	if err := ValidateCandleOrdering(candles); err != nil {
		t.Fatalf("ValidateCandleOrdering failed: %v", err)
	}
	if err := ValidateCandleOrdering(nil); err != nil {
		t.Fatalf("empty history should validate, got %v", err)
	}
}
