package backtest

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/marketdata"
	"crypto-trading-agent/internal/strategy"
)

func btcInstrument() map[string]domain.Instrument {
	return map[string]domain.Instrument{
		"BTC-USD": {Symbol: "BTC-USD", Base: "BTC", Quote: "USD",
			TickSize: decimal.RequireFromString("0.01"),
			LotSize:  decimal.RequireFromString("0.001")},
	}
}

// candleSeries builds 1m candles from close prices, one per minute.
func candleSeries(closes ...float64) []*domain.Candle {
	out := make([]*domain.Candle, 0, len(closes))
	base := int64(1_700_000_000_000)
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		out = append(out, &domain.Candle{
			Instrument: "BTC-USD",
			Timeframe:  domain.Timeframe1m,
			OpenTime:   base + int64(i)*60_000,
			Open:       price, High: price, Low: price, Close: price,
			Volume:     decimal.NewFromInt(1),
			TradeCount: 1,
		})
	}
	return out
}

func TestSMACrossBacktestTrades(t *testing.T) {
	r, err := NewRunner(Options{
		Instruments: btcInstrument(),
		InitialCash: decimal.NewFromInt(1_000_000),
		FillSlices:  1,
	})
	require.NoError(t, err)
	require.NoError(t, r.Register(strategy.NewSMACross(
		"sma", []string{"BTC-USD"}, domain.Timeframe1m, 2, 4, decimal.NewFromInt(1))))

	// Downtrend primes both averages below, then a rally crosses fast
	// over slow and triggers a buy.
	res, err := r.Run(context.Background(),
		candleSeries(110, 108, 106, 104, 102, 100, 105, 112, 120, 130))
	require.NoError(t, err)

	require.Equal(t, 10, res.Candles)
	require.Greater(t, res.Orders, 0, "rally must produce at least one order")
	require.Equal(t, res.Orders, res.Fills, "paper gateway fills every order once")
	require.Zero(t, res.Denied)

	// Every fill landed in the ledger.
	require.NotEmpty(t, res.Positions)
}

func TestBacktestRiskDenialsAreCounted(t *testing.T) {
	r, err := NewRunner(Options{
		Instruments: btcInstrument(),
		InitialCash: decimal.NewFromInt(1_000_000),
		Limits: domain.RiskLimits{
			DefaultMaxExposure: decimal.NewFromInt(1), // everything denied
		},
	})
	require.NoError(t, err)
	require.NoError(t, r.Register(strategy.NewTargetRebalance(
		"target", map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(5)}, decimal.Zero)))

	res, err := r.Run(context.Background(), candleSeries(100, 100, 100))
	require.NoError(t, err)

	require.Zero(t, res.Orders)
	require.Zero(t, res.Fills)
	require.Greater(t, res.Denied, 0)
	require.Greater(t, res.DeniedByRule["PER_INSTRUMENT_EXPOSURE"], 0)
	require.True(t, res.FinalCash.Equal(decimal.NewFromInt(1_000_000)))
}

func TestBacktestTargetRebalanceReachesTarget(t *testing.T) {
	r, err := NewRunner(Options{
		Instruments: btcInstrument(),
		InitialCash: decimal.NewFromInt(1_000_000),
	})
	require.NoError(t, err)
	require.NoError(t, r.Register(strategy.NewTargetRebalance(
		"target", map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(3)}, decimal.Zero)))

	res, err := r.Run(context.Background(), candleSeries(100, 101, 102))
	require.NoError(t, err)

	require.Len(t, res.Positions, 1)
	require.True(t, res.Positions[0].Quantity.Equal(decimal.NewFromInt(3)),
		"position = %s", res.Positions[0].Quantity)
	require.Equal(t, 1, res.Orders, "target reached after the first rebalance")
}

func TestBacktestRejectsUnsortedHistory(t *testing.T) {
	r, err := NewRunner(Options{
		Instruments: btcInstrument(),
		InitialCash: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)

	candles := candleSeries(100, 101, 102)
	candles[0], candles[2] = candles[2], candles[0]

	_, err = r.Run(context.Background(), candles)
	require.ErrorIs(t, err, marketdata.ErrInvalidOrdering)
}

func TestBacktestEmptyHistory(t *testing.T) {
	r, err := NewRunner(Options{
		Instruments: btcInstrument(),
		InitialCash: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, res.Candles)
	require.True(t, res.FinalCash.Equal(decimal.NewFromInt(1000)))
	require.Empty(t, res.Positions)
}
