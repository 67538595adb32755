package clickhouse

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

func tick(instrument string, ts int64, seq uint64, price float64) *domain.Tick {
	return &domain.Tick{
		Instrument: instrument,
		Timestamp:  ts,
		Sequence:   seq,
		Price:      decimal.NewFromFloat(price),
		Volume:     decimal.NewFromFloat(1.5),
	}
}

func TestTickStore_InsertAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTickStore(conn)
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.Tick{
		tick("BTC-USD", 1000, 1, 50000),
		tick("BTC-USD", 1000, 2, 50001),
		tick("BTC-USD", 2000, 1, 50002),
		tick("ETH-USD", 1500, 1, 3000),
	})
	require.NoError(t, err)

	got, err := store.GetByInstrument(ctx, "BTC-USD", 1000, 2000)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Ordered by (ts, seq)
	assert.Equal(t, uint64(1), got[0].Sequence)
	assert.Equal(t, uint64(2), got[1].Sequence)
	assert.Equal(t, int64(2000), got[2].Timestamp)
	assert.True(t, got[0].Price.Equal(decimal.NewFromInt(50000)))

	// Range is inclusive and per-instrument
	got, err = store.GetByInstrument(ctx, "BTC-USD", 1001, 1999)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTickStore_DuplicateRejected(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTickStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.Tick{tick("BTC-USD", 1000, 1, 50000)}))

	err := store.InsertBulk(ctx, []*domain.Tick{tick("BTC-USD", 1000, 1, 50005)})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Intra-batch duplicate
	err = store.InsertBulk(ctx, []*domain.Tick{
		tick("BTC-USD", 3000, 1, 50000),
		tick("BTC-USD", 3000, 1, 50001),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestCandleStore_InsertAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandleStore(conn)
	ctx := context.Background()

	candle := func(openTime int64, tf domain.Timeframe) *domain.Candle {
		return &domain.Candle{
			Instrument: "BTC-USD",
			Timeframe:  tf,
			OpenTime:   openTime,
			Open:       decimal.NewFromInt(100),
			High:       decimal.NewFromInt(110),
			Low:        decimal.NewFromInt(95),
			Close:      decimal.NewFromInt(105),
			Volume:     decimal.NewFromInt(12),
			TradeCount: 7,
		}
	}

	err := store.InsertBulk(ctx, []*domain.Candle{
		candle(0, domain.Timeframe1m),
		candle(60_000, domain.Timeframe1m),
		candle(0, domain.Timeframe5m),
	})
	require.NoError(t, err)

	got, err := store.GetByInstrument(ctx, "BTC-USD", domain.Timeframe1m, 0, 120_000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(0), got[0].OpenTime)
	assert.Equal(t, int64(60_000), got[1].OpenTime)
	assert.True(t, got[0].Close.Equal(decimal.NewFromInt(105)))
	assert.Equal(t, 7, got[0].TradeCount)

	err = store.InsertBulk(ctx, []*domain.Candle{candle(0, domain.Timeframe1m)})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}
