package clickhouse

import (
	"context"
	"fmt"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk adds multiple candles. Fails the entire batch on a
// duplicate (instrument, timeframe, open_time).
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	type key struct {
		instrument string
		timeframe  domain.Timeframe
		openTime   int64
	}
	seen := make(map[key]struct{}, len(candles))
	for _, c := range candles {
		k := key{c.Instrument, c.Timeframe, c.OpenTime}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, c := range candles {
		exists, err := s.exists(ctx, c)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			instrument, timeframe, open_time, open, high, low, close, volume, trade_count
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err := batch.Append(
			c.Instrument, string(c.Timeframe), c.OpenTime,
			c.Open, c.High, c.Low, c.Close, c.Volume, int32(c.TradeCount),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByInstrument retrieves candles for one timeframe within [start, end]
// inclusive, ordered by open_time ASC.
func (s *CandleStore) GetByInstrument(ctx context.Context, instrument string, tf domain.Timeframe, start, end int64) ([]*domain.Candle, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT instrument, timeframe, open_time, open, high, low, close, volume, trade_count
		FROM candles
		WHERE instrument = ? AND timeframe = ? AND open_time >= ? AND open_time <= ?
		ORDER BY open_time ASC
	`, instrument, string(tf), start, end)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		var c domain.Candle
		var timeframe string
		var tradeCount int32
		if err := rows.Scan(&c.Instrument, &timeframe, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &tradeCount); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.Timeframe = domain.Timeframe(timeframe)
		c.TradeCount = int(tradeCount)
		candles = append(candles, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}

// exists checks whether a candle with the same key is already stored.
func (s *CandleStore) exists(ctx context.Context, c *domain.Candle) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM candles
		WHERE instrument = ? AND timeframe = ? AND open_time = ?
	`, c.Instrument, string(c.Timeframe), c.OpenTime).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
