package clickhouse

import (
	"context"
	"fmt"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

// TickStore implements storage.TickStore using ClickHouse.
type TickStore struct {
	conn *Conn
}

// NewTickStore creates a new TickStore.
func NewTickStore(conn *Conn) *TickStore {
	return &TickStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TickStore = (*TickStore)(nil)

// InsertBulk adds multiple ticks. Fails the entire batch on a duplicate
// (instrument, timestamp, sequence).
func (s *TickStore) InsertBulk(ctx context.Context, ticks []*domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[domain.TickKey]struct{}, len(ticks))
	for _, t := range ticks {
		k := t.Key()
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, t := range ticks {
		exists, err := s.exists(ctx, t)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ticks (instrument, ts, seq, price, volume)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range ticks {
		if err := batch.Append(t.Instrument, t.Timestamp, t.Sequence, t.Price, t.Volume); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByInstrument retrieves ticks within [start, end] inclusive, ordered
// by (timestamp, sequence) ASC.
func (s *TickStore) GetByInstrument(ctx context.Context, instrument string, start, end int64) ([]*domain.Tick, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT instrument, ts, seq, price, volume
		FROM ticks
		WHERE instrument = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC, seq ASC
	`, instrument, start, end)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var ticks []*domain.Tick
	for rows.Next() {
		var t domain.Tick
		if err := rows.Scan(&t.Instrument, &t.Timestamp, &t.Sequence, &t.Price, &t.Volume); err != nil {
			return nil, fmt.Errorf("scan tick row: %w", err)
		}
		ticks = append(ticks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tick rows: %w", err)
	}
	return ticks, nil
}

// exists checks whether a tick with the same key is already stored.
func (s *TickStore) exists(ctx context.Context, t *domain.Tick) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM ticks
		WHERE instrument = ? AND ts = ? AND seq = ?
	`, t.Instrument, t.Timestamp, t.Sequence).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
