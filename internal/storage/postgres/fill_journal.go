package postgres

import (
	"context"
	"fmt"
	"time"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

// FillJournal implements storage.FillJournal using PostgreSQL. Sequences
// come from a BIGSERIAL column, so ordering survives restarts and
// concurrent writers.
type FillJournal struct {
	pool *Pool
}

// NewFillJournal creates a new FillJournal.
func NewFillJournal(pool *Pool) *FillJournal {
	return &FillJournal{pool: pool}
}

// Compile-time interface check.
var _ storage.FillJournal = (*FillJournal)(nil)

// Append records a fill and returns its assigned sequence. Returns
// ErrDuplicateKey if the fill_id already exists.
func (j *FillJournal) Append(ctx context.Context, f *domain.Fill) (_ uint64, err error) {
	defer func(start time.Time) { observeQuery("append_fill", start, err) }(time.Now())

	query := `
		INSERT INTO fill_journal (
			fill_id, order_id, instrument, side, quantity, price, fill_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`

	var seq uint64
	err = j.pool.QueryRow(ctx, query,
		f.FillID, f.OrderID, f.Instrument, string(f.Side), f.Quantity, f.Price, f.Timestamp,
	).Scan(&seq)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, storage.ErrDuplicateKey
		}
		return 0, fmt.Errorf("append fill: %w", err)
	}
	return seq, nil
}

// ReplaySince returns all fills with sequence > since, ordered by
// sequence ASC.
func (j *FillJournal) ReplaySince(ctx context.Context, since uint64) (_ []*domain.Fill, err error) {
	defer func(start time.Time) { observeQuery("replay_fills", start, err) }(time.Now())

	query := `
		SELECT seq, fill_id, order_id, instrument, side, quantity, price, fill_time
		FROM fill_journal
		WHERE seq > $1
		ORDER BY seq ASC
	`

	rows, err := j.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("replay fills since %d: %w", since, err)
	}
	defer rows.Close()

	var fills []*domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		if err := rows.Scan(&f.Sequence, &f.FillID, &f.OrderID, &f.Instrument, &side, &f.Quantity, &f.Price, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("scan fill row: %w", err)
		}
		f.Side = domain.Side(side)
		fills = append(fills, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fill rows: %w", err)
	}
	return fills, nil
}

// LastSequence returns the highest assigned sequence, 0 when empty.
func (j *FillJournal) LastSequence(ctx context.Context) (_ uint64, err error) {
	defer func(start time.Time) { observeQuery("last_fill_sequence", start, err) }(time.Now())

	var seq uint64
	err = j.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM fill_journal`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last fill sequence: %w", err)
	}
	return seq, nil
}
