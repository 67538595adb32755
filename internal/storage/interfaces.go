package storage

import (
	"context"

	"crypto-trading-agent/internal/domain"
)

// FillJournal is the durable append-only fill log, the ledger's source of
// truth. Sequences are assigned by the journal, start at 1, and are
// strictly increasing with no gaps.
type FillJournal interface {
	// Append records a fill and returns its assigned sequence.
	// Returns ErrDuplicateKey if a fill with the same FillID exists.
	Append(ctx context.Context, f *domain.Fill) (uint64, error)

	// ReplaySince returns all fills with sequence > since, ordered by
	// sequence ASC. since=0 replays the whole journal.
	ReplaySince(ctx context.Context, since uint64) ([]*domain.Fill, error)

	// LastSequence returns the highest assigned sequence, 0 when empty.
	LastSequence(ctx context.Context) (uint64, error)
}

// CheckpointStore persists periodic ledger snapshots.
type CheckpointStore interface {
	// Save persists a checkpoint. Checkpoints are keyed by journal
	// sequence; saving the same sequence twice returns ErrDuplicateKey.
	Save(ctx context.Context, cp *domain.LedgerCheckpoint) error

	// Latest returns the most recent checkpoint. Returns ErrNotFound
	// when no checkpoint has been saved.
	Latest(ctx context.Context) (*domain.LedgerCheckpoint, error)
}

// OrderStore archives order state for audit and restart reconciliation.
type OrderStore interface {
	// Insert adds a new order. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, o *domain.Order) error

	// Update replaces the stored order. Returns ErrNotFound if absent.
	Update(ctx context.Context, o *domain.Order) error

	// GetByID retrieves an order by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// Open retrieves all non-terminal orders, ordered by created-at ASC.
	Open(ctx context.Context) ([]*domain.Order, error)
}

// TickStore provides access to normalized tick history.
type TickStore interface {
	// InsertBulk adds multiple ticks. Fails the entire batch on a
	// duplicate (instrument, timestamp, sequence).
	InsertBulk(ctx context.Context, ticks []*domain.Tick) error

	// GetByInstrument retrieves ticks within [start, end] (inclusive),
	// ordered by (timestamp, sequence) ASC.
	GetByInstrument(ctx context.Context, instrument string, start, end int64) ([]*domain.Tick, error)
}

// CandleStore provides access to aggregated candle history.
type CandleStore interface {
	// InsertBulk adds multiple candles. Fails the entire batch on a
	// duplicate (instrument, timeframe, open_time).
	InsertBulk(ctx context.Context, candles []*domain.Candle) error

	// GetByInstrument retrieves candles for one timeframe within
	// [start, end] (inclusive), ordered by open_time ASC.
	GetByInstrument(ctx context.Context, instrument string, tf domain.Timeframe, start, end int64) ([]*domain.Candle, error)
}
