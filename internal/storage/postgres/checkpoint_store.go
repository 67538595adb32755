package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore using PostgreSQL.
// Position snapshots are stored as JSONB; checkpoints are small and read
// once per restart, so relational decomposition buys nothing.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Save persists a checkpoint keyed by journal sequence. Returns
// ErrDuplicateKey when that sequence was already checkpointed.
func (s *CheckpointStore) Save(ctx context.Context, cp *domain.LedgerCheckpoint) (err error) {
	defer func(start time.Time) { observeQuery("save_checkpoint", start, err) }(time.Now())

	positions, err := json.Marshal(cp.Positions)
	if err != nil {
		return fmt.Errorf("marshal checkpoint positions: %w", err)
	}

	query := `
		INSERT INTO ledger_checkpoints (seq, cash, positions, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = s.pool.Exec(ctx, query, cp.Sequence, cp.Cash, positions, cp.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Latest returns the most recent checkpoint, ErrNotFound when none exists.
func (s *CheckpointStore) Latest(ctx context.Context) (_ *domain.LedgerCheckpoint, err error) {
	defer func(start time.Time) { observeQuery("load_checkpoint", start, err) }(time.Now())

	query := `
		SELECT seq, cash, positions, created_at
		FROM ledger_checkpoints
		ORDER BY seq DESC
		LIMIT 1
	`

	var cp domain.LedgerCheckpoint
	var positions []byte
	err = s.pool.QueryRow(ctx, query).Scan(&cp.Sequence, &cp.Cash, &positions, &cp.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}
	if err := json.Unmarshal(positions, &cp.Positions); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint positions: %w", err)
	}
	return &cp, nil
}
