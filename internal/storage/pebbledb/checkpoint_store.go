package pebbledb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore on Pebble.
type CheckpointStore struct {
	store *Store
}

// NewCheckpointStore creates a checkpoint store on an open store.
func NewCheckpointStore(store *Store) *CheckpointStore {
	return &CheckpointStore{store: store}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Save persists a checkpoint keyed by journal sequence. Returns
// ErrDuplicateKey when that sequence was already checkpointed.
func (s *CheckpointStore) Save(ctx context.Context, cp *domain.LedgerCheckpoint) error {
	key := seqKey("cp:", cp.Sequence)
	if _, closer, err := s.store.db.Get(key); err == nil {
		closer.Close()
		return storage.ErrDuplicateKey
	} else if !isNotFound(err) {
		return fmt.Errorf("check checkpoint: %w", err)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := s.store.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Latest returns the most recent checkpoint, ErrNotFound when none
// exists.
func (s *CheckpointStore) Latest(ctx context.Context) (*domain.LedgerCheckpoint, error) {
	iter, err := s.store.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("cp:"),
		UpperBound: keyUpperBound([]byte("cp:")),
	})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint iterator: %w", err)
	}
	defer iter.Close()

	if !iter.Last() || !iter.Valid() {
		return nil, storage.ErrNotFound
	}
	var cp domain.LedgerCheckpoint
	if err := json.Unmarshal(iter.Value(), &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
