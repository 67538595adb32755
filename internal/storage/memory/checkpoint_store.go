package memory

import (
	"context"
	"sync"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[uint64]*domain.LedgerCheckpoint // keyed by journal sequence
	latest      uint64
	hasAny      bool
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[uint64]*domain.LedgerCheckpoint)}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Save persists a checkpoint keyed by journal sequence.
func (s *CheckpointStore) Save(_ context.Context, cp *domain.LedgerCheckpoint) error {
	if cp == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.checkpoints[cp.Sequence]; exists {
		return storage.ErrDuplicateKey
	}

	s.checkpoints[cp.Sequence] = cloneCheckpoint(cp)
	if !s.hasAny || cp.Sequence > s.latest {
		s.latest = cp.Sequence
		s.hasAny = true
	}
	return nil
}

// Latest returns the most recent checkpoint.
func (s *CheckpointStore) Latest(_ context.Context) (*domain.LedgerCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasAny {
		return nil, storage.ErrNotFound
	}
	return cloneCheckpoint(s.checkpoints[s.latest]), nil
}

func cloneCheckpoint(cp *domain.LedgerCheckpoint) *domain.LedgerCheckpoint {
	out := *cp
	out.Positions = make([]*domain.Position, 0, len(cp.Positions))
	for _, p := range cp.Positions {
		out.Positions = append(out.Positions, p.Clone())
	}
	return &out
}
