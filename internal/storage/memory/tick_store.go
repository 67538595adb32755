package memory

import (
	"context"
	"sort"
	"sync"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

// TickStore is an in-memory implementation of storage.TickStore.
type TickStore struct {
	mu   sync.RWMutex
	data map[domain.TickKey]*domain.Tick
}

// NewTickStore creates a new in-memory tick store.
func NewTickStore() *TickStore {
	return &TickStore{data: make(map[domain.TickKey]*domain.Tick)}
}

// Compile-time interface check.
var _ storage.TickStore = (*TickStore)(nil)

// InsertBulk adds multiple ticks. Fails entire batch on any duplicate.
func (s *TickStore) InsertBulk(_ context.Context, ticks []*domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[domain.TickKey]struct{}, len(ticks))

	for _, t := range ticks {
		if t == nil || t.Instrument == "" {
			return storage.ErrInvalidInput
		}
		key := t.Key()
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, t := range ticks {
		copy := *t
		s.data[t.Key()] = &copy
	}
	return nil
}

// GetByInstrument retrieves ticks within [start, end] inclusive, ordered
// by (timestamp, sequence) ASC.
func (s *TickStore) GetByInstrument(_ context.Context, instrument string, start, end int64) ([]*domain.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Tick
	for _, t := range s.data {
		if t.Instrument == instrument && t.Timestamp >= start && t.Timestamp <= end {
			copy := *t
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}
