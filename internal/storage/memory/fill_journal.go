package memory

import (
	"context"
	"sync"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

// FillJournal is an in-memory implementation of storage.FillJournal.
type FillJournal struct {
	mu    sync.RWMutex
	fills []*domain.Fill          // ordered by sequence
	byID  map[string]struct{}     // fill_id dedup
	seq   uint64
}

// NewFillJournal creates a new in-memory fill journal.
func NewFillJournal() *FillJournal {
	return &FillJournal{byID: make(map[string]struct{})}
}

// Compile-time interface check.
var _ storage.FillJournal = (*FillJournal)(nil)

// Append records a fill and returns its assigned sequence.
func (j *FillJournal) Append(_ context.Context, f *domain.Fill) (uint64, error) {
	if f == nil || f.FillID == "" || f.OrderID == "" {
		return 0, storage.ErrInvalidInput
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.byID[f.FillID]; exists {
		return 0, storage.ErrDuplicateKey
	}

	j.seq++
	copy := *f
	copy.Sequence = j.seq
	j.fills = append(j.fills, &copy)
	j.byID[f.FillID] = struct{}{}
	return j.seq, nil
}

// ReplaySince returns all fills with sequence > since, ordered ASC.
func (j *FillJournal) ReplaySince(_ context.Context, since uint64) ([]*domain.Fill, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []*domain.Fill
	for _, f := range j.fills {
		if f.Sequence > since {
			copy := *f
			out = append(out, &copy)
		}
	}
	return out, nil
}

// LastSequence returns the highest assigned sequence, 0 when empty.
func (j *FillJournal) LastSequence(_ context.Context) (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.seq, nil
}
