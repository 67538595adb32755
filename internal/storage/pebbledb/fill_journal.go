package pebbledb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

// FillJournal implements storage.FillJournal on Pebble. Every append is
// synced before returning; fills are the one record that must survive a
// crash.
type FillJournal struct {
	store *Store

	mu      sync.Mutex
	lastSeq uint64
	loaded  bool
}

// NewFillJournal creates a journal on an open store.
func NewFillJournal(store *Store) *FillJournal {
	return &FillJournal{store: store}
}

// Compile-time interface check.
var _ storage.FillJournal = (*FillJournal)(nil)

// Append records a fill and returns its assigned sequence. Returns
// ErrDuplicateKey if the FillID already exists.
func (j *FillJournal) Append(ctx context.Context, f *domain.Fill) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.loadLastSeqLocked(); err != nil {
		return 0, err
	}

	idKey := append([]byte("fid:"), f.FillID...)
	if _, closer, err := j.store.db.Get(idKey); err == nil {
		closer.Close()
		return 0, storage.ErrDuplicateKey
	} else if !isNotFound(err) {
		return 0, fmt.Errorf("check fill id: %w", err)
	}

	seq := j.lastSeq + 1
	journaled := *f
	journaled.Sequence = seq
	data, err := json.Marshal(&journaled)
	if err != nil {
		return 0, fmt.Errorf("marshal fill: %w", err)
	}

	seqVal := make([]byte, 8)
	binary.BigEndian.PutUint64(seqVal, seq)

	batch := j.store.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(seqKey("fs:", seq), data, nil); err != nil {
		return 0, fmt.Errorf("batch fill: %w", err)
	}
	if err := batch.Set(idKey, seqVal, nil); err != nil {
		return 0, fmt.Errorf("batch fill id: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("commit fill: %w", err)
	}

	j.lastSeq = seq
	return seq, nil
}

// ReplaySince returns all fills with sequence > since, ordered by
// sequence ASC.
func (j *FillJournal) ReplaySince(ctx context.Context, since uint64) ([]*domain.Fill, error) {
	lower := seqKey("fs:", since+1)
	iter, err := j.store.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keyUpperBound([]byte("fs:")),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal iterator: %w", err)
	}
	defer iter.Close()

	var fills []*domain.Fill
	for iter.First(); iter.Valid(); iter.Next() {
		var f domain.Fill
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			return nil, fmt.Errorf("unmarshal fill at %x: %w", iter.Key(), err)
		}
		fills = append(fills, &f)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return fills, nil
}

// LastSequence returns the highest assigned sequence, 0 when empty.
func (j *FillJournal) LastSequence(ctx context.Context) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.loadLastSeqLocked(); err != nil {
		return 0, err
	}
	return j.lastSeq, nil
}

// loadLastSeqLocked seeks the highest journal key once after open.
func (j *FillJournal) loadLastSeqLocked() error {
	if j.loaded {
		return nil
	}
	iter, err := j.store.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("fs:"),
		UpperBound: keyUpperBound([]byte("fs:")),
	})
	if err != nil {
		return fmt.Errorf("open journal iterator: %w", err)
	}
	defer iter.Close()

	if iter.Last() && iter.Valid() {
		j.lastSeq = binary.BigEndian.Uint64(iter.Key()[len("fs:"):])
	}
	j.loaded = true
	return nil
}
