// Package pebbledb provides embedded durable storage on Pebble for
// single-host deployments that need crash-safe journaling without a
// database server.
package pebbledb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Store wraps one Pebble database shared by the journal, checkpoint and
// order stores.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Key layout:
//
//	fs:<8-byte-seq>  fill by sequence
//	fid:<fill-id>    fill-id → sequence, dedup index
//	cp:<8-byte-seq>  ledger checkpoint
//	ord:<order-id>   order archive
func seqKey(prefix string, seq uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], seq)
	return k
}

func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound)
}
