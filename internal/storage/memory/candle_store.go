package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Candle // keyed by composite key
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{data: make(map[string]*domain.Candle)}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// candleKey generates a unique key for a candle.
func candleKey(instrument string, tf domain.Timeframe, openTime int64) string {
	return fmt.Sprintf("%s|%s|%d", instrument, tf, openTime)
}

// InsertBulk adds multiple candles. Fails entire batch on any duplicate.
func (s *CandleStore) InsertBulk(_ context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(candles))

	for _, c := range candles {
		if c == nil || c.Instrument == "" {
			return storage.ErrInvalidInput
		}
		key := candleKey(c.Instrument, c.Timeframe, c.OpenTime)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, c := range candles {
		copy := *c
		s.data[candleKey(c.Instrument, c.Timeframe, c.OpenTime)] = &copy
	}
	return nil
}

// GetByInstrument retrieves candles for one timeframe within [start, end]
// inclusive, ordered by open_time ASC.
func (s *CandleStore) GetByInstrument(_ context.Context, instrument string, tf domain.Timeframe, start, end int64) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Candle
	for _, c := range s.data {
		if c.Instrument == instrument && c.Timeframe == tf && c.OpenTime >= start && c.OpenTime <= end {
			copy := *c
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenTime < out[j].OpenTime
	})
	return out, nil
}
