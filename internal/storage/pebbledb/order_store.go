package pebbledb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

// OrderStore implements storage.OrderStore on Pebble.
type OrderStore struct {
	store *Store
}

// NewOrderStore creates an order store on an open store.
func NewOrderStore(store *Store) *OrderStore {
	return &OrderStore{store: store}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

func orderKey(id string) []byte { return append([]byte("ord:"), id...) }

// Insert adds a new order. Returns ErrDuplicateKey if the ID exists.
func (s *OrderStore) Insert(ctx context.Context, o *domain.Order) error {
	key := orderKey(o.ID)
	if _, closer, err := s.store.db.Get(key); err == nil {
		closer.Close()
		return storage.ErrDuplicateKey
	} else if !isNotFound(err) {
		return fmt.Errorf("check order: %w", err)
	}
	return s.put(key, o)
}

// Update replaces the stored order. Returns ErrNotFound if absent.
func (s *OrderStore) Update(ctx context.Context, o *domain.Order) error {
	key := orderKey(o.ID)
	if _, closer, err := s.store.db.Get(key); err != nil {
		if isNotFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("check order: %w", err)
	} else {
		closer.Close()
	}
	return s.put(key, o)
}

// GetByID retrieves an order by ID. Returns ErrNotFound if absent.
func (s *OrderStore) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	data, closer, err := s.store.db.Get(orderKey(orderID))
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	defer closer.Close()

	var o domain.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order %s: %w", orderID, err)
	}
	return &o, nil
}

// Open retrieves all non-terminal orders, ordered by created-at ASC.
func (s *OrderStore) Open(ctx context.Context) ([]*domain.Order, error) {
	iter, err := s.store.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("ord:"),
		UpperBound: keyUpperBound([]byte("ord:")),
	})
	if err != nil {
		return nil, fmt.Errorf("open order iterator: %w", err)
	}
	defer iter.Close()

	var orders []*domain.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o domain.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("unmarshal order at %s: %w", iter.Key(), err)
		}
		if !o.Status.IsTerminal() {
			orders = append(orders, &o)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	sort.Slice(orders, func(i, k int) bool {
		if orders[i].CreatedAt != orders[k].CreatedAt {
			return orders[i].CreatedAt < orders[k].CreatedAt
		}
		return orders[i].ID < orders[k].ID
	})
	return orders, nil
}

func (s *OrderStore) put(key []byte, o *domain.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", o.ID, err)
	}
	if err := s.store.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("store order %s: %w", o.ID, err)
	}
	return nil
}
