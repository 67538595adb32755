package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

func testOrder(id string, status domain.OrderStatus, createdAt int64) *domain.Order {
	return &domain.Order{
		ID:         id,
		Instrument: "BTC-USDT",
		Side:       domain.SideBuy,
		Type:       domain.OrderTypeLimit,
		Price:      decimal.NewFromInt(50000),
		Quantity:   decimal.NewFromInt(1),
		Status:     status,
		CreatedAt:  createdAt,
	}
}

func TestOrderStore_InsertAndGet(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testOrder("o1", domain.OrderStatusCreated, 1000)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "o1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.OrderStatusCreated {
		t.Errorf("Status mismatch: got %s", got.Status)
	}

	if err := store.Insert(ctx, testOrder("o1", domain.OrderStatusCreated, 1000)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestOrderStore_UpdateMissing(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()

	err := store.Update(ctx, testOrder("nope", domain.OrderStatusFilled, 1000))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestOrderStore_OpenExcludesTerminal(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()

	orders := []*domain.Order{
		testOrder("o1", domain.OrderStatusAcknowledged, 3000),
		testOrder("o2", domain.OrderStatusFilled, 1000),
		testOrder("o3", domain.OrderStatusSubmitted, 2000),
		testOrder("o4", domain.OrderStatusCancelled, 1500),
	}
	for _, o := range orders {
		if err := store.Insert(ctx, o); err != nil {
			t.Fatalf("Insert %s failed: %v", o.ID, err)
		}
	}

	open, err := store.Open(ctx)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("Expected 2 open orders, got %d", len(open))
	}
	// Ordered by created-at ASC
	if open[0].ID != "o3" || open[1].ID != "o1" {
		t.Errorf("Unexpected order: %s, %s", open[0].ID, open[1].ID)
	}
}

func TestOrderStore_GetReturnsCopy(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testOrder("o1", domain.OrderStatusCreated, 1000)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "o1")
	got.Status = domain.OrderStatusFilled

	again, _ := store.GetByID(ctx, "o1")
	if again.Status != domain.OrderStatusCreated {
		t.Errorf("Store leaked a mutable reference")
	}
}
