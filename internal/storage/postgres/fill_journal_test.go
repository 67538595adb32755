package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/storage"
)

func testFill(fillID, orderID string, qty int64) *domain.Fill {
	return &domain.Fill{
		FillID:     fillID,
		OrderID:    orderID,
		Instrument: "BTC-USD",
		Side:       domain.SideBuy,
		Quantity:   decimal.NewFromInt(qty),
		Price:      decimal.NewFromInt(50000),
		Timestamp:  time.Now().UnixMilli(),
	}
}

func TestFillJournal_AppendAssignsIncreasingSequences(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	journal := NewFillJournal(pool)
	ctx := context.Background()

	seq1, err := journal.Append(ctx, testFill("f1", "o1", 1))
	require.NoError(t, err)
	seq2, err := journal.Append(ctx, testFill("f2", "o1", 2))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, uint64(2), seq2)

	last, err := journal.LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}

func TestFillJournal_DuplicateFillID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	journal := NewFillJournal(pool)
	ctx := context.Background()

	_, err := journal.Append(ctx, testFill("f1", "o1", 1))
	require.NoError(t, err)

	_, err = journal.Append(ctx, testFill("f1", "o2", 5))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestFillJournal_ReplaySince(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	journal := NewFillJournal(pool)
	ctx := context.Background()

	for i, id := range []string{"f1", "f2", "f3"} {
		_, err := journal.Append(ctx, testFill(id, "o1", int64(i+1)))
		require.NoError(t, err)
	}

	fills, err := journal.ReplaySince(ctx, 1)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "f2", fills[0].FillID)
	assert.Equal(t, uint64(2), fills[0].Sequence)
	assert.Equal(t, "f3", fills[1].FillID)
	assert.Equal(t, domain.SideBuy, fills[0].Side)
	assert.True(t, fills[0].Quantity.Equal(decimal.NewFromInt(2)))

	all, err := journal.ReplaySince(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFillJournal_EmptyJournal(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	journal := NewFillJournal(pool)
	ctx := context.Background()

	last, err := journal.LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last)

	fills, err := journal.ReplaySince(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, fills)
}

func TestCheckpointStore_SaveAndLatest(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCheckpointStore(pool)
	ctx := context.Background()

	_, err := store.Latest(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	cp := &domain.LedgerCheckpoint{
		Sequence:  5,
		Cash:      decimal.NewFromInt(90000),
		CreatedAt: time.Now().UnixMilli(),
		Positions: []*domain.Position{{
			Instrument: "BTC-USD",
			Quantity:   decimal.NewFromInt(2),
			AvgCost:    decimal.NewFromInt(50000),
		}},
	}
	require.NoError(t, store.Save(ctx, cp))

	// Same sequence again is a duplicate.
	assert.ErrorIs(t, store.Save(ctx, cp), storage.ErrDuplicateKey)

	cp2 := &domain.LedgerCheckpoint{Sequence: 9, Cash: decimal.NewFromInt(85000), CreatedAt: time.Now().UnixMilli()}
	require.NoError(t, store.Save(ctx, cp2))

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), latest.Sequence)
	assert.True(t, latest.Cash.Equal(decimal.NewFromInt(85000)))
}
