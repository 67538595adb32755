package ledger

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/observability"
	"crypto-trading-agent/internal/storage/memory"
)

func newTestStore(t *testing.T) (*Store, *memory.OrderStore) {
	t.Helper()
	orders := memory.NewOrderStore()
	s := NewStore(Options{
		Journal:     memory.NewFillJournal(),
		Checkpoints: memory.NewCheckpointStore(),
		Orders:      orders,
		InitialCash: decimal.NewFromInt(100_000),
	})
	t.Cleanup(s.Close)
	return s, orders
}

func registerOrder(t *testing.T, orders *memory.OrderStore, id string) {
	t.Helper()
	err := orders.Insert(context.Background(), &domain.Order{
		ID:         id,
		Instrument: "BTC-USDT",
		Side:       domain.SideBuy,
		Type:       domain.OrderTypeLimit,
		Quantity:   decimal.NewFromInt(100),
		Status:     domain.OrderStatusAcknowledged,
	})
	require.NoError(t, err)
}

func fill(id, orderID string, side domain.Side, qty, price int64, ts int64) *domain.Fill {
	return &domain.Fill{
		FillID:     id,
		OrderID:    orderID,
		Instrument: "BTC-USDT",
		Side:       side,
		Quantity:   decimal.NewFromInt(qty),
		Price:      decimal.NewFromInt(price),
		Timestamp:  ts,
	}
}

func TestStore_RecordFillUpdatesPosition(t *testing.T) {
	s, orders := newTestStore(t)
	ctx := context.Background()
	registerOrder(t, orders, "o1")

	pos, err := s.RecordFill(ctx, fill("f1", "o1", domain.SideBuy, 2, 100, 1000))
	require.NoError(t, err)
	require.True(t, pos.Quantity.Equal(decimal.NewFromInt(2)))
	require.True(t, pos.AvgCost.Equal(decimal.NewFromInt(100)))

	// Weighted-average cost: 2@100 + 2@110 = 4@105
	pos, err = s.RecordFill(ctx, fill("f2", "o1", domain.SideBuy, 2, 110, 2000))
	require.NoError(t, err)
	require.True(t, pos.Quantity.Equal(decimal.NewFromInt(4)))
	require.True(t, pos.AvgCost.Equal(decimal.NewFromInt(105)), "avg cost = %s", pos.AvgCost)

	// Cash decreased by both notionals
	require.True(t, s.Cash().Equal(decimal.NewFromInt(100_000-200-220)))
}

func TestStore_RealizedPnLOnReduce(t *testing.T) {
	s, orders := newTestStore(t)
	ctx := context.Background()
	registerOrder(t, orders, "o1")

	_, err := s.RecordFill(ctx, fill("f1", "o1", domain.SideBuy, 4, 100, 1000))
	require.NoError(t, err)

	// Sell 3 at 120: realized = (120-100)*3 = 60
	pos, err := s.RecordFill(ctx, fill("f2", "o1", domain.SideSell, 3, 120, 2000))
	require.NoError(t, err)
	require.True(t, pos.Quantity.Equal(decimal.NewFromInt(1)))
	require.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(60)), "realized = %s", pos.RealizedPnL)
	require.True(t, pos.AvgCost.Equal(decimal.NewFromInt(100)), "cost basis must survive a reduce")

	require.True(t, s.RealizedToday(2000).Equal(decimal.NewFromInt(60)))
}

func TestStore_FlipThroughZero(t *testing.T) {
	s, orders := newTestStore(t)
	ctx := context.Background()
	registerOrder(t, orders, "o1")

	_, err := s.RecordFill(ctx, fill("f1", "o1", domain.SideBuy, 2, 100, 1000))
	require.NoError(t, err)

	// Sell 5 at 90: close 2 (realized -20), open short 3 at 90
	pos, err := s.RecordFill(ctx, fill("f2", "o1", domain.SideSell, 5, 90, 2000))
	require.NoError(t, err)
	require.True(t, pos.Quantity.Equal(decimal.NewFromInt(-3)))
	require.True(t, pos.AvgCost.Equal(decimal.NewFromInt(90)))
	require.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(-20)), "realized = %s", pos.RealizedPnL)
}

func TestStore_UnknownOrderAndDuplicateFill(t *testing.T) {
	s, orders := newTestStore(t)
	ctx := context.Background()
	registerOrder(t, orders, "o1")

	_, err := s.RecordFill(ctx, fill("f1", "ghost", domain.SideBuy, 1, 100, 1000))
	require.ErrorIs(t, err, ErrUnknownOrder)

	_, err = s.RecordFill(ctx, fill("f1", "o1", domain.SideBuy, 1, 100, 1000))
	require.NoError(t, err)

	_, err = s.RecordFill(ctx, fill("f1", "o1", domain.SideBuy, 1, 100, 1000))
	require.ErrorIs(t, err, ErrDuplicateFill)

	// The duplicate must not have moved the position.
	require.True(t, s.GetPosition("BTC-USDT").Quantity.Equal(decimal.NewFromInt(1)))
}

// Replay invariant: position quantity equals the signed sum of journaled
// fills, and restoring from checkpoint + journal reproduces the live
// projection exactly.
func TestStore_CheckpointRestoreReplayInvariant(t *testing.T) {
	orders := memory.NewOrderStore()
	journal := memory.NewFillJournal()
	checkpoints := memory.NewCheckpointStore()

	s := NewStore(Options{Journal: journal, Checkpoints: checkpoints, Orders: orders, InitialCash: decimal.NewFromInt(50_000)})
	ctx := context.Background()
	registerOrder(t, orders, "o1")

	fills := []*domain.Fill{
		fill("f1", "o1", domain.SideBuy, 5, 100, 1000),
		fill("f2", "o1", domain.SideSell, 2, 110, 2000),
		fill("f3", "o1", domain.SideBuy, 1, 105, 3000),
	}
	signedSum := decimal.Zero
	for i, f := range fills {
		_, err := s.RecordFill(ctx, f)
		require.NoError(t, err)
		signedSum = signedSum.Add(f.SignedQuantity())

		if i == 1 {
			require.NoError(t, s.Checkpoint(ctx))
		}
	}

	live := s.GetPosition("BTC-USDT")
	require.True(t, live.Quantity.Equal(signedSum), "live position %s != signed fill sum %s", live.Quantity, signedSum)
	liveCash := s.Cash()
	s.Close()

	// Fresh store over the same journal: checkpoint at f2, replay f3.
	restored := NewStore(Options{Journal: journal, Checkpoints: checkpoints, Orders: orders})
	defer restored.Close()
	require.NoError(t, restored.Restore(ctx))

	got := restored.GetPosition("BTC-USDT")
	require.True(t, got.Quantity.Equal(live.Quantity))
	require.True(t, got.AvgCost.Equal(live.AvgCost))
	require.True(t, got.RealizedPnL.Equal(live.RealizedPnL))
	require.True(t, restored.Cash().Equal(liveCash))
}

func TestStore_EquityMarksOpenPositions(t *testing.T) {
	s, orders := newTestStore(t)
	ctx := context.Background()
	registerOrder(t, orders, "o1")

	_, err := s.RecordFill(ctx, fill("f1", "o1", domain.SideBuy, 2, 100, 1000))
	require.NoError(t, err)

	// cash = 100000 - 200 = 99800; position 2 @ mark 150 = 300
	eq := s.Equity(map[string]decimal.Decimal{"BTC-USDT": decimal.NewFromInt(150)})
	require.True(t, eq.Equal(decimal.NewFromInt(100_100)), "equity = %s", eq)
}

func TestStore_DailyRealizedResetsAcrossDays(t *testing.T) {
	s, orders := newTestStore(t)
	ctx := context.Background()
	registerOrder(t, orders, "o1")

	day0 := int64(1000)
	day1 := int64(24*60*60*1000 + 1000)

	_, err := s.RecordFill(ctx, fill("f1", "o1", domain.SideBuy, 2, 100, day0))
	require.NoError(t, err)
	_, err = s.RecordFill(ctx, fill("f2", "o1", domain.SideSell, 2, 150, day0))
	require.NoError(t, err)
	require.True(t, s.RealizedToday(day0).Equal(decimal.NewFromInt(100)))

	// Next day starts a fresh bucket.
	require.True(t, s.RealizedToday(day1).IsZero())

	_, err = s.RecordFill(ctx, fill("f3", "o1", domain.SideBuy, 1, 100, day1))
	require.NoError(t, err)
	_, err = s.RecordFill(ctx, fill("f4", "o1", domain.SideSell, 1, 90, day1))
	require.NoError(t, err)
	require.True(t, s.RealizedToday(day1).Equal(decimal.NewFromInt(-10)))
}

func TestStore_JournalCountersTrackOutcomes(t *testing.T) {
	s, orders := newTestStore(t)
	ctx := context.Background()
	registerOrder(t, orders, "o1")

	journaled := testutil.ToFloat64(observability.DefaultMetrics.FillsJournaled)
	duplicates := testutil.ToFloat64(observability.DefaultMetrics.DuplicateFills)

	_, err := s.RecordFill(ctx, fill("fc1", "o1", domain.SideBuy, 1, 100, 1000))
	require.NoError(t, err)
	_, err = s.RecordFill(ctx, fill("fc1", "o1", domain.SideBuy, 1, 100, 1000))
	require.ErrorIs(t, err, ErrDuplicateFill)

	require.Equal(t, journaled+1, testutil.ToFloat64(observability.DefaultMetrics.FillsJournaled))
	require.Equal(t, duplicates+1, testutil.ToFloat64(observability.DefaultMetrics.DuplicateFills))
}
