// Package ledger holds the authoritative record of positions, cash and
// P&L. The append-only fill journal is the source of truth; the in-memory
// positions are a cached projection rebuilt from checkpoint + journal
// replay after a crash.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/observability"
	"crypto-trading-agent/internal/storage"
)

// Ledger integrity errors. Never swallowed: callers and operators see
// them.
var (
	// ErrUnknownOrder is returned when a fill references no known order.
	ErrUnknownOrder = errors.New("fill references unknown order")

	// ErrDuplicateFill is returned when a fill's deterministic ID was
	// already journaled.
	ErrDuplicateFill = errors.New("duplicate fill")
)

// Options configures a Store.
type Options struct {
	Journal     storage.FillJournal
	Checkpoints storage.CheckpointStore
	Orders      storage.OrderStore
	InitialCash decimal.Decimal
	Logger      *zap.SugaredLogger
}

// Store is the position and ledger store. All mutations funnel through
// RecordFill under a single writer lock, preserving the replay
// invariant: position quantity always equals the signed sum of journaled
// fills since the last checkpoint base.
type Store struct {
	journal     storage.FillJournal
	checkpoints storage.CheckpointStore
	orders      storage.OrderStore
	log         *zap.SugaredLogger

	writer    chan func() // serializes mutations, single-writer discipline
	done      chan struct{}
	positions map[string]*domain.Position
	cash      decimal.Decimal
	lastSeq   uint64

	// daily realized P&L, bucketed by UTC day of the fill timestamp
	day           int64
	realizedToday decimal.Decimal
}

// NewStore creates a ledger store and starts its writer loop.
func NewStore(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Store{
		journal:     opts.Journal,
		checkpoints: opts.Checkpoints,
		orders:      opts.Orders,
		log:         log,
		writer:      make(chan func()),
		done:        make(chan struct{}),
		positions:   make(map[string]*domain.Position),
		cash:        opts.InitialCash,
	}
	go s.run()
	return s
}

// run executes mutations one at a time. Reads go through it too, so a
// snapshot never observes a half-applied fill.
func (s *Store) run() {
	for fn := range s.writer {
		fn()
	}
	close(s.done)
}

// Close stops the writer loop. Pending submissions complete first.
func (s *Store) Close() {
	close(s.writer)
	<-s.done
}

// do runs fn on the writer goroutine and waits for it.
func (s *Store) do(fn func()) {
	doneCh := make(chan struct{})
	s.writer <- func() {
		fn()
		close(doneCh)
	}
	<-doneCh
}

// RecordFill validates the fill against known orders, appends it to the
// journal and applies it to the cached projection. Returns the updated
// position snapshot.
func (s *Store) RecordFill(ctx context.Context, f *domain.Fill) (*domain.Position, error) {
	if f == nil || f.OrderID == "" || f.FillID == "" {
		return nil, storage.ErrInvalidInput
	}
	if _, err := s.orders.GetByID(ctx, f.OrderID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, f.OrderID)
		}
		return nil, fmt.Errorf("lookup order %s: %w", f.OrderID, err)
	}

	seq, err := s.journal.Append(ctx, f)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			observability.DefaultMetrics.DuplicateFills.Inc()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFill, f.FillID)
		}
		return nil, fmt.Errorf("journal fill %s: %w", f.FillID, err)
	}
	observability.DefaultMetrics.FillsJournaled.Inc()

	journaled := *f
	journaled.Sequence = seq

	var pos *domain.Position
	s.do(func() {
		pos = s.apply(&journaled).Clone()
	})

	s.log.Debugw("fill recorded",
		"fill_id", f.FillID, "order_id", f.OrderID,
		"instrument", f.Instrument, "qty", f.Quantity, "price", f.Price, "seq", seq)
	return pos, nil
}

// GetPosition returns the last-committed snapshot for an instrument. It
// never blocks on in-flight fills beyond the one currently applying.
func (s *Store) GetPosition(instrument string) *domain.Position {
	var pos *domain.Position
	s.do(func() {
		if p, ok := s.positions[instrument]; ok {
			pos = p.Clone()
			return
		}
		pos = &domain.Position{Instrument: instrument, Quantity: decimal.Zero, AvgCost: decimal.Zero, RealizedPnL: decimal.Zero}
	})
	return pos
}

// Positions returns snapshots of every non-empty position.
func (s *Store) Positions() []*domain.Position {
	var out []*domain.Position
	s.do(func() {
		for _, p := range s.positions {
			out = append(out, p.Clone())
		}
	})
	return out
}

// Cash returns the current cash balance in quote units.
func (s *Store) Cash() decimal.Decimal {
	var c decimal.Decimal
	s.do(func() { c = s.cash })
	return c
}

// RealizedToday returns realized P&L for the UTC day containing now.
func (s *Store) RealizedToday(now int64) decimal.Decimal {
	var r decimal.Decimal
	s.do(func() {
		if dayOf(now) == s.day {
			r = s.realizedToday
		} else {
			r = decimal.Zero
		}
	})
	return r
}

// Equity marks all positions to the supplied prices and adds cash.
// Instruments without a mark contribute their cost basis.
func (s *Store) Equity(marks map[string]decimal.Decimal) decimal.Decimal {
	var eq decimal.Decimal
	s.do(func() {
		eq = s.cash
		for _, p := range s.positions {
			mark, ok := marks[p.Instrument]
			if !ok {
				mark = p.AvgCost
			}
			eq = eq.Add(p.Quantity.Mul(mark))
		}
	})
	return eq
}

// Checkpoint persists the current projection. Restore replays only fills
// journaled after this point.
func (s *Store) Checkpoint(ctx context.Context) error {
	var cp *domain.LedgerCheckpoint
	s.do(func() {
		cp = &domain.LedgerCheckpoint{
			Sequence:  s.lastSeq,
			Cash:      s.cash,
			CreatedAt: time.Now().UnixMilli(),
		}
		for _, p := range s.positions {
			cp.Positions = append(cp.Positions, p.Clone())
		}
	})

	if err := s.checkpoints.Save(ctx, cp); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Nothing journaled since the last checkpoint.
			return nil
		}
		return fmt.Errorf("save checkpoint at seq %d: %w", cp.Sequence, err)
	}
	s.log.Infow("ledger checkpoint saved", "seq", cp.Sequence, "positions", len(cp.Positions))
	return nil
}

// Restore rebuilds the projection from the latest checkpoint plus journal
// replay. Call before serving reads after a restart.
func (s *Store) Restore(ctx context.Context) error {
	cp, err := s.checkpoints.Latest(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load latest checkpoint: %w", err)
	}

	var base uint64
	s.do(func() {
		s.positions = make(map[string]*domain.Position)
		s.realizedToday = decimal.Zero
		s.day = 0
		s.lastSeq = 0
		if cp != nil {
			s.cash = cp.Cash
			s.lastSeq = cp.Sequence
			for _, p := range cp.Positions {
				s.positions[p.Instrument] = p.Clone()
			}
		}
		base = s.lastSeq
	})

	fills, err := s.journal.ReplaySince(ctx, base)
	if err != nil {
		return fmt.Errorf("replay journal since %d: %w", base, err)
	}
	s.do(func() {
		for _, f := range fills {
			s.apply(f)
		}
	})

	s.log.Infow("ledger restored", "checkpoint_seq", base, "replayed_fills", len(fills))
	return nil
}

// apply folds one journaled fill into the projection. Runs on the writer
// goroutine only.
func (s *Store) apply(f *domain.Fill) *domain.Position {
	pos, ok := s.positions[f.Instrument]
	if !ok {
		pos = &domain.Position{
			Instrument:  f.Instrument,
			Quantity:    decimal.Zero,
			AvgCost:     decimal.Zero,
			RealizedPnL: decimal.Zero,
		}
		s.positions[f.Instrument] = pos
	}

	delta := f.SignedQuantity()
	notional := f.Quantity.Mul(f.Price)
	if f.Side == domain.SideBuy {
		s.cash = s.cash.Sub(notional)
	} else {
		s.cash = s.cash.Add(notional)
	}

	realized := decimal.Zero
	switch {
	case pos.Quantity.IsZero() || pos.Quantity.Sign() == delta.Sign():
		// Opening or adding: weighted-average cost.
		oldAbs := pos.Quantity.Abs()
		addAbs := delta.Abs()
		totalAbs := oldAbs.Add(addAbs)
		pos.AvgCost = oldAbs.Mul(pos.AvgCost).Add(addAbs.Mul(f.Price)).Div(totalAbs)
		pos.Quantity = pos.Quantity.Add(delta)

	default:
		// Reducing, closing or flipping.
		closeQty := decimal.Min(delta.Abs(), pos.Quantity.Abs())
		direction := decimal.NewFromInt(int64(pos.Quantity.Sign()))
		realized = f.Price.Sub(pos.AvgCost).Mul(closeQty).Mul(direction)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)

		pos.Quantity = pos.Quantity.Add(delta)
		if pos.Quantity.IsZero() {
			pos.AvgCost = decimal.Zero
		} else if pos.Quantity.Sign() != direction.Sign() {
			// Flipped through zero: residual opens at the fill price.
			pos.AvgCost = f.Price
		}
	}

	day := dayOf(f.Timestamp)
	if day != s.day {
		s.day = day
		s.realizedToday = decimal.Zero
	}
	s.realizedToday = s.realizedToday.Add(realized)

	pos.LastFillSeq = f.Sequence
	pos.UpdatedAt = f.Timestamp
	if f.Sequence > s.lastSeq {
		s.lastSeq = f.Sequence
	}
	return pos
}

// dayOf buckets a millisecond timestamp into a UTC day index.
func dayOf(ts int64) int64 {
	return ts / (24 * 60 * 60 * 1000)
}
