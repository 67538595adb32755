// Package scheduler fans normalized market data out to registered
// strategies, one callback at a time in registration order, and collects
// the signals they emit.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/strategy"
)

// ErrDuplicateStrategy rejects a second registration under one name.
var ErrDuplicateStrategy = errors.New("strategy already registered")

// ViewProvider builds the read-only account snapshot passed to
// strategies. It is called once per dispatch cycle, so every strategy in
// the cycle decides against the same view.
type ViewProvider func() *strategy.AccountView

// Scheduler owns the strategy set. Dispatch methods are not safe for
// concurrent use; the agent calls them from its single event loop.
type Scheduler struct {
	view ViewProvider
	log  *zap.SugaredLogger

	ordered  []strategy.Strategy
	byName   map[string]strategy.Strategy
	disabled map[string]bool
}

// New creates a scheduler.
func New(view ViewProvider, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		view:     view,
		log:      log,
		byName:   make(map[string]strategy.Strategy),
		disabled: make(map[string]bool),
	}
}

// Register adds a strategy. Dispatch order is registration order.
func (s *Scheduler) Register(st strategy.Strategy) error {
	if _, ok := s.byName[st.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, st.Name())
	}
	s.byName[st.Name()] = st
	s.ordered = append(s.ordered, st)
	return nil
}

// Strategies returns the registered names in dispatch order.
func (s *Scheduler) Strategies() []string {
	out := make([]string, 0, len(s.ordered))
	for _, st := range s.ordered {
		out = append(out, st.Name())
	}
	return out
}

// Disabled reports whether a strategy was benched after a panic.
func (s *Scheduler) Disabled(name string) bool { return s.disabled[name] }

// DispatchTick delivers one tick to every subscribed strategy and
// returns the collected signals in dispatch order.
func (s *Scheduler) DispatchTick(ctx context.Context, t *domain.Tick) []domain.StrategySignal {
	return s.dispatch(t.Instrument, func(st strategy.Strategy, view *strategy.AccountView) []domain.StrategySignal {
		return st.OnTick(ctx, t, view)
	})
}

// DispatchCandle delivers one closed candle to every subscribed strategy.
func (s *Scheduler) DispatchCandle(ctx context.Context, c *domain.Candle) []domain.StrategySignal {
	return s.dispatch(c.Instrument, func(st strategy.Strategy, view *strategy.AccountView) []domain.StrategySignal {
		return st.OnCandle(ctx, c, view)
	})
}

func (s *Scheduler) dispatch(instrument string, call func(strategy.Strategy, *strategy.AccountView) []domain.StrategySignal) []domain.StrategySignal {
	view := s.view()
	var out []domain.StrategySignal
	for _, st := range s.ordered {
		if s.disabled[st.Name()] || !wants(st, instrument) {
			continue
		}
		out = append(out, s.invoke(st, view, call)...)
	}
	return out
}

// invoke runs one callback with panic isolation. A panicking strategy is
// benched so it cannot poison subsequent cycles, the rest of the set
// keeps trading.
func (s *Scheduler) invoke(st strategy.Strategy, view *strategy.AccountView, call func(strategy.Strategy, *strategy.AccountView) []domain.StrategySignal) (signals []domain.StrategySignal) {
	defer func() {
		if r := recover(); r != nil {
			s.disabled[st.Name()] = true
			s.log.Errorw("strategy panicked, disabling it",
				"strategy", st.Name(), "panic", r, "stack", string(debug.Stack()))
			signals = nil
		}
	}()
	return call(st, view)
}

func wants(st strategy.Strategy, instrument string) bool {
	for _, sub := range st.Instruments() {
		if sub == instrument {
			return true
		}
	}
	return false
}
