// Package backtest replays candle history through the live decision
// stack: scheduler, risk engine, order lifecycle and ledger, executed
// against the paper gateway. The same strategy code that trades live
// runs unchanged here.
package backtest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/gateway"
	"crypto-trading-agent/internal/ledger"
	"crypto-trading-agent/internal/lifecycle"
	"crypto-trading-agent/internal/marketdata"
	"crypto-trading-agent/internal/risk"
	"crypto-trading-agent/internal/scheduler"
	"crypto-trading-agent/internal/storage/memory"
	"crypto-trading-agent/internal/strategy"
)

// Options configures a backtest run.
type Options struct {
	Instruments map[string]domain.Instrument
	Limits      domain.RiskLimits
	InitialCash decimal.Decimal

	// FillSlices splits each simulated order into this many fills.
	FillSlices int

	Logger *zap.SugaredLogger
}

// Results holds backtest output.
type Results struct {
	Candles      int                `json:"candles"`
	Signals      int                `json:"signals"`
	Orders       int                `json:"orders"`
	Denied       int                `json:"denied"`
	Fills        int                `json:"fills"`
	FinalCash    decimal.Decimal    `json:"final_cash"`
	Equity       decimal.Decimal    `json:"equity"`
	RealizedPnL  decimal.Decimal    `json:"realized_pnl"`
	Positions    []*domain.Position `json:"positions"`
	DeniedByRule map[string]int     `json:"denied_by_rule,omitempty"`
}

// Runner executes strategies over historical candles.
type Runner struct {
	opts  Options
	log   *zap.SugaredLogger
	led   *ledger.Store
	gw    *gateway.PaperGateway
	mgr   *lifecycle.Manager
	sched *scheduler.Scheduler

	marks map[string]decimal.Decimal
	now   int64

	results Results
}

// NewRunner creates a backtest runner with fresh in-memory state.
func NewRunner(opts Options) (*Runner, error) {
	if len(opts.Instruments) == 0 {
		return nil, errors.New("backtest: no instruments")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	r := &Runner{
		opts:  opts,
		log:   log,
		marks: make(map[string]decimal.Decimal),
	}

	orders := memory.NewOrderStore()
	r.led = ledger.NewStore(ledger.Options{
		Journal:     memory.NewFillJournal(),
		Checkpoints: memory.NewCheckpointStore(),
		Orders:      orders,
		InitialCash: opts.InitialCash,
		Logger:      log,
	})
	r.gw = gateway.NewPaperGateway(opts.FillSlices)
	r.mgr = lifecycle.NewManager(lifecycle.Config{
		Clock: func() int64 { return r.now },
	}, r.gw, orders, r.led.RecordFill, log)
	r.sched = scheduler.New(r.accountView, log)
	r.results.DeniedByRule = make(map[string]int)
	return r, nil
}

// Register adds a strategy to the dispatch order.
func (r *Runner) Register(st strategy.Strategy) error {
	return r.sched.Register(st)
}

// Run replays candles in order and returns the accumulated results. The
// candles must be sorted by open time, the order history stores deliver.
func (r *Runner) Run(ctx context.Context, candles []*domain.Candle) (*Results, error) {
	defer r.close()

	if err := marketdata.ValidateCandleOrdering(candles); err != nil {
		return nil, err
	}

	for _, c := range candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.step(ctx, c)
	}

	r.results.FinalCash = r.led.Cash()
	r.results.Equity = r.led.Equity(r.marks)
	for _, p := range r.led.Positions() {
		r.results.Positions = append(r.results.Positions, p)
		r.results.RealizedPnL = r.results.RealizedPnL.Add(p.RealizedPnL)
	}
	res := r.results
	return &res, nil
}

// step advances the simulation by one candle.
func (r *Runner) step(ctx context.Context, c *domain.Candle) {
	r.results.Candles++
	r.now = c.OpenTime + c.Timeframe.DurationMs()
	r.marks[c.Instrument] = c.Close
	r.gw.MarkPrice(c.Instrument, c.Close)

	// Tick-driven strategies see one synthetic tick per candle at the
	// close, stamped with the candle's closing time.
	tick := &domain.Tick{
		Instrument: c.Instrument,
		Timestamp:  r.now,
		Price:      c.Close,
		Volume:     c.Volume,
	}
	for _, sig := range r.sched.DispatchTick(ctx, tick) {
		r.results.Signals++
		r.handleSignal(ctx, sig)
	}
	for _, sig := range r.sched.DispatchCandle(ctx, c) {
		r.results.Signals++
		r.handleSignal(ctx, sig)
	}
	r.drainEvents(ctx)
}

// handleSignal mirrors the live pipeline: intent, risk check, submit.
func (r *Runner) handleSignal(ctx context.Context, sig domain.StrategySignal) {
	intent, ok := r.intentFromSignal(sig)
	if !ok {
		return
	}

	decision := risk.Evaluate(intent, r.riskView(), r.opts.Limits)
	if !decision.Approved {
		r.results.Denied++
		r.results.DeniedByRule[string(decision.Reason)]++
		return
	}

	o, err := r.mgr.NewOrder(ctx, intent)
	if err != nil {
		r.log.Errorw("backtest order creation failed", "err", err)
		return
	}
	if err := r.mgr.Submit(ctx, o.ID); err != nil {
		r.log.Warnw("backtest submission failed", "order_id", o.ID, "err", err)
		return
	}
	r.results.Orders++
	r.drainEvents(ctx)
}

func (r *Runner) intentFromSignal(sig domain.StrategySignal) (domain.OrderIntent, bool) {
	inst, ok := r.opts.Instruments[sig.Instrument]
	if !ok {
		return domain.OrderIntent{}, false
	}

	side := sig.Side
	qty := sig.Quantity
	if sig.Kind == domain.SignalKindTarget {
		current := decimal.Zero
		if p := r.led.GetPosition(sig.Instrument); p != nil {
			current = p.Quantity
		}
		delta := sig.Target.Sub(current)
		if delta.IsZero() {
			return domain.OrderIntent{}, false
		}
		if delta.IsPositive() {
			side = domain.SideBuy
		} else {
			side = domain.SideSell
		}
		qty = delta.Abs()
	}

	qty = inst.RoundQuantity(qty)
	if !qty.IsPositive() {
		return domain.OrderIntent{}, false
	}

	typ := domain.OrderTypeMarket
	price := decimal.Zero
	if sig.Price.IsPositive() {
		typ = domain.OrderTypeLimit
		price = inst.RoundPrice(sig.Price)
	}

	return domain.OrderIntent{
		StrategyID:    sig.StrategyID,
		ClientOrderID: uuid.NewString(),
		Instrument:    sig.Instrument,
		Side:          side,
		Type:          typ,
		Quantity:      qty,
		Price:         price,
		Timestamp:     sig.Timestamp,
	}, true
}

// drainEvents applies every queued paper gateway event.
func (r *Runner) drainEvents(ctx context.Context) {
	for {
		select {
		case ev, ok := <-r.gw.Events():
			if !ok {
				return
			}
			if ev.Type == gateway.EventFill {
				r.results.Fills++
			}
			if err := r.mgr.HandleEvent(ctx, ev); err != nil {
				r.log.Warnw("backtest event rejected",
					"type", ev.Type, "order_id", ev.OrderID, "err", err)
			}
		default:
			return
		}
	}
}

func (r *Runner) accountView() *strategy.AccountView {
	positions := make(map[string]*domain.Position)
	for _, p := range r.led.Positions() {
		positions[p.Instrument] = p
	}
	marks := make(map[string]decimal.Decimal, len(r.marks))
	for sym, m := range r.marks {
		marks[sym] = m
	}
	openQty := make(map[string]decimal.Decimal)
	for _, o := range r.mgr.OpenOrders() {
		rem := o.RemainingQty()
		if o.Side == domain.SideSell {
			rem = rem.Neg()
		}
		openQty[o.Instrument] = openQty[o.Instrument].Add(rem)
	}
	return &strategy.AccountView{
		Positions: positions,
		Cash:      r.led.Cash(),
		Marks:     marks,
		OpenQty:   openQty,
	}
}

func (r *Runner) riskView() risk.StateView {
	positions := make(map[string]*domain.Position)
	for _, p := range r.led.Positions() {
		positions[p.Instrument] = p
	}
	marks := make(map[string]decimal.Decimal, len(r.marks))
	for sym, m := range r.marks {
		marks[sym] = m
	}
	cutoff := r.now - r.opts.Limits.OrderRateWindow.Milliseconds()
	return risk.StateView{
		Positions:         positions,
		Marks:             marks,
		RecentSubmissions: r.mgr.RecentSubmissions(cutoff),
		RealizedToday:     r.led.RealizedToday(r.now),
		Now:               r.now,
	}
}

func (r *Runner) close() {
	r.gw.Close()
	r.led.Close()
}

// Summary renders a one-line result for logs.
func (r *Results) Summary() string {
	return fmt.Sprintf("candles=%d signals=%d orders=%d denied=%d fills=%d cash=%s equity=%s realized=%s",
		r.Candles, r.Signals, r.Orders, r.Denied, r.Fills,
		r.FinalCash, r.Equity, r.RealizedPnL)
}
