// Package agent wires the trading pipeline end to end:
// feed → normalizer → candles → scheduler → risk → lifecycle → ledger.
// Everything market-data driven runs on one event loop goroutine.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crypto-trading-agent/internal/cache"
	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/feed"
	"crypto-trading-agent/internal/gateway"
	"crypto-trading-agent/internal/ledger"
	"crypto-trading-agent/internal/lifecycle"
	"crypto-trading-agent/internal/marketdata"
	"crypto-trading-agent/internal/observability"
	"crypto-trading-agent/internal/risk"
	"crypto-trading-agent/internal/scheduler"
	"crypto-trading-agent/internal/storage"
	"crypto-trading-agent/internal/strategy"
)

const tickFlushSize = 500

// Options for creating an Agent.
type Options struct {
	// Required pipeline components.
	Feed      feed.Feed
	Decoder   marketdata.Decoder
	Lifecycle *lifecycle.Manager
	Ledger    *ledger.Store
	Gateway   gateway.ExecutionGateway

	// Instruments registered for trading, keyed by symbol.
	Instruments map[string]domain.Instrument

	Limits domain.RiskLimits

	// Normalizer configuration; zero value uses defaults.
	Normalizer marketdata.NormalizerConfig

	// Timeframes to aggregate candles for. Empty disables aggregation.
	Timeframes []domain.Timeframe

	// Optional history sinks and cache.
	Ticks   storage.TickStore
	Candles storage.CandleStore
	Cache   *cache.RedisCache

	// MarkObserver, when set, receives every accepted tick's price.
	// Paper runs wire this to PaperGateway.MarkPrice.
	MarkObserver func(instrument string, price decimal.Decimal)

	// CheckpointInterval between ledger checkpoints. Zero disables
	// periodic checkpointing.
	CheckpointInterval time.Duration

	// ReconcileInterval between stale-order reconciliation sweeps.
	ReconcileInterval time.Duration

	// HaltAfterFailures is how many consecutive unresolved submissions
	// trigger the halted-submission degraded mode.
	HaltAfterFailures int

	// HaltCooldown is how long submissions stay halted.
	HaltCooldown time.Duration

	Logger *zap.SugaredLogger

	// Clock returns the current time in Unix milliseconds.
	Clock func() int64
}

// Agent owns the event loop. All mutable state (marks, pending history
// batches, halt bookkeeping) is touched only from Run's goroutine.
type Agent struct {
	feed      feed.Feed
	decoder   marketdata.Decoder
	norm      *marketdata.Normalizer
	candles   *marketdata.CandleAggregator
	sched     *scheduler.Scheduler
	lifecycle *lifecycle.Manager
	ledger    *ledger.Store
	gw        gateway.ExecutionGateway

	instruments map[string]domain.Instrument
	limits      domain.RiskLimits

	ticks      storage.TickStore
	candleHist storage.CandleStore
	cache      *cache.RedisCache
	markObs    func(instrument string, price decimal.Decimal)

	checkpointEvery time.Duration
	reconcileEvery  time.Duration

	haltAfter    int
	haltCooldown time.Duration

	log   *zap.SugaredLogger
	clock func() int64

	// event-loop state
	marks          map[string]decimal.Decimal
	pendingTicks   []*domain.Tick
	pendingCandles []*domain.Candle
	submitFailures int
	haltedUntil    int64
}

// New creates an agent from options. The lifecycle manager must already
// be wired to the ledger's RecordFill.
func New(opts Options) (*Agent, error) {
	if opts.Feed == nil || opts.Decoder == nil || opts.Lifecycle == nil ||
		opts.Ledger == nil || opts.Gateway == nil {
		return nil, errors.New("agent: feed, decoder, lifecycle, ledger and gateway are required")
	}
	if len(opts.Instruments) == 0 {
		return nil, errors.New("agent: no instruments registered")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.HaltAfterFailures <= 0 {
		opts.HaltAfterFailures = 3
	}
	if opts.HaltCooldown <= 0 {
		opts.HaltCooldown = 30 * time.Second
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = 5 * time.Second
	}

	a := &Agent{
		feed:            opts.Feed,
		decoder:         opts.Decoder,
		norm:            marketdata.NewNormalizer(opts.Normalizer),
		lifecycle:       opts.Lifecycle,
		ledger:          opts.Ledger,
		gw:              opts.Gateway,
		instruments:     opts.Instruments,
		limits:          opts.Limits,
		ticks:           opts.Ticks,
		candleHist:      opts.Candles,
		cache:           opts.Cache,
		markObs:         opts.MarkObserver,
		checkpointEvery: opts.CheckpointInterval,
		reconcileEvery:  opts.ReconcileInterval,
		haltAfter:       opts.HaltAfterFailures,
		haltCooldown:    opts.HaltCooldown,
		log:             opts.Logger,
		clock:           opts.Clock,
		marks:           make(map[string]decimal.Decimal),
	}
	if len(opts.Timeframes) > 0 {
		a.candles = marketdata.NewCandleAggregator(opts.Timeframes)
	}
	a.sched = scheduler.New(a.accountView, opts.Logger)
	return a, nil
}

// Register adds a strategy to the dispatch order.
func (a *Agent) Register(st strategy.Strategy) error {
	return a.sched.Register(st)
}

// Run consumes feed messages and gateway events until ctx is cancelled.
// On return the ledger has been checkpointed a final time.
func (a *Agent) Run(ctx context.Context) error {
	checkpointC := make(<-chan time.Time)
	if a.checkpointEvery > 0 {
		t := time.NewTicker(a.checkpointEvery)
		defer t.Stop()
		checkpointC = t.C
	}
	reconcile := time.NewTicker(a.reconcileEvery)
	defer reconcile.Stop()

	killSwitch := 0.0
	if a.limits.KillSwitch {
		killSwitch = 1.0
	}
	observability.DefaultMetrics.KillSwitch.Set(killSwitch)

	a.log.Infow("agent started",
		"instruments", len(a.instruments), "strategies", a.sched.Strategies())

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return ctx.Err()

		case raw, ok := <-a.feed.Messages():
			if !ok {
				a.shutdown()
				return errors.New("agent: feed closed")
			}
			a.handleRaw(ctx, raw)

		case ev, ok := <-a.gw.Events():
			if !ok {
				a.shutdown()
				return errors.New("agent: gateway event channel closed")
			}
			a.handleGatewayEvent(ctx, ev)

		case <-checkpointC:
			a.checkpoint(ctx)

		case <-reconcile.C:
			a.reconcileStale(ctx)
		}
	}
}

// handleRaw decodes one feed message and drives the tick pipeline.
func (a *Agent) handleRaw(ctx context.Context, raw marketdata.RawMessage) {
	ticks, err := a.decoder.Decode(raw.Payload)
	if err != nil {
		observability.RecordTickDropped("decode")
		a.log.Debugw("undecodable feed message", "provider", raw.Provider, "err", err)
		return
	}

	for _, t := range ticks {
		accepted, err := a.norm.Accept(t)
		switch {
		case errors.Is(err, marketdata.ErrLateTick):
			observability.RecordTickDropped("late")
			continue
		case errors.Is(err, marketdata.ErrDuplicateTick):
			observability.RecordTickDropped("duplicate")
			continue
		case err != nil:
			observability.RecordTickDropped("invalid")
			a.log.Debugw("tick rejected", "instrument", t.Instrument, "err", err)
			continue
		}

		a.handleTick(ctx, accepted)
	}
}

// handleTick updates marks, caches, history and dispatches strategies.
func (a *Agent) handleTick(ctx context.Context, t *domain.Tick) {
	observability.RecordTickNormalized(t.Instrument, t.Timestamp)
	a.marks[t.Instrument] = t.Price
	if a.markObs != nil {
		a.markObs(t.Instrument, t.Price)
	}

	if a.cache != nil {
		if err := a.cache.SetTick(ctx, t); err != nil {
			a.log.Debugw("tick cache write failed", "err", err)
		}
	}
	if a.ticks != nil {
		a.pendingTicks = append(a.pendingTicks, t)
		if len(a.pendingTicks) >= tickFlushSize {
			a.flushHistory(ctx)
		}
	}

	if a.candles != nil {
		for _, c := range a.candles.Add(t) {
			a.handleCandle(ctx, c)
		}
	}

	a.processSignals(ctx, a.sched.DispatchTick(ctx, t))
}

func (a *Agent) handleCandle(ctx context.Context, c *domain.Candle) {
	observability.RecordCandleClosed(string(c.Timeframe))
	if a.candleHist != nil {
		a.pendingCandles = append(a.pendingCandles, c)
	}
	a.processSignals(ctx, a.sched.DispatchCandle(ctx, c))
}

// handleGatewayEvent feeds the lifecycle manager and mirrors position
// changes into the cache.
func (a *Agent) handleGatewayEvent(ctx context.Context, ev gateway.Event) {
	if err := a.lifecycle.HandleEvent(ctx, ev); err != nil {
		a.log.Warnw("gateway event rejected",
			"type", ev.Type, "order_id", ev.OrderID, "err", err)
		return
	}

	if o, ok := a.lifecycle.Order(ev.OrderID); ok && o.Status.IsTerminal() {
		observability.RecordOrderTerminal(string(o.Status))
	}
	observability.DefaultMetrics.OpenOrders.Set(float64(len(a.lifecycle.OpenOrders())))

	if ev.Type == gateway.EventFill {
		p := a.ledger.GetPosition(ev.Instrument)
		if a.cache != nil {
			if err := a.cache.SetPosition(ctx, p); err != nil {
				a.log.Debugw("position cache write failed", "err", err)
			}
		}
		if mark, ok := a.marks[ev.Instrument]; ok {
			exposure, _ := p.Quantity.Mul(mark).Abs().Float64()
			observability.DefaultMetrics.GrossExposure.WithLabelValues(ev.Instrument).Set(exposure)
		}
		observability.DefaultMetrics.CashBalance.Set(cashAsFloat(a.ledger.Cash()))
		observability.DefaultMetrics.RealizedPnLDay.Set(cashAsFloat(a.ledger.RealizedToday(a.clock())))
	}
}

// processSignals converts strategy signals to intents, runs them through
// the risk engine and submits approved orders.
func (a *Agent) processSignals(ctx context.Context, signals []domain.StrategySignal) {
	if len(signals) == 0 {
		return
	}

	now := a.clock()
	if a.haltedUntil > now {
		a.log.Warnw("submissions halted, dropping signals",
			"count", len(signals), "until", a.haltedUntil)
		return
	}

	for _, sig := range signals {
		observability.RecordSignal(sig.StrategyID, string(sig.Kind))

		intent, ok := a.intentFromSignal(sig)
		if !ok {
			continue
		}

		view := a.riskView(now)
		decision := risk.Evaluate(intent, view, a.limits)
		observability.RecordRiskDecision(decision.Approved, string(decision.Reason))
		if !decision.Approved {
			a.log.Infow("intent denied",
				"strategy", intent.StrategyID, "instrument", intent.Instrument,
				"side", intent.Side, "qty", intent.Quantity, "reason", decision.Reason)
			continue
		}

		a.submit(ctx, intent)
	}
}

// intentFromSignal turns a signal into a rounded, validated intent.
// TARGET signals are diffed against the current position plus open order
// quantity so an in-flight order is not doubled up.
func (a *Agent) intentFromSignal(sig domain.StrategySignal) (domain.OrderIntent, bool) {
	inst, ok := a.instruments[sig.Instrument]
	if !ok {
		a.log.Warnw("signal for unregistered instrument",
			"strategy", sig.StrategyID, "instrument", sig.Instrument)
		return domain.OrderIntent{}, false
	}

	side := sig.Side
	qty := sig.Quantity

	if sig.Kind == domain.SignalKindTarget {
		current := decimal.Zero
		if p := a.ledger.GetPosition(sig.Instrument); p != nil {
			current = p.Quantity
		}
		current = current.Add(a.openQty(sig.Instrument))

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

// submit creates and submits one order, tracking consecutive unresolved
// submissions for the degraded mode.
func (a *Agent) submit(ctx context.Context, intent domain.OrderIntent) {
	o, err := a.lifecycle.NewOrder(ctx, intent)
	if err != nil {
		a.log.Errorw("order creation failed", "instrument", intent.Instrument, "err", err)
		return
	}

	start := time.Now()
	err = a.lifecycle.Submit(ctx, o.ID)
	observability.DefaultMetrics.SubmitLatency.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		observability.DefaultMetrics.OrdersSubmitted.Inc()
		a.submitFailures = 0

	case errors.Is(err, lifecycle.ErrInstrumentBusy):
		a.log.Debugw("submission gated, prior order in flight",
			"instrument", intent.Instrument, "order_id", o.ID)

	default:
		a.log.Warnw("submission unresolved", "order_id", o.ID, "err", err)
		a.submitFailures++
		if a.submitFailures >= a.haltAfter {
			a.haltedUntil = a.clock() + a.haltCooldown.Milliseconds()
			a.submitFailures = 0
			a.log.Errorw("persistent gateway failure, halting submissions",
				"cooldown", a.haltCooldown)
		}
	}
}

// openQty sums the signed unfilled quantity of open orders for an
// instrument.
func (a *Agent) openQty(instrument string) decimal.Decimal {
	total := decimal.Zero
	for _, o := range a.lifecycle.OpenOrders() {
		if o.Instrument != instrument {
			continue
		}
		rem := o.RemainingQty()
		if o.Side == domain.SideSell {
			rem = rem.Neg()
		}
		total = total.Add(rem)
	}
	return total
}

// accountView assembles the read-only snapshot strategies decide on.
func (a *Agent) accountView() *strategy.AccountView {
	positions := make(map[string]*domain.Position)
	for _, p := range a.ledger.Positions() {
		positions[p.Instrument] = p
	}

	marks := make(map[string]decimal.Decimal, len(a.marks))
	for sym, m := range a.marks {
		marks[sym] = m
	}

	openQty := make(map[string]decimal.Decimal)
	for _, o := range a.lifecycle.OpenOrders() {
		rem := o.RemainingQty()
		if o.Side == domain.SideSell {
			rem = rem.Neg()
		}
		openQty[o.Instrument] = openQty[o.Instrument].Add(rem)
	}

	return &strategy.AccountView{
		Positions: positions,
		Cash:      a.ledger.Cash(),
		Marks:     marks,
		OpenQty:   openQty,
	}
}

// riskView assembles the snapshot the risk engine judges against.
func (a *Agent) riskView(now int64) risk.StateView {
	positions := make(map[string]*domain.Position)
	for _, p := range a.ledger.Positions() {
		positions[p.Instrument] = p
	}

	marks := make(map[string]decimal.Decimal, len(a.marks))
	for sym, m := range a.marks {
		marks[sym] = m
	}

	cutoff := now - a.limits.OrderRateWindow.Milliseconds()
	return risk.StateView{
		Positions:         positions,
		Marks:             marks,
		RecentSubmissions: a.lifecycle.RecentSubmissions(cutoff),
		RealizedToday:     a.ledger.RealizedToday(now),
		Now:               now,
	}
}

// reconcileStale queries the exchange for every stale order.
func (a *Agent) reconcileStale(ctx context.Context) {
	for _, o := range a.lifecycle.StaleOrders() {
		if err := a.lifecycle.Reconcile(ctx, o.ID); err != nil {
			a.log.Warnw("reconciliation failed", "order_id", o.ID, "err", err)
		}
	}
}

// checkpoint persists the ledger and flushes history batches.
func (a *Agent) checkpoint(ctx context.Context) {
	a.flushHistory(ctx)
	if err := a.ledger.Checkpoint(ctx); err != nil {
		a.log.Errorw("ledger checkpoint failed", "err", err)
		return
	}
	observability.DefaultMetrics.CheckpointsSaved.Inc()
}

// flushHistory writes buffered ticks and candles to their stores.
func (a *Agent) flushHistory(ctx context.Context) {
	if a.ticks != nil && len(a.pendingTicks) > 0 {
		if err := a.ticks.InsertBulk(ctx, a.pendingTicks); err != nil {
			a.log.Warnw("tick history write failed",
				"count", len(a.pendingTicks), "err", err)
		}
		a.pendingTicks = a.pendingTicks[:0]
	}
	if a.candleHist != nil && len(a.pendingCandles) > 0 {
		if err := a.candleHist.InsertBulk(ctx, a.pendingCandles); err != nil {
			a.log.Warnw("candle history write failed",
				"count", len(a.pendingCandles), "err", err)
		}
		a.pendingCandles = a.pendingCandles[:0]
	}
}

// shutdown takes a final checkpoint with a fresh context. Run's context
// is already cancelled at this point.
func (a *Agent) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Partially formed candles are persisted but not dispatched; no new
	// orders during shutdown.
	if a.candles != nil && a.candleHist != nil {
		a.pendingCandles = append(a.pendingCandles, a.candles.Flush()...)
	}
	a.checkpoint(ctx)
	a.log.Infow("agent stopped", "cash", a.ledger.Cash())
}

func cashAsFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Normalizer checkpoint passthroughs for restart persistence.

// MarketDataCheckpoint returns the normalizer's restart state.
func (a *Agent) MarketDataCheckpoint() marketdata.NormalizerCheckpoint {
	return a.norm.Checkpoint()
}

// RestoreMarketData seeds the normalizer from a prior checkpoint.
func (a *Agent) RestoreMarketData(cp marketdata.NormalizerCheckpoint) {
	a.norm.Restore(cp)
}
