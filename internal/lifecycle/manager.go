// Package lifecycle tracks each order from creation through its terminal
// state, reconciling exchange acknowledgments. Transitions are driven
// only by gateway events or explicit cancel requests, never inferred
// from silence; an unacknowledged order goes stale and is reconciled.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/gateway"
	"crypto-trading-agent/internal/idhash"
	"crypto-trading-agent/internal/ledger"
	"crypto-trading-agent/internal/observability"
	"crypto-trading-agent/internal/storage"
)

// FillHandler receives validated fills, normally ledger.Store.RecordFill.
type FillHandler func(ctx context.Context, f *domain.Fill) (*domain.Position, error)

// Config tunes submission behavior.
type Config struct {
	// AckTimeout is how long a submitted order may wait for an
	// acknowledgment before entering the stale sub-state. 0 disables
	// the automatic timer (tests drive MarkStale directly).
	AckTimeout time.Duration

	// MaxSubmitRetries bounds retries of the submission step on
	// transient adapter errors. Acknowledged transitions are never
	// retried.
	MaxSubmitRetries int

	// RetryBackoff is the base delay between submission retries,
	// doubled each attempt.
	RetryBackoff time.Duration

	// Clock returns the current Unix millisecond time. Defaults to
	// time.Now; tests substitute a fixed clock.
	Clock func() int64
}

// Manager owns in-flight orders exclusively; everything outside sees
// clones.
type Manager struct {
	cfg     Config
	gw      gateway.ExecutionGateway
	archive storage.OrderStore
	onFill  FillHandler
	log     *zap.SugaredLogger

	mu          sync.Mutex
	orders      map[string]*domain.Order
	ackTimers   map[string]*time.Timer
	inFlight    map[string]string // instrument → order awaiting ack
	submissions []int64           // recent submit timestamps for the rate view
}

// NewManager creates a lifecycle manager.
func NewManager(cfg Config, gw gateway.ExecutionGateway, archive storage.OrderStore, onFill FillHandler, log *zap.SugaredLogger) *Manager {
	if cfg.MaxSubmitRetries <= 0 {
		cfg.MaxSubmitRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		cfg:       cfg,
		gw:        gw,
		archive:   archive,
		onFill:    onFill,
		log:       log,
		orders:    make(map[string]*domain.Order),
		ackTimers: make(map[string]*time.Timer),
		inFlight:  make(map[string]string),
	}
}

// NewOrder constructs an order from an approved intent. The order starts
// in Created and is archived immediately.
func (m *Manager) NewOrder(ctx context.Context, intent domain.OrderIntent) (*domain.Order, error) {
	now := m.cfg.Clock()
	o := &domain.Order{
		ID:            uuid.NewString(),
		ClientOrderID: intent.ClientOrderID,
		Instrument:    intent.Instrument,
		StrategyID:    intent.StrategyID,
		Side:          intent.Side,
		Type:          intent.Type,
		Price:         intent.Price,
		Quantity:      intent.Quantity,
		ExpiresAt:     intent.ExpiresAt,
		Status:        domain.OrderStatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	m.mu.Lock()
	m.orders[o.ID] = o
	m.mu.Unlock()

	if err := m.archive.Insert(ctx, o); err != nil {
		return nil, fmt.Errorf("archive order %s: %w", o.ID, err)
	}
	return o.Clone(), nil
}

// Submit transmits a Created order. Transient adapter errors retry the
// submission step with bounded backoff; a permanent error moves the
// order straight to Rejected. Submission for an instrument is not
// re-entered until the prior one resolves (ack, reject or stale).
func (m *Manager) Submit(ctx context.Context, orderID string) error {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownOrder
	}
	if o.Status != domain.OrderStatusCreated {
		m.mu.Unlock()
		return ErrNotSubmittable
	}
	if holder, busy := m.inFlight[o.Instrument]; busy {
		m.mu.Unlock()
		return fmt.Errorf("%w: order %s pending", ErrInstrumentBusy, holder)
	}
	m.inFlight[o.Instrument] = o.ID
	m.setStatusLocked(o, domain.OrderStatusSubmitted)
	m.submissions = append(m.submissions, m.cfg.Clock())
	snapshot := o.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)

	var err error
	backoff := m.cfg.RetryBackoff
	for attempt := 0; attempt < m.cfg.MaxSubmitRetries; attempt++ {
		err = m.gw.Submit(ctx, snapshot)
		if err == nil {
			m.armAckTimer(orderID)
			return nil
		}
		if !gateway.IsTransient(err) {
			break
		}
		observability.RecordGatewayError("submit", true)
		observability.DefaultMetrics.SubmitRetries.Inc()
		m.log.Warnw("transient submit failure, retrying",
			"order_id", orderID, "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempt = m.cfg.MaxSubmitRetries
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	if gateway.IsTransient(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Retries exhausted: the order may or may not have reached the
		// exchange. Go stale and reconcile rather than re-submit blindly.
		m.MarkStale(orderID)
		return fmt.Errorf("submission unresolved for %s: %w", orderID, err)
	}

	// Permanent adapter error: reject, no retry.
	observability.RecordGatewayError("submit", false)
	m.mu.Lock()
	if !o.Status.IsTerminal() {
		o.RejectReason = err.Error()
		m.setStatusLocked(o, domain.OrderStatusRejected)
	}
	m.releaseInstrumentLocked(o)
	rejected := o.Clone()
	m.mu.Unlock()
	m.persist(ctx, rejected)
	return fmt.Errorf("submission rejected for %s: %w", orderID, err)
}

// RequestCancel asks the exchange to cancel. The transition itself only
// happens on the confirming event; a cancel racing an already-processed
// fill is a no-op.
func (m *Manager) RequestCancel(ctx context.Context, orderID string) error {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownOrder
	}
	if o.Status.IsTerminal() {
		m.mu.Unlock()
		m.log.Debugw("cancel ignored, order already terminal", "order_id", orderID, "status", o.Status)
		return nil
	}
	m.mu.Unlock()

	if err := m.gw.Cancel(ctx, orderID); err != nil {
		observability.RecordGatewayError("cancel", gateway.IsTransient(err))
		return fmt.Errorf("cancel %s: %w", orderID, err)
	}
	return nil
}

// HandleEvent applies one gateway notification. Events against terminal
// orders are no-ops: whichever of a racing cancel/fill pair arrives
// first wins.
func (m *Manager) HandleEvent(ctx context.Context, ev gateway.Event) error {
	switch ev.Type {
	case gateway.EventAck:
		return m.applyAck(ctx, ev)
	case gateway.EventReject:
		return m.applyTerminal(ctx, ev.OrderID, domain.OrderStatusRejected, ev.Reason)
	case gateway.EventFill:
		return m.applyFill(ctx, ev)
	case gateway.EventCancelAck:
		return m.applyTerminal(ctx, ev.OrderID, domain.OrderStatusCancelled, "")
	case gateway.EventExpired:
		return m.applyTerminal(ctx, ev.OrderID, domain.OrderStatusExpired, "")
	default:
		return fmt.Errorf("unknown gateway event type %q", ev.Type)
	}
}

func (m *Manager) applyAck(ctx context.Context, ev gateway.Event) error {
	m.mu.Lock()
	o, ok := m.orders[ev.OrderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOrder, ev.OrderID)
	}
	if o.Status.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	if o.Status == domain.OrderStatusSubmitted {
		m.setStatusLocked(o, domain.OrderStatusAcknowledged)
	}
	o.Stale = false
	m.releaseInstrumentLocked(o)
	snapshot := o.Clone()
	m.mu.Unlock()

	m.disarmAckTimer(ev.OrderID)
	m.persist(ctx, snapshot)
	return nil
}

func (m *Manager) applyFill(ctx context.Context, ev gateway.Event) error {
	m.mu.Lock()
	o, ok := m.orders[ev.OrderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOrder, ev.OrderID)
	}
	if o.Status.IsTerminal() {
		m.mu.Unlock()
		m.log.Debugw("fill ignored, order already terminal", "order_id", ev.OrderID, "status", o.Status)
		return nil
	}
	side := o.Side
	instrument := o.Instrument
	m.mu.Unlock()

	fill := &domain.Fill{
		FillID:     idhash.ComputeFillID(ev.OrderID, ev.ExecID, ev.Timestamp),
		OrderID:    ev.OrderID,
		Instrument: instrument,
		Side:       side,
		Quantity:   ev.Quantity,
		Price:      ev.Price,
		Timestamp:  ev.Timestamp,
	}

	// The journal dedups before the order mutates, so a replayed fill
	// event can never double-count quantity.
	if m.onFill != nil {
		if _, err := m.onFill(ctx, fill); err != nil {
			if errors.Is(err, ledger.ErrDuplicateFill) {
				m.log.Warnw("duplicate fill event ignored", "order_id", ev.OrderID, "exec_id", ev.ExecID)
				return nil
			}
			return fmt.Errorf("record fill for %s: %w", ev.OrderID, err)
		}
	}

	m.mu.Lock()
	o.FilledQty = o.FilledQty.Add(ev.Quantity)
	if o.Status == domain.OrderStatusSubmitted {
		// A fill implies the exchange accepted the order.
		m.setStatusLocked(o, domain.OrderStatusAcknowledged)
	}
	if o.RemainingQty().Sign() <= 0 {
		m.setStatusLocked(o, domain.OrderStatusFilled)
	} else {
		m.setStatusLocked(o, domain.OrderStatusPartiallyFilled)
	}
	o.Stale = false
	m.releaseInstrumentLocked(o)
	snapshot := o.Clone()
	m.mu.Unlock()

	m.disarmAckTimer(ev.OrderID)
	m.persist(ctx, snapshot)
	return nil
}

func (m *Manager) applyTerminal(ctx context.Context, orderID string, to domain.OrderStatus, reason string) error {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if o.Status.IsTerminal() {
		m.mu.Unlock()
		m.log.Debugw("terminal event ignored, order already terminal",
			"order_id", orderID, "status", o.Status, "event", to)
		return nil
	}
	if !canTransition(o.Status, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, o.Status, to)
	}
	if reason != "" {
		o.RejectReason = reason
	}
	o.Stale = false
	m.setStatusLocked(o, to)
	m.releaseInstrumentLocked(o)
	snapshot := o.Clone()
	m.mu.Unlock()

	m.disarmAckTimer(orderID)
	m.persist(ctx, snapshot)
	return nil
}

// MarkStale flags a submitted-but-unacknowledged order. Stale is a
// sub-state of Submitted: the order still waits for authoritative word,
// it is never auto-cancelled. It also releases the instrument gate so
// new submissions are not blocked behind a dead ack.
func (m *Manager) MarkStale(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.Status != domain.OrderStatusSubmitted || o.Stale {
		return
	}
	o.Stale = true
	o.UpdatedAt = m.cfg.Clock()
	m.releaseInstrumentLocked(o)
	observability.DefaultMetrics.OrdersStale.Inc()
	m.log.Warnw("order went stale, reconciliation required", "order_id", orderID)
}

// StaleOrders returns clones of all orders awaiting reconciliation.
func (m *Manager) StaleOrders() []*domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Order
	for _, o := range m.orders {
		if o.Stale {
			out = append(out, o.Clone())
		}
	}
	return out
}

// Reconcile queries the exchange for a stale order's authoritative state
// and applies it. The query result drives the transition exactly like a
// gateway event would.
func (m *Manager) Reconcile(ctx context.Context, orderID string) error {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownOrder
	}
	if o.Status.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	report, err := m.gw.Query(ctx, orderID)
	if err != nil {
		if errors.Is(err, gateway.ErrUnknownOrder) {
			// The exchange never saw it: the submission was lost.
			return m.applyTerminal(ctx, orderID, domain.OrderStatusRejected, "not known to exchange")
		}
		return fmt.Errorf("reconcile query %s: %w", orderID, err)
	}

	switch report.Status {
	case domain.OrderStatusAcknowledged, domain.OrderStatusPartiallyFilled:
		return m.applyAck(ctx, gateway.Event{Type: gateway.EventAck, OrderID: orderID})
	case domain.OrderStatusRejected:
		return m.applyTerminal(ctx, orderID, domain.OrderStatusRejected, report.Reason)
	case domain.OrderStatusCancelled:
		return m.applyTerminal(ctx, orderID, domain.OrderStatusCancelled, "")
	case domain.OrderStatusExpired:
		return m.applyTerminal(ctx, orderID, domain.OrderStatusExpired, "")
	case domain.OrderStatusFilled:
		// Fills arrive on the event channel; here only the
		// acknowledgment is confirmed. Missing executions surface as a
		// quantity mismatch in the ledger audit.
		m.log.Warnw("reconciliation reports filled before fill events arrived", "order_id", orderID)
		return m.applyAck(ctx, gateway.Event{Type: gateway.EventAck, OrderID: orderID})
	default:
		return fmt.Errorf("reconcile %s: unexpected exchange status %q", orderID, report.Status)
	}
}

// Restore reloads non-terminal orders from the archive after a restart.
// Submitted orders are marked stale so the next reconciliation sweep
// resolves them against the exchange instead of resubmitting blindly.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	open, err := m.archive.Open(ctx)
	if err != nil {
		return 0, fmt.Errorf("load open orders: %w", err)
	}

	now := m.cfg.Clock()
	restored := 0

	m.mu.Lock()
	for _, o := range open {
		if _, exists := m.orders[o.ID]; exists {
			continue
		}
		restored++
		if o.Status == domain.OrderStatusSubmitted && !o.Stale {
			o.Stale = true
			o.UpdatedAt = now
		}
		m.orders[o.ID] = o
	}
	m.mu.Unlock()

	if restored > 0 {
		m.log.Infow("restored open orders from archive", "count", restored)
	}
	return restored, nil
}

// Order returns a clone of one order.
func (m *Manager) Order(orderID string) (*domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// OpenOrders returns clones of all non-terminal orders.
func (m *Manager) OpenOrders() []*domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Order
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o.Clone())
		}
	}
	return out
}

// RecentSubmissions returns submit timestamps at or after cutoff,
// pruning older ones. Feeds the risk engine's rate view.
func (m *Manager) RecentSubmissions(cutoff int64) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.submissions[:0]
	for _, ts := range m.submissions {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	m.submissions = kept
	out := make([]int64, len(kept))
	copy(out, kept)
	return out
}

// setStatusLocked transitions the order. Callers hold m.mu and must have
// validated the transition; self-transitions (PartiallyFilled →
// PartiallyFilled) are allowed for repeated fills.
func (m *Manager) setStatusLocked(o *domain.Order, to domain.OrderStatus) {
	o.Status = to
	o.UpdatedAt = m.cfg.Clock()
}

// releaseInstrumentLocked frees the per-instrument submission gate if
// this order holds it.
func (m *Manager) releaseInstrumentLocked(o *domain.Order) {
	if holder, ok := m.inFlight[o.Instrument]; ok && holder == o.ID {
		delete(m.inFlight, o.Instrument)
	}
}

func (m *Manager) armAckTimer(orderID string) {
	if m.cfg.AckTimeout <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.ackTimers[orderID]; ok {
		t.Stop()
	}
	m.ackTimers[orderID] = time.AfterFunc(m.cfg.AckTimeout, func() {
		m.MarkStale(orderID)
	})
}

func (m *Manager) disarmAckTimer(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.ackTimers[orderID]; ok {
		t.Stop()
		delete(m.ackTimers, orderID)
	}
}

// persist archives order state changes. Archive failures are logged and
// surfaced through metrics, they never block the trading path.
func (m *Manager) persist(ctx context.Context, o *domain.Order) {
	if err := m.archive.Update(ctx, o); err != nil {
		m.log.Errorw("order archive update failed", "order_id", o.ID, "err", err)
	}
}
