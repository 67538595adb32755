package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crypto-trading-agent/internal/domain"
)

// PaperGateway simulates an exchange in-process: every submitted order is
// acknowledged and filled against the last observed mark price, except
// orders past their time-in-force deadline, which expire instead. Used
// for paper runs and as a deterministic gateway in tests.
type PaperGateway struct {
	mu     sync.Mutex
	open   map[string]*domain.Order
	marks  map[string]decimal.Decimal
	events chan Event
	closed bool

	// FillSlices splits each order into this many equal fills (default 1).
	fillSlices int
}

// NewPaperGateway creates a paper gateway. fillSlices <= 1 fills orders
// in a single execution.
func NewPaperGateway(fillSlices int) *PaperGateway {
	if fillSlices < 1 {
		fillSlices = 1
	}
	return &PaperGateway{
		open:       make(map[string]*domain.Order),
		marks:      make(map[string]decimal.Decimal),
		events:     make(chan Event, 256),
		fillSlices: fillSlices,
	}
}

// Compile-time interface check.
var _ ExecutionGateway = (*PaperGateway)(nil)

// MarkPrice records the latest price for an instrument; market orders
// execute at it.
func (g *PaperGateway) MarkPrice(instrument string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marks[instrument] = price
}

// Submit acknowledges and fills the order synchronously into the event
// channel.
func (g *PaperGateway) Submit(_ context.Context, o *domain.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return NewTransientError("submit", ErrDisconnected)
	}

	price := o.Price
	if o.Type == domain.OrderTypeMarket || price.IsZero() {
		mark, ok := g.marks[o.Instrument]
		if !ok {
			return NewPermanentError("submit", fmt.Errorf("no mark price for %s", o.Instrument))
		}
		price = mark
	}

	now := time.Now().UnixMilli()
	g.open[o.ID] = o.Clone()
	g.emit(Event{Type: EventAck, OrderID: o.ID, Instrument: o.Instrument, Timestamp: now})

	if o.ExpiresAt > 0 && o.ExpiresAt <= now {
		delete(g.open, o.ID)
		g.emit(Event{Type: EventExpired, OrderID: o.ID, Instrument: o.Instrument, Timestamp: now})
		return nil
	}

	slice := o.Quantity.DivRound(decimal.NewFromInt(int64(g.fillSlices)), 18)
	remaining := o.Quantity
	for i := 0; i < g.fillSlices; i++ {
		qty := slice
		if i == g.fillSlices-1 {
			qty = remaining // last slice absorbs rounding remainder
		}
		remaining = remaining.Sub(qty)
		g.emit(Event{
			Type:       EventFill,
			OrderID:    o.ID,
			Instrument: o.Instrument,
			ExecID:     uuid.NewString(),
			Quantity:   qty,
			Price:      price,
			Timestamp:  now,
		})
	}
	delete(g.open, o.ID)
	return nil
}

// Cancel confirms cancellation for open orders; already-filled orders get
// no event, matching exchanges that reject cancels of closed orders.
func (g *PaperGateway) Cancel(_ context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return NewTransientError("cancel", ErrDisconnected)
	}
	if _, ok := g.open[orderID]; !ok {
		return NewPermanentError("cancel", ErrUnknownOrder)
	}
	delete(g.open, orderID)
	g.emit(Event{Type: EventCancelAck, OrderID: orderID, Timestamp: time.Now().UnixMilli()})
	return nil
}

// Query reports filled for any order the paper gateway has seen complete,
// open for pending ones.
func (g *PaperGateway) Query(_ context.Context, orderID string) (*StatusReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if o, ok := g.open[orderID]; ok {
		return &StatusReport{OrderID: orderID, Status: domain.OrderStatusAcknowledged, FilledQty: o.FilledQty}, nil
	}
	// Paper fills are immediate, so anything not open was filled.
	return &StatusReport{OrderID: orderID, Status: domain.OrderStatusFilled}, nil
}

// Events returns the notification channel.
func (g *PaperGateway) Events() <-chan Event {
	return g.events
}

// Close shuts the gateway; further submissions fail transiently.
func (g *PaperGateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		close(g.events)
	}
}

func (g *PaperGateway) emit(e Event) {
	select {
	case g.events <- e:
	default:
		// Consumer fell behind; drop rather than deadlock the simulator.
	}
}
