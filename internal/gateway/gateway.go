// Package gateway defines the execution gateway contract the core drives
// orders through. The wire protocol is the adapter's concern; the core
// only sees this interface.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"crypto-trading-agent/internal/domain"
)

// EventType classifies asynchronous gateway notifications.
type EventType string

// Gateway event types.
const (
	EventAck       EventType = "ACK"        // exchange confirmed receipt
	EventReject    EventType = "REJECT"     // exchange refused the order
	EventFill      EventType = "FILL"       // partial or full execution
	EventCancelAck EventType = "CANCEL_ACK" // cancellation confirmed
	EventExpired   EventType = "EXPIRED"    // time-in-force elapsed
)

// Event is one asynchronous notification from the exchange.
type Event struct {
	Type       EventType
	OrderID    string
	Instrument string
	ExecID     string          // exchange execution ID, fills only
	Quantity   decimal.Decimal // fills only
	Price      decimal.Decimal // fills only
	Reason     string          // rejects only
	Timestamp  int64           // Unix milliseconds
}

// StatusReport is the authoritative order state returned by a
// reconciliation query.
type StatusReport struct {
	OrderID   string
	Status    domain.OrderStatus
	FilledQty decimal.Decimal
	Reason    string // rejects only
}

// ExecutionGateway is the exchange-facing adapter. Submit and Cancel
// transmit; acknowledgments and fills arrive on Events. Query serves the
// stale-order reconciliation path.
type ExecutionGateway interface {
	// Submit transmits an order. A nil error means the order left the
	// process; acknowledgment or rejection arrives via Events. Errors
	// implement the transient/permanent taxonomy in errors.go.
	Submit(ctx context.Context, o *domain.Order) error

	// Cancel requests cancellation. The confirming CANCEL_ACK (or a
	// racing FILL) arrives via Events.
	Cancel(ctx context.Context, orderID string) error

	// Query returns the exchange's authoritative view of an order,
	// used to resolve orders stuck in the stale sub-state.
	Query(ctx context.Context, orderID string) (*StatusReport, error)

	// Events is the asynchronous notification channel. Closed when the
	// gateway shuts down.
	Events() <-chan Event
}
