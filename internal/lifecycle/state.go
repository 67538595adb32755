package lifecycle

import (
	"errors"

	"crypto-trading-agent/internal/domain"
)

// State machine errors.
var (
	ErrUnknownOrder      = errors.New("order not found")
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrNotSubmittable    = errors.New("order is not in a submittable state")
	ErrInstrumentBusy    = errors.New("another submission in flight for instrument")
)

// transitions lists the legal moves of the order state machine. Terminal
// states have no entries: nothing leaves them.
var transitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusCreated: {
		domain.OrderStatusSubmitted,
		domain.OrderStatusRejected, // permanent adapter error before transmit
	},
	domain.OrderStatusSubmitted: {
		domain.OrderStatusAcknowledged,
		domain.OrderStatusRejected,
		domain.OrderStatusPartiallyFilled, // fill implies acknowledgment
		domain.OrderStatusFilled,
		domain.OrderStatusCancelled,
		domain.OrderStatusExpired,
	},
	domain.OrderStatusAcknowledged: {
		domain.OrderStatusPartiallyFilled,
		domain.OrderStatusFilled,
		domain.OrderStatusCancelled,
		domain.OrderStatusExpired,
	},
	domain.OrderStatusPartiallyFilled: {
		domain.OrderStatusPartiallyFilled,
		domain.OrderStatusFilled,
		domain.OrderStatusCancelled,
		domain.OrderStatusExpired,
	},
}

// canTransition reports whether from → to is legal.
func canTransition(from, to domain.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
