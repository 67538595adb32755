package domain

import "github.com/shopspring/decimal"

// Side is the direction of an order or fill.
type Side string

// Order sides.
const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderType distinguishes limit and market orders.
type OrderType string

// Order types.
const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus tracks the order lifecycle state machine:
//
//	Created → Submitted → {Acknowledged, Rejected}
//	Acknowledged → {PartiallyFilled → Filled, Cancelled, Expired}
//
// Transitions are monotonic: once terminal, an order never leaves its state.
type OrderStatus string

// Order statuses.
const (
	OrderStatusCreated         OrderStatus = "CREATED"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusAcknowledged    OrderStatus = "ACKNOWLEDGED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusRejected, OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Order is the lifecycle manager's record of a single order. The manager
// owns the struct exclusively until the order is terminal; everything else
// sees copies.
type Order struct {
	ID            string // system-generated UUID
	ClientOrderID string // caller correlation ID
	Instrument    string
	StrategyID    string // originating strategy, empty for manual orders
	Side          Side
	Type          OrderType
	Price         decimal.Decimal // zero for market orders
	Quantity      decimal.Decimal
	FilledQty     decimal.Decimal
	Status        OrderStatus
	Stale         bool   // submitted but unacknowledged past the ack timeout
	RejectReason  string // populated on Rejected
	ExpiresAt     int64  // time-in-force deadline, Unix ms; 0 = GTC
	CreatedAt     int64  // Unix milliseconds
	UpdatedAt     int64  // Unix milliseconds
}

// RemainingQty returns the unfilled quantity.
func (o *Order) RemainingQty() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// IsOpen reports whether the order can still receive fills.
func (o *Order) IsOpen() bool {
	return !o.Status.IsTerminal() && o.Status != OrderStatusCreated
}

// Clone returns a read-only copy safe to hand outside the lifecycle manager.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}
