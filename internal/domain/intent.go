package domain

import "github.com/shopspring/decimal"

// OrderIntent is a concrete order proposal derived from a strategy
// signal, evaluated by the risk engine before any order object exists.
type OrderIntent struct {
	StrategyID    string
	ClientOrderID string
	Instrument    string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal // positive
	Price         decimal.Decimal // zero = market
	ExpiresAt     int64           // time-in-force deadline, Unix ms; 0 = GTC
	Timestamp     int64           // Unix milliseconds
}
