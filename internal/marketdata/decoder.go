package marketdata

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"crypto-trading-agent/internal/domain"
)

// RawMessage is one opaque message from an exchange feed.
type RawMessage struct {
	Provider string // feed identifier, e.g. "binance"
	Payload  []byte
	Received int64 // local receive time, Unix milliseconds
}

// Decoder converts provider payloads into canonical ticks. One payload
// may carry several trades.
type Decoder interface {
	Decode(payload []byte) ([]*domain.Tick, error)
}

// tradeMessage is the generic JSON trade event shape most spot feeds
// share: symbol, price, quantity, event time, sequence.
type tradeMessage struct {
	Symbol   string `json:"s"`
	Price    string `json:"p"`
	Quantity string `json:"q"`
	Time     int64  `json:"T"`
	Sequence uint64 `json:"t"`
}

// JSONDecoder decodes the generic trade message shape. The symbol map
// translates provider symbols to registered instrument symbols; unmapped
// symbols are decode errors so misconfigured feeds surface immediately.
type JSONDecoder struct {
	symbols map[string]string // provider symbol → instrument symbol
}

// NewJSONDecoder creates a decoder with the given symbol mapping.
func NewJSONDecoder(symbols map[string]string) *JSONDecoder {
	return &JSONDecoder{symbols: symbols}
}

// Compile-time interface check.
var _ Decoder = (*JSONDecoder)(nil)

// Decode parses a single trade message payload.
func (d *JSONDecoder) Decode(payload []byte) ([]*domain.Tick, error) {
	var msg tradeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode trade message: %w", err)
	}

	instrument, ok := d.symbols[msg.Symbol]
	if !ok {
		return nil, fmt.Errorf("decode trade message: unmapped symbol %q", msg.Symbol)
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return nil, fmt.Errorf("decode trade price %q: %w", msg.Price, err)
	}
	qty, err := decimal.NewFromString(msg.Quantity)
	if err != nil {
		return nil, fmt.Errorf("decode trade quantity %q: %w", msg.Quantity, err)
	}

	return []*domain.Tick{{
		Instrument: instrument,
		Timestamp:  msg.Time,
		Sequence:   msg.Sequence,
		Price:      price,
		Volume:     qty,
	}}, nil
}
