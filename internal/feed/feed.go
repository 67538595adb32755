package feed

import (
	"crypto-trading-agent/internal/marketdata"
)

// Feed delivers raw exchange messages to the market data pipeline.
type Feed interface {
	// Messages returns the channel of raw feed messages. The channel is
	// closed when the feed shuts down.
	Messages() <-chan marketdata.RawMessage
	// Close stops the feed and releases its resources.
	Close() error
}
