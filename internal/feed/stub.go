package feed

import (
	"sync"

	"crypto-trading-agent/internal/marketdata"
)

// StubFeed replays fixed payloads for tests and offline runs.
// Implements the Feed interface.
type StubFeed struct {
	out    chan marketdata.RawMessage
	once   sync.Once
	closed chan struct{}
}

// NewStubFeed creates a stub feed with the given buffer size.
func NewStubFeed(buffer int) *StubFeed {
	return &StubFeed{
		out:    make(chan marketdata.RawMessage, buffer),
		closed: make(chan struct{}),
	}
}

// Compile-time interface check.
var _ Feed = (*StubFeed)(nil)

// Publish queues a raw message for delivery. Returns false after Close.
// Publish must not be called concurrently with Close.
func (s *StubFeed) Publish(msg marketdata.RawMessage) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	s.out <- msg
	return true
}

// Messages returns the raw message channel.
func (s *StubFeed) Messages() <-chan marketdata.RawMessage {
	return s.out
}

// Close closes the message channel. Safe to call more than once.
func (s *StubFeed) Close() error {
	s.once.Do(func() {
		close(s.closed)
		close(s.out)
	})
	return nil
}
