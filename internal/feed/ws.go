package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crypto-trading-agent/internal/marketdata"
	"crypto-trading-agent/internal/observability"
)

// WSConfig configures WebSocket feed behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket feed configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// WSFeed streams trade messages from an exchange WebSocket endpoint.
// It subscribes to the trade stream of each provider symbol on connect
// and resubscribes after every reconnect.
type WSFeed struct {
	endpoint string
	provider string
	symbols  []string
	config   WSConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	out chan marketdata.RawMessage

	metrics *observability.Metrics
	log     *zap.SugaredLogger

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

// subscribeRequest is the stream subscription frame most spot exchanges
// accept: a method name plus a list of stream identifiers.
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

// controlResponse matches subscription acks and error frames. Anything
// carrying an "id" field is a control frame, not market data.
type controlResponse struct {
	ID    *uint64 `json:"id"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"msg"`
	} `json:"error"`
}

// NewWSFeed creates a WebSocket feed and connects to the endpoint.
// symbols are provider symbols, e.g. "BTCUSDT".
func NewWSFeed(ctx context.Context, endpoint, provider string, symbols []string, config *WSConfig, metrics *observability.Metrics, log *zap.SugaredLogger) (*WSFeed, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("feed: no symbols to subscribe")
	}

	f := &WSFeed{
		endpoint: endpoint,
		provider: provider,
		symbols:  symbols,
		config:   cfg,
		out:      make(chan marketdata.RawMessage, 4096),
		metrics:  metrics,
		log:      log,
		done:     make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}
	if err := f.subscribe(); err != nil {
		f.conn.Close()
		return nil, err
	}

	f.wg.Add(1)
	go f.readLoop()

	f.wg.Add(1)
	go f.pingLoop()

	return f, nil
}

// Compile-time interface check.
var _ Feed = (*WSFeed)(nil)

// Messages returns the raw message channel.
func (f *WSFeed) Messages() <-chan marketdata.RawMessage {
	return f.out
}

// connect establishes the WebSocket connection.
func (f *WSFeed) connect(ctx context.Context) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	f.conn = conn
	return nil
}

// subscribe sends the trade stream subscription frame.
func (f *WSFeed) subscribe() error {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, strings.ToLower(s)+"@trade")
	}

	req := subscribeRequest{
		Method: "SUBSCRIBE",
		Params: streams,
		ID:     f.requestID.Add(1),
	}

	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("not connected")
	}

	f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := f.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Close closes the WebSocket connection and the message channel.
func (f *WSFeed) Close() error {
	if f.closed.Swap(true) {
		return nil // Already closed
	}

	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	close(f.out)
	return nil
}

// readLoop reads messages from the WebSocket and emits raw messages.
func (f *WSFeed) readLoop() {
	defer f.wg.Done()

	reconnectDelay := f.config.ReconnectDelay

	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}

			// Connection error - attempt reconnect with exponential backoff
			if !f.reconnecting.Swap(true) {
				go f.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > f.config.MaxReconnectDelay {
				reconnectDelay = f.config.MaxReconnectDelay
			}

			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = f.config.ReconnectDelay

		f.handleMessage(message)
	}
}

// reconnect waits, redials and resubscribes.
func (f *WSFeed) reconnect(delay time.Duration) {
	defer f.reconnecting.Store(false)

	if f.closed.Load() {
		return
	}

	select {
	case <-f.done:
		return
	case <-time.After(delay):
	}

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()

	f.metrics.FeedReconnects.Inc()
	if f.log != nil {
		f.log.Infow("feed reconnecting", "endpoint", f.endpoint, "delay", delay)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := f.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		return
	}

	if err := f.subscribe(); err != nil && f.log != nil {
		f.log.Warnw("feed resubscribe failed", "err", err)
	}
}

// handleMessage filters control frames and emits market data payloads.
func (f *WSFeed) handleMessage(message []byte) {
	var ctrl controlResponse
	if err := json.Unmarshal(message, &ctrl); err == nil && ctrl.ID != nil {
		if ctrl.Error != nil && f.log != nil {
			f.log.Warnw("feed control error",
				"code", ctrl.Error.Code, "msg", ctrl.Error.Message)
		}
		return
	}

	raw := marketdata.RawMessage{
		Provider: f.provider,
		Payload:  message,
		Received: time.Now().UnixMilli(),
	}

	// Block until consumed - never drop feed messages
	select {
	case f.out <- raw:
		f.metrics.FeedMessagesTotal.Inc()
	case <-f.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (f *WSFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			f.connMu.Unlock()
		}
	}
}
