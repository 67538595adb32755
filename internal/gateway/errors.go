package gateway

import "errors"

// TransientError defines an interface for adapter errors that may
// succeed on retry (timeouts, rate limits, reconnects in progress).
type TransientError interface {
	error
	IsTransient() bool
}

// IsTransient checks whether an error is a retriable adapter error.
// Permanent errors (and non-adapter errors) report false.
func IsTransient(err error) bool {
	var te TransientError
	if errors.As(err, &te) {
		return te.IsTransient()
	}
	return false
}

// AdapterError wraps a gateway failure with its retry classification.
type AdapterError struct {
	Op        string // operation that failed, e.g. "submit", "cancel"
	Err       error  // underlying error
	Transient bool
}

func (e *AdapterError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *AdapterError) IsTransient() bool {
	return e.Transient
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a retriable adapter error.
func NewTransientError(op string, err error) *AdapterError {
	return &AdapterError{Op: op, Err: err, Transient: true}
}

// NewPermanentError creates a non-retriable adapter error.
func NewPermanentError(op string, err error) *AdapterError {
	return &AdapterError{Op: op, Err: err, Transient: false}
}

var (
	// ErrDisconnected is returned while the gateway has no session.
	// Always wrapped as transient.
	ErrDisconnected = errors.New("gateway disconnected")

	// ErrUnknownOrder is returned by Cancel/Query for an order the
	// exchange has never seen.
	ErrUnknownOrder = errors.New("order not known to exchange")
)
