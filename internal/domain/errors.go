package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrClosed       = fmt.Errorf("closed")
)

// Sentinel errors for the stream client.
var (
	// Connection lifecycle errors.
	ErrNotConnected       = fmt.Errorf("connection: not connected")
	ErrNotAuthenticated   = fmt.Errorf("connection: not authenticated")
	ErrAuthInvalid        = fmt.Errorf("authentication failed")
	ErrAuthRejected       = fmt.Errorf("connection: %w", ErrAuthInvalid)
	ErrReconnectExhausted = fmt.Errorf("connection: reconnect attempts exhausted")
	ErrTransportClosed    = fmt.Errorf("connection: transport closed")

	// Query / REST errors.
	ErrQueryFailed = fmt.Errorf("query failed")
	ErrCircuitOpen = fmt.Errorf("query: circuit open")
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")

	// Request lifecycle errors.
	ErrSuperseded = fmt.Errorf("request superseded")
	ErrCancelled  = fmt.Errorf("request cancelled")

	// Wire errors.
	ErrMalformedFrame = fmt.Errorf("malformed frame")
	ErrUnknownEvent   = fmt.Errorf("unknown event")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Manager.Connect")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTimeout)
}

// IsTerminalConnError reports whether err ends the connection lifecycle
// without further reconnection.
func IsTerminalConnError(err error) bool {
	return errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrReconnectExhausted)
}
