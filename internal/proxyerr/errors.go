package proxyerr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Direction identifies which half of a relay a stream error occurred on.
type Direction string

const (
	// DirectionUpstream is the client-to-backend half (request relay).
	DirectionUpstream Direction = "upstream"
	// DirectionDownstream is the backend-to-client half (response relay).
	DirectionDownstream Direction = "downstream"
)

// Connect failure reasons.
const (
	ReasonResolve     = "resolve"
	ReasonRefused     = "refused"
	ReasonTimeout     = "timeout"
	ReasonCircuitOpen = "circuit_open"
	ReasonPoolClosed  = "pool_closed"
)

// ConfigError reports a malformed routing configuration. It is fatal at
// build or reload time: the whole configuration is rejected, never a
// partially built table.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// ConnectError reports a backend that could not be reached before any bytes
// were exchanged. It is always safe to surface cleanly to the client.
type ConnectError struct {
	Target string
	Reason string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connect %s (%s): %v", e.Target, e.Reason, e.Err)
	}
	return fmt.Sprintf("connect %s: %s", e.Target, e.Reason)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the connect failure was caused by the connect
// deadline expiring.
func (e *ConnectError) Timeout() bool {
	return e.Reason == ReasonTimeout || isTimeout(e.Err)
}

// StreamError reports a failure while relaying bytes after streaming began.
// Once response bytes have reached the client it cannot be converted into a
// clean error response and must surface as connection termination.
type StreamError struct {
	Direction Direction
	Err       error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Direction, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the stream failure was caused by an idle-read or
// total-request deadline expiring.
func (e *StreamError) Timeout() bool {
	return isTimeout(e.Err)
}

// IsTimeout reports whether err, anywhere in its chain, is a timeout. Timed
// out connections are always treated as unhealthy for pooling purposes.
func IsTimeout(err error) bool {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Timeout()
	}
	var se *StreamError
	if errors.As(err, &se) {
		return se.Timeout()
	}
	return isTimeout(err)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
