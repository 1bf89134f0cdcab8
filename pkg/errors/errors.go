// Package errors provides the sentinel and typed errors shared by the up4w transport.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration indicates a bad endpoint or an invalid setup parameter.
	ErrConfiguration = stderrors.New("configuration error")

	// ErrUnsupported indicates the provider lacks a requested capability.
	ErrUnsupported = stderrors.New("unsupported capability")

	// ErrNotOpen indicates a send was attempted on a closed connection.
	ErrNotOpen = stderrors.New("connection not open on send()")

	// ErrInvalidConnection indicates the peer could not be reached.
	ErrInvalidConnection = stderrors.New("invalid connection")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = stderrors.New("connection closed")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = stderrors.New("timeout")

	// ErrReconnecting indicates the provider started to reconnect before the response was received.
	ErrReconnecting = stderrors.New("provider started to reconnect before the response got received")

	// ErrMaxAttempts indicates the reconnect budget is exhausted.
	ErrMaxAttempts = stderrors.New("maximum number of reconnect attempts reached")

	// ErrInvalidResponse indicates the peer replied with something that is not a response.
	ErrInvalidResponse = stderrors.New("invalid response")

	// ErrInvalidInput indicates the input is invalid.
	ErrInvalidInput = stderrors.New("invalid input")

	// ErrAlreadyExists indicates the resource already exists.
	ErrAlreadyExists = stderrors.New("already exists")

	// ErrClosed indicates the resource has been closed.
	ErrClosed = stderrors.New("closed")

	// ErrReset indicates a queued or pending call was discarded by a provider reset.
	ErrReset = stderrors.New("provider reset")
)

// ConnectionError carries the close code and reason of the connection event
// that caused the failure.
type ConnectionError struct {
	Msg    string
	Code   int
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Code != 0 && e.Reason != "" {
		return fmt.Sprintf("%s (code %d: %s)", e.Msg, e.Code, e.Reason)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Msg, e.Code)
	}
	return e.Msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NotOpen returns the error for a send on a connection that is not open.
func NotOpen(code int, reason string) error {
	return &ConnectionError{Msg: ErrNotOpen.Error(), Code: code, Reason: reason, Err: ErrNotOpen}
}

// InvalidConnection returns the error for a peer that could not be reached.
func InvalidConnection(host string, code int, reason string) error {
	return &ConnectionError{
		Msg:    fmt.Sprintf("couldn't connect to node %s", host),
		Code:   code,
		Reason: reason,
		Err:    ErrInvalidConnection,
	}
}

// ConnectionClose returns the error surfaced to subscribers when the
// connection closes uncleanly.
func ConnectionClose(code int, reason string) error {
	if code == 0 || reason == "" {
		return &ConnectionError{Msg: "the connection closed unexpectedly", Code: code, Reason: reason, Err: ErrConnectionClosed}
	}
	return &ConnectionError{
		Msg:    "the connection got closed",
		Code:   code,
		Reason: reason,
		Err:    ErrConnectionClosed,
	}
}

// ClosedByClient returns the error for calls discarded by a local Disconnect.
func ClosedByClient(code int, reason string) error {
	return &ConnectionError{Msg: "connection closed by client", Code: code, Reason: reason, Err: ErrConnectionClosed}
}

// TimeoutError reports a timeout together with the configured duration.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("connection timeout: timeout of %d ms achieved", e.After.Milliseconds())
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Timeout reports true, matching the net.Error convention.
func (e *TimeoutError) Timeout() bool { return true }

// ConnectionTimeout returns a TimeoutError for the given duration.
func ConnectionTimeout(after time.Duration) error {
	return &TimeoutError{After: after}
}

// RemoteError is returned when the peer answered with a non-empty err field.
type RemoteError struct {
	Method string
	Code   any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote error: %v", e.Method, e.Code)
}

// Retryable reports whether err is a transient transport failure that a
// caller may resend after.
func Retryable(err error) bool {
	return stderrors.Is(err, ErrReconnecting) ||
		stderrors.Is(err, ErrTimeout) ||
		stderrors.Is(err, ErrNotOpen)
}

// Is, As and New mirror the standard library so callers need one import.
var (
	Is  = stderrors.Is
	As  = stderrors.As
	New = stderrors.New
)
