// Package provider implements the transports that carry up4w calls: a
// stateless HTTP provider and a persistent WebSocket provider with
// dechunking and reconnection.
package provider

import (
	"fmt"

	"github.com/gezibash/up4w/pkg/wire"
)

// Callback receives the outcome of an exchange. It is invoked exactly once,
// except that frames with fin=false invoke it again for the same call.
type Callback func(resp *wire.Response, err error)

// Provider carries requests to the peer.
type Provider interface {
	// Send transmits req and reports the outcome through cb. An empty
	// req.Inc is filled in before sending. Failures never panic.
	Send(req *wire.Request, cb Callback)
	// SupportsSubscriptions reports whether the provider delivers push frames.
	SupportsSubscriptions() bool
	// Connected reports whether the provider can transmit right now.
	Connected() bool
	// Disconnect closes the provider and fails outstanding calls.
	Disconnect(code int, reason string) error
}

// Stream is a provider with an event surface.
type Stream interface {
	Provider
	// SetListener installs the single receiver of provider events.
	SetListener(l Listener)
	// Reset discards queued and in-flight calls, failing them with
	// errors.ErrReset. The listener stays installed.
	Reset()
}

// EventKind identifies a provider event.
type EventKind int

const (
	// EventData carries every decoded frame, matched or not.
	EventData EventKind = iota
	// EventConnect fires when the connection opens.
	EventConnect
	// EventReconnect fires before each reconnect attempt.
	EventReconnect
	// EventError carries a transport error not tied to a single call.
	EventError
	// EventClose fires once when the provider reaches a terminal state.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventConnect:
		return "connect"
	case EventReconnect:
		return "reconnect"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered to a Listener. Which fields are set depends on Kind.
type Event struct {
	Kind    EventKind
	Data    *wire.Response
	Err     error
	Attempt int
	Close   CloseEvent
}

// CloseEvent describes how a connection ended.
type CloseEvent struct {
	Code     int
	Reason   string
	WasClean bool
}

// Clean reports a normal or going-away close that completed the handshake.
func (c CloseEvent) Clean() bool {
	return c.WasClean && (c.Code == 1000 || c.Code == 1001)
}

// Listener receives provider events on the provider's read goroutine, in
// order. It must not block for long.
type Listener func(Event)
