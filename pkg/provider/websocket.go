package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"

	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/logging"
	"github.com/gezibash/up4w/pkg/wire"
)

const (
	transportWS = "websocket"

	// closeAbnormal is reported when the socket drops without a close frame.
	closeAbnormal = 1006
)

// State is the connection state of a WebSocket provider.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type call struct {
	req *wire.Request
	cb  Callback
}

// WebSocket multiplexes calls over one persistent connection. Calls made
// before the connection opens, or while it reconnects, are queued and
// flushed in order once it opens.
type WebSocket struct {
	url string
	cfg config
	log *logging.Logger

	// writeMu serialises socket writes. It is acquired while mu is held,
	// never the other way round.
	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	gen       uint64 // bumped whenever the current connection is abandoned
	pending   map[string]*call
	queued    map[string]*call
	order     []string
	attempts  int
	listener  Listener
	dechunker Dechunker
	chunkSeq  uint64
	chunkT    *time.Timer
	redialT   *time.Timer
	lastClose CloseEvent
}

// NewWebSocket creates a provider for a ws:// or wss:// endpoint and starts
// connecting in the background.
func NewWebSocket(endpoint string, opts ...Option) (*WebSocket, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid websocket endpoint %q", errs.ErrConfiguration, endpoint)
	}

	cfg := newConfig(DefaultChunkTimeout, opts)
	p := &WebSocket{
		url:      endpoint,
		cfg:      cfg,
		log:      cfg.logger.WithComponent("provider.websocket").WithEndpoint(endpoint),
		pending:  make(map[string]*call),
		queued:   make(map[string]*call),
		state:    StateConnecting,
		listener: cfg.listener,
	}

	gen := p.gen
	go p.dial(gen)
	return p, nil
}

// Connect restarts a provider that reached the CLOSED state. It is a no-op
// otherwise.
func (p *WebSocket) Connect() {
	p.mu.Lock()
	if p.state != StateClosed {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.state = StateConnecting
	p.attempts = 0
	gen := p.gen
	p.mu.Unlock()

	go p.dial(gen)
}

// State returns the current connection state.
func (p *WebSocket) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Connected reports whether the connection is open.
func (p *WebSocket) Connected() bool { return p.State() == StateOpen }

// SupportsSubscriptions reports true.
func (p *WebSocket) SupportsSubscriptions() bool { return true }

// SetListener installs l as the receiver of provider events.
func (p *WebSocket) SetListener(l Listener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

// Send transmits req, or queues it while the connection is not yet open.
func (p *WebSocket) Send(req *wire.Request, cb Callback) {
	if req.Inc == "" {
		req.Inc = wire.NewInc()
	}
	c := &call{req: req, cb: cb}

	p.mu.Lock()
	if p.outstandingLocked(req.Inc) {
		p.mu.Unlock()
		cb(nil, fmt.Errorf("inc %s: %w", req.Inc, errs.ErrAlreadyExists))
		return
	}

	switch p.state {
	case StateConnecting, StateReconnecting:
		p.queued[req.Inc] = c
		p.order = append(p.order, req.Inc)
		p.gaugeLocked()
		p.mu.Unlock()
		p.log.WithInc(req.Inc).Debug("queued until open", "req", req.Req)
		return
	case StateClosed:
		err := errs.NotOpen(p.lastClose.Code, p.lastClose.Reason)
		l := p.listener
		p.mu.Unlock()
		p.cfg.metrics.IncError(transportWS, errorType(err))
		emit(l, Event{Kind: EventError, Err: err})
		cb(nil, err)
		return
	}

	p.pending[req.Inc] = c
	p.gaugeLocked()
	conn := p.conn
	p.writeMu.Lock()
	p.mu.Unlock()

	err := p.write(conn, req)
	p.writeMu.Unlock()
	if err != nil {
		p.failIfPending(c, err)
	}
}

// Disconnect closes the connection with code (1000 when 0). Queued and
// in-flight calls fail with a connection-closed error, a close event is
// emitted and the listener is removed.
func (p *WebSocket) Disconnect(code int, reason string) error {
	if code == 0 {
		code = int(websocket.StatusNormalClosure)
	}

	p.mu.Lock()
	if p.state == StateClosed && p.conn == nil {
		p.mu.Unlock()
		return nil
	}
	conn := p.conn
	ev := CloseEvent{Code: code, Reason: reason, WasClean: true}
	after := p.terminateLocked(ev, errs.ClosedByClient(code, reason), errs.ClosedByClient(code, reason))
	p.mu.Unlock()
	run(after)

	if conn == nil {
		return nil
	}
	if err := conn.Close(websocket.StatusCode(code), reason); err != nil && websocket.CloseStatus(err) == -1 {
		p.log.WithError(err).Debug("close handshake incomplete")
	}
	return nil
}

// Reset fails every queued and in-flight call with errors.ErrReset. The
// connection and listener are left in place.
func (p *WebSocket) Reset() {
	p.mu.Lock()
	calls := p.takeAllLocked()
	p.mu.Unlock()

	for _, c := range calls {
		c.cb(nil, errs.ErrReset)
	}
}

// Abandon removes the queued or in-flight call for inc and fails it with
// err. It reports whether such a call existed. A reply that arrives later
// is handled as an unsolicited frame.
func (p *WebSocket) Abandon(inc string, err error) bool {
	p.mu.Lock()
	c, ok := p.pending[inc]
	if ok {
		delete(p.pending, inc)
	} else if c, ok = p.queued[inc]; ok {
		delete(p.queued, inc)
		p.order = slices.DeleteFunc(p.order, func(s string) bool { return s == inc })
	}
	if ok {
		p.gaugeLocked()
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	p.log.WithInc(inc).Debug("call abandoned", "req", c.req.Req)
	c.cb(nil, err)
	return true
}

func (p *WebSocket) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), p.dialTimeout())
	conn, _, err := websocket.Dial(ctx, p.url, &websocket.DialOptions{
		HTTPClient:   p.cfg.httpClient,
		HTTPHeader:   p.cfg.headers,
		Subprotocols: p.cfg.subprotocols,
	})
	cancel()
	if err != nil {
		p.log.WithError(err).Debug("dial failed")
		p.handleClose(gen, CloseEvent{Code: closeAbnormal, Reason: err.Error()})
		return
	}
	conn.SetReadLimit(p.cfg.readLimit)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		_ = conn.CloseNow()
		return
	}
	p.conn = conn
	p.state = StateOpen
	p.attempts = 0
	p.lastClose = CloseEvent{}

	flush := make([]*call, 0, len(p.order))
	for _, inc := range p.order {
		c, ok := p.queued[inc]
		if !ok {
			continue
		}
		delete(p.queued, inc)
		p.pending[inc] = c
		flush = append(flush, c)
	}
	p.order = nil
	p.gaugeLocked()
	l := p.listener
	p.writeMu.Lock()
	p.mu.Unlock()

	var failed []*call
	var failedErr []error
	for _, c := range flush {
		if err := p.write(conn, c.req); err != nil {
			failed = append(failed, c)
			failedErr = append(failedErr, err)
		}
	}
	p.writeMu.Unlock()

	p.log.Debug("connected", "flushed", len(flush), "subprotocol", conn.Subprotocol())
	emit(l, Event{Kind: EventConnect})
	for i, c := range failed {
		p.failIfPending(c, failedErr[i])
	}
	go p.readLoop(gen, conn)
}

func (p *WebSocket) dialTimeout() time.Duration {
	if p.cfg.timeout > 0 {
		return p.cfg.timeout
	}
	return DefaultChunkTimeout
}

func (p *WebSocket) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(context.Background())
		if err != nil {
			p.handleClose(gen, closeEventFrom(err))
			return
		}
		p.cfg.metrics.AddBytes(transportWS, "in", len(data))
		if typ != websocket.MessageText {
			p.log.Debug("ignoring binary message", "bytes", len(data))
			continue
		}
		p.handleMessage(gen, string(data))
	}
}

func closeEventFrom(err error) CloseEvent {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return CloseEvent{Code: int(ce.Code), Reason: ce.Reason, WasClean: true}
	}
	return CloseEvent{Code: closeAbnormal, Reason: err.Error()}
}

type delivery struct {
	resp *wire.Response
	call *call
}

func (p *WebSocket) handleMessage(gen uint64, data string) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}

	values := p.dechunker.Feed(data)
	if p.dechunker.Pending() {
		p.restartChunkTimerLocked()
	} else {
		p.stopChunkTimerLocked()
	}

	var out []delivery
	for _, raw := range values {
		for _, resp := range p.decode(raw) {
			d := delivery{resp: resp}
			if resp.Inc != "" {
				if c, ok := p.pending[resp.Inc]; ok {
					d.call = c
					if resp.Final() {
						delete(p.pending, resp.Inc)
					}
				}
			}
			out = append(out, d)
		}
	}
	p.gaugeLocked()
	l := p.listener
	p.mu.Unlock()

	for _, d := range out {
		emit(l, Event{Kind: EventData, Data: d.resp})
		if d.call != nil {
			d.call.cb(d.resp, nil)
			continue
		}
		switch {
		case d.resp.Inc == "" && !p.cfg.isPushTopic(d.resp.Rsp):
			p.log.WithTopic(d.resp.Rsp).Warn("frame without inc on a non-push topic")
		case d.resp.Inc != "":
			p.log.WithInc(d.resp.Inc).Debug("frame for unknown call", "rsp", d.resp.Rsp)
		}
	}
}

// decode turns one JSON value into responses. Arrays are flattened.
func (p *WebSocket) decode(raw json.RawMessage) []*wire.Response {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []*wire.Response
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			p.log.WithError(err).Warn("undecodable frame", "frame", logging.Truncate(string(raw), 128))
			return nil
		}
		out := batch[:0]
		for _, r := range batch {
			if r != nil {
				out = append(out, r)
			}
		}
		return out
	}

	var resp wire.Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		p.log.WithError(err).Warn("undecodable frame", "frame", logging.Truncate(string(raw), 128))
		return nil
	}
	return []*wire.Response{&resp}
}

func (p *WebSocket) restartChunkTimerLocked() {
	p.stopChunkTimerLocked()
	seq := p.chunkSeq
	p.chunkT = time.AfterFunc(p.cfg.timeout, func() { p.onChunkTimeout(seq) })
}

func (p *WebSocket) stopChunkTimerLocked() {
	p.chunkSeq++
	if p.chunkT != nil {
		p.chunkT.Stop()
		p.chunkT = nil
	}
}

func (p *WebSocket) onChunkTimeout(seq uint64) {
	p.mu.Lock()
	if seq != p.chunkSeq || !p.dechunker.Pending() {
		p.mu.Unlock()
		return
	}
	p.dechunker.Drop()
	p.chunkT = nil
	p.log.Warn("partial frame timed out", "timeout", p.cfg.timeout)

	if p.cfg.reconnect.Auto && p.cfg.reconnect.OnTimeout {
		conn := p.conn
		p.conn = nil
		after := p.reconnectLocked()
		p.mu.Unlock()
		if conn != nil {
			_ = conn.CloseNow()
		}
		run(after)
		return
	}

	err := errs.ConnectionTimeout(p.cfg.timeout)
	calls := p.takeAllLocked()
	l := p.listener
	p.mu.Unlock()

	p.cfg.metrics.IncError(transportWS, "timeout")
	emit(l, Event{Kind: EventError, Err: err})
	for _, c := range calls {
		c.cb(nil, err)
	}
}

// handleClose reacts to the end of the connection identified by gen.
func (p *WebSocket) handleClose(gen uint64, ev CloseEvent) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	p.log.Debug("connection closed", "code", ev.Code, "reason", ev.Reason, "clean", ev.WasClean)

	var after []func()
	if p.cfg.reconnect.Auto && !ev.Clean() {
		after = p.reconnectLocked()
	} else {
		after = p.terminateLocked(ev,
			errs.NotOpen(ev.Code, ev.Reason),
			errs.InvalidConnection(p.url, ev.Code, ev.Reason))
	}
	p.mu.Unlock()
	run(after)
}

// reconnectLocked fails in-flight calls, keeps the queue and schedules the
// next attempt, or gives up once the attempt budget is spent.
func (p *WebSocket) reconnectLocked() []func() {
	p.gen++
	p.state = StateReconnecting
	p.stopChunkTimerLocked()
	p.dechunker.Drop()

	inflight := p.takePendingLocked()
	after := []func(){func() {
		for _, c := range inflight {
			c.cb(nil, errs.ErrReconnecting)
		}
	}}

	rc := p.cfg.reconnect
	if rc.MaxAttempts == 0 || p.attempts < rc.MaxAttempts {
		gen := p.gen
		p.redialT = time.AfterFunc(rc.Delay, func() { p.redial(gen) })
		return after
	}

	p.state = StateClosed
	p.lastClose = CloseEvent{Code: closeAbnormal}
	queued := p.takeQueueLocked()
	l := p.listener
	p.cfg.metrics.IncReconnect("exhausted")
	p.log.Warn("reconnect attempts exhausted", "attempts", p.attempts)
	return append(after, func() {
		err := fmt.Errorf("after %d attempts: %w", rc.MaxAttempts, errs.ErrMaxAttempts)
		emit(l, Event{Kind: EventError, Err: err})
		for _, c := range queued {
			c.cb(nil, err)
		}
	})
}

func (p *WebSocket) redial(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.state != StateReconnecting {
		p.mu.Unlock()
		return
	}
	p.attempts++
	attempt := p.attempts
	l := p.listener
	p.mu.Unlock()

	p.cfg.metrics.IncReconnect("attempt")
	p.log.Info("reconnecting", "attempt", attempt)
	emit(l, Event{Kind: EventReconnect, Attempt: attempt})
	p.dial(gen)
}

// terminateLocked moves to CLOSED, fails every call and removes the
// listener after handing it the close event.
func (p *WebSocket) terminateLocked(ev CloseEvent, queuedErr, inflightErr error) []func() {
	p.gen++
	p.state = StateClosed
	p.conn = nil
	p.lastClose = ev
	p.stopChunkTimerLocked()
	p.dechunker.Drop()
	if p.redialT != nil {
		p.redialT.Stop()
		p.redialT = nil
	}

	queued := p.takeQueueLocked()
	inflight := p.takePendingLocked()
	l := p.listener
	p.listener = nil

	return []func(){func() {
		emit(l, Event{Kind: EventClose, Close: ev})
		for _, c := range queued {
			c.cb(nil, queuedErr)
		}
		for _, c := range inflight {
			c.cb(nil, inflightErr)
		}
	}}
}

func (p *WebSocket) write(conn *websocket.Conn, req *wire.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", errs.ErrInvalidInput, req.Req, err)
	}
	if conn == nil {
		return errs.NotOpen(0, "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.timeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", errs.NotOpen(closeAbnormal, err.Error()))
	}
	p.cfg.metrics.AddBytes(transportWS, "out", len(data))
	return nil
}

func (p *WebSocket) failIfPending(c *call, err error) {
	p.mu.Lock()
	cur, ok := p.pending[c.req.Inc]
	if ok && cur == c {
		delete(p.pending, c.req.Inc)
		p.gaugeLocked()
	}
	p.mu.Unlock()
	if ok && cur == c {
		p.cfg.metrics.IncError(transportWS, errorType(err))
		c.cb(nil, err)
	}
}

func (p *WebSocket) outstandingLocked(inc string) bool {
	if _, ok := p.pending[inc]; ok {
		return true
	}
	_, ok := p.queued[inc]
	return ok
}

func (p *WebSocket) takePendingLocked() []*call {
	out := make([]*call, 0, len(p.pending))
	for inc, c := range p.pending {
		out = append(out, c)
		delete(p.pending, inc)
	}
	p.gaugeLocked()
	return out
}

func (p *WebSocket) takeQueueLocked() []*call {
	out := make([]*call, 0, len(p.order))
	for _, inc := range p.order {
		if c, ok := p.queued[inc]; ok {
			out = append(out, c)
			delete(p.queued, inc)
		}
	}
	p.order = nil
	p.gaugeLocked()
	return out
}

func (p *WebSocket) takeAllLocked() []*call {
	return append(p.takeQueueLocked(), p.takePendingLocked()...)
}

func (p *WebSocket) gaugeLocked() {
	p.cfg.metrics.SetCalls(transportWS, len(p.pending), len(p.queued))
}

func emit(l Listener, ev Event) {
	if l != nil {
		l(ev)
	}
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
