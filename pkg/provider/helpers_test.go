package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/gezibash/up4w/pkg/logging"
	"github.com/gezibash/up4w/pkg/wire"
)

const waitFor = 5 * time.Second

type result struct {
	resp *wire.Response
	err  error
}

func sendAsync(p Provider, req *wire.Request) <-chan result {
	ch := make(chan result, 8)
	p.Send(req, func(resp *wire.Response, err error) {
		ch <- result{resp, err}
	})
	return ch
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for callback")
		return result{}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 256)}
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

// next waits for the next event of the given kind, skipping others.
func (r *recorder) next(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return Event{}
		}
	}
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// peer serves WebSocket connections, running handle for each accepted one.
type peer struct {
	srv   *httptest.Server
	url   string
	conns chan struct{}
}

func newPeer(t *testing.T, handle func(ctx context.Context, c *websocket.Conn)) *peer {
	t.Helper()
	return newGatedPeer(t, nil, handle)
}

// newGatedPeer holds every handshake until gate is closed. A nil gate
// accepts immediately.
func newGatedPeer(t *testing.T, gate <-chan struct{}, handle func(ctx context.Context, c *websocket.Conn)) *peer {
	t.Helper()
	stop := make(chan struct{})
	p := &peer{conns: make(chan struct{}, 64)}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gate != nil {
			select {
			case <-gate:
			case <-stop:
				return
			}
		}
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{"up4w"}})
		if err != nil {
			return
		}
		defer c.CloseNow()
		p.conns <- struct{}{}
		handle(r.Context(), c)
	}))
	t.Cleanup(p.srv.Close)
	t.Cleanup(func() { close(stop) })
	p.url = "ws" + strings.TrimPrefix(p.srv.URL, "http")
	return p
}

// refusingURL returns an endpoint that rejects every handshake once gate
// is closed. A nil gate rejects immediately.
func refusingURL(t *testing.T, gate <-chan struct{}) string {
	t.Helper()
	stop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if gate != nil {
			select {
			case <-gate:
			case <-stop:
			}
		}
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(stop) })
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func echo(ctx context.Context, c *websocket.Conn) {
	for {
		var req wire.Request
		if err := wsjson.Read(ctx, c, &req); err != nil {
			return
		}
		resp := wire.Response{Rsp: req.Req, Inc: req.Inc, Ret: json.RawMessage(`{"ok":true}`)}
		if err := wsjson.Write(ctx, c, resp); err != nil {
			return
		}
	}
}

// drain reads until the connection ends so that close handshakes complete.
func drain(ctx context.Context, c *websocket.Conn) {
	for {
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
	}
}

func writeText(ctx context.Context, c *websocket.Conn, s string) error {
	return c.Write(ctx, websocket.MessageText, []byte(s))
}

func newWS(t *testing.T, url string, rec *recorder, opts ...Option) *WebSocket {
	t.Helper()
	base := []Option{WithLogger(logging.Discard())}
	if rec != nil {
		base = append(base, WithListener(rec.listen))
	}
	p, err := NewWebSocket(url, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewWebSocket: %v", err)
	}
	t.Cleanup(func() { _ = p.Disconnect(1000, "test done") })
	return p
}

func waitState(t *testing.T, p *WebSocket, want State) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", p.State(), want)
}

func (p *WebSocket) outstanding() (pending, queued int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending), len(p.queued)
}
