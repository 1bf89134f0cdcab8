package up4w

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gezibash/up4w/pkg/logging"
	"github.com/gezibash/up4w/pkg/manager"
)

type inbound struct {
	Req string          `json:"req"`
	Arg json.RawMessage `json:"arg"`
	Inc string          `json:"inc"`
}

type outbound struct {
	Rsp string `json:"rsp"`
	Inc string `json:"inc"`
	Ret any    `json:"ret"`
	Err any    `json:"err,omitempty"`
}

type handler func(arg json.RawMessage) (ret, err any)

// fakePeer answers HTTP calls from a method table and records every request.
type fakePeer struct {
	mu       sync.Mutex
	methods  map[string]handler
	received []inbound
}

func (p *fakePeer) calls(method string) []inbound {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []inbound
	for _, in := range p.received {
		if in.Req == method {
			out = append(out, in)
		}
	}
	return out
}

func (p *fakePeer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var in inbound
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.received = append(p.received, in)
	h := p.methods[in.Req]
	p.mu.Unlock()

	out := outbound{Rsp: in.Req, Inc: in.Inc}
	if h == nil {
		out.Err = "unknown method"
	} else {
		out.Ret, out.Err = h(in.Arg)
	}
	_ = json.NewEncoder(w).Encode(out)
}

func newHTTPClient(t *testing.T, methods map[string]handler) (*Client, *fakePeer) {
	t.Helper()
	peer := &fakePeer{methods: methods}
	srv := httptest.NewServer(peer)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/cmd", manager.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, peer
}

func ack(json.RawMessage) (any, any) { return true, nil }
