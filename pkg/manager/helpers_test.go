package manager

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gezibash/up4w/pkg/logging"
	"github.com/gezibash/up4w/pkg/provider"
	"github.com/gezibash/up4w/pkg/wire"
)

const waitFor = 5 * time.Second

// fakeStream is an in-process Stream. reply, when set, answers each Send.
type fakeStream struct {
	mu          sync.Mutex
	listener    provider.Listener
	sent        []*wire.Request
	resets      int
	disconnects []int
	connects    int
	abandoned   []string
	reply       func(req *wire.Request, cb provider.Callback)
}

func (f *fakeStream) Send(req *wire.Request, cb provider.Callback) {
	if req.Inc == "" {
		req.Inc = wire.NewInc()
	}
	f.mu.Lock()
	f.sent = append(f.sent, req)
	reply := f.reply
	f.mu.Unlock()
	if reply != nil {
		reply(req, cb)
	}
}

func (f *fakeStream) SupportsSubscriptions() bool { return true }
func (f *fakeStream) Connected() bool             { return true }

func (f *fakeStream) Disconnect(code int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, code)
	return nil
}

func (f *fakeStream) SetListener(l provider.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

func (f *fakeStream) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeStream) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
}

func (f *fakeStream) Abandon(inc string, _ error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, inc)
	return true
}

func (f *fakeStream) emit(ev provider.Event) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l(ev)
	}
}

func (f *fakeStream) push(topic, ret string) {
	f.emit(provider.Event{Kind: provider.EventData, Data: &wire.Response{Rsp: topic, Ret: json.RawMessage(ret)}})
}

func (f *fakeStream) hasListener() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener != nil
}

// plainProvider answers every call but has no event surface.
type plainProvider struct{}

func (plainProvider) Send(req *wire.Request, cb provider.Callback) {
	cb(&wire.Response{Rsp: req.Req, Inc: req.Inc, Ret: json.RawMessage(`true`)}, nil)
}
func (plainProvider) SupportsSubscriptions() bool  { return false }
func (plainProvider) Connected() bool              { return true }
func (plainProvider) Disconnect(int, string) error { return nil }

// countingStore is an in-memory dedup store that records Close calls.
type countingStore struct {
	mu     sync.Mutex
	ids    map[string]bool
	closed int
	fail   bool
}

func newCountingStore() *countingStore {
	return &countingStore{ids: make(map[string]bool)}
}

func (s *countingStore) Get(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false, errors.New("store down")
	}
	return s.ids[id], nil
}

func (s *countingStore) Set(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	s.ids[id] = true
	return nil
}

func (s *countingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// inbox collects subscription callbacks.
type inbox struct {
	mu    sync.Mutex
	resps []*wire.Response
	errs  []error
	ch    chan struct{}
}

func newInbox() *inbox {
	return &inbox{ch: make(chan struct{}, 256)}
}

func (b *inbox) callback(resp *wire.Response, err error) {
	b.mu.Lock()
	if err != nil {
		b.errs = append(b.errs, err)
	} else {
		b.resps = append(b.resps, resp)
	}
	b.mu.Unlock()
	b.ch <- struct{}{}
}

func (b *inbox) counts() (resps, errs int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.resps), len(b.errs)
}

func (b *inbox) ids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.resps))
	for _, r := range b.resps {
		out = append(out, r.MessageID())
	}
	return out
}

// wait blocks until n callbacks arrived in total.
func (b *inbox) wait(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		r, e := b.counts()
		if r+e >= n {
			return
		}
		select {
		case <-b.ch:
		case <-deadline:
			t.Fatalf("got %d callbacks, want %d", r+e, n)
		}
	}
}

func newFakeManager(t *testing.T, opts ...Option) (*Manager, *fakeStream) {
	t.Helper()
	fs := &fakeStream{}
	base := []Option{WithLogger(logging.Discard()), WithProvider(fs)}
	m, err := New("fake://peer", append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, fs
}

// settle blocks until every event and callback queued by m has run. It must
// be called after the events under test were emitted.
func settle(m *Manager) {
	m.queued.Wait()
}

func subscribe(t *testing.T, m *Manager, topic string, b *inbox) *Subscription {
	t.Helper()
	sub := &Subscription{Req: topic, Callback: b.callback}
	if _, err := m.AddSubscription(sub); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	return sub
}
