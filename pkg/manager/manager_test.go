package manager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gezibash/up4w/pkg/dedup"
	_ "github.com/gezibash/up4w/pkg/dedup/sqlite"
	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/logging"
	"github.com/gezibash/up4w/pkg/provider"
	"github.com/gezibash/up4w/pkg/wire"
)

func TestNewProviderSchemes(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"http://127.0.0.1:8080/cmd", "http"},
		{"HTTPS://node.example/cmd", "http"},
		{"ws://127.0.0.1:1/ws", "ws"},
		{"WSS://127.0.0.1:1/ws", "ws"},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			p, err := NewProvider(tt.endpoint, provider.WithLogger(logging.Discard()))
			if err != nil {
				t.Fatalf("NewProvider: %v", err)
			}
			defer p.Disconnect(1000, "")

			switch p.(type) {
			case *provider.HTTP:
				if tt.want != "http" {
					t.Errorf("got HTTP provider for %s", tt.endpoint)
				}
			case *provider.WebSocket:
				if tt.want != "ws" {
					t.Errorf("got WebSocket provider for %s", tt.endpoint)
				}
			default:
				t.Errorf("unexpected provider %T", p)
			}
		})
	}
}

func TestNewProviderRejectsUnknownScheme(t *testing.T) {
	for _, endpoint := range []string{"", "ftp://node", "127.0.0.1:8080"} {
		p, err := NewProvider(endpoint)
		if !errs.Is(err, errs.ErrConfiguration) {
			t.Errorf("NewProvider(%q) err = %v, want ErrConfiguration", endpoint, err)
		}
		if p != nil {
			t.Errorf("NewProvider(%q) returned non-nil provider %T", endpoint, p)
		}
	}
}

func TestNewRejectsUnknownScheme(t *testing.T) {
	store := newCountingStore()
	_, err := New("gopher://node", WithStore(store), WithLogger(logging.Discard()))
	if !errs.Is(err, errs.ErrConfiguration) {
		t.Fatalf("New err = %v", err)
	}
	if store.closed != 0 {
		t.Error("caller-owned store was closed")
	}
}

func TestSendReturnsFirstFrame(t *testing.T) {
	m, fs := newFakeManager(t)
	fs.reply = func(req *wire.Request, cb provider.Callback) {
		cb(&wire.Response{Rsp: req.Req, Inc: req.Inc, Ret: json.RawMessage(`1`), Fin: wire.Bool(false)}, nil)
		cb(&wire.Response{Rsp: req.Req, Inc: req.Inc, Ret: json.RawMessage(`2`)}, nil)
	}

	resp, err := m.Send(context.Background(), &wire.Request{Req: "msg.list"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(resp.Ret) != "1" {
		t.Errorf("ret = %s, want first frame", resp.Ret)
	}
}

func TestSendRemoteError(t *testing.T) {
	m, fs := newFakeManager(t)
	fs.reply = func(req *wire.Request, cb provider.Callback) {
		cb(&wire.Response{Rsp: req.Req, Inc: req.Inc, Err: "no such contact"}, nil)
	}

	resp, err := m.Send(context.Background(), &wire.Request{Req: "contact.get"})
	var re *errs.RemoteError
	if !errs.As(err, &re) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if re.Method != "contact.get" || re.Code != "no such contact" {
		t.Errorf("RemoteError = %+v", re)
	}
	if resp == nil || !resp.Failed() {
		t.Error("failed response not returned alongside the error")
	}
}

func TestSendHonoursContext(t *testing.T) {
	m, fs := newFakeManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := &wire.Request{Req: "core.ver"}
	_, err := m.Send(ctx, req)
	if !errs.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !slices.Equal(fs.abandoned, []string{req.Inc}) {
		t.Errorf("abandoned = %v, want [%s]", fs.abandoned, req.Inc)
	}
}

func TestCallbacksRunInOrderOffTheEmitter(t *testing.T) {
	m, fs := newFakeManager(t)
	release := make(chan struct{})
	var (
		mu  sync.Mutex
		ids []string
	)
	sub := &Subscription{Req: wire.PushTopic, Callback: func(resp *wire.Response, _ error) {
		<-release
		mu.Lock()
		ids = append(ids, resp.MessageID())
		mu.Unlock()
	}}
	if _, err := m.AddSubscription(sub); err != nil {
		t.Fatal(err)
	}

	// The callback blocks until release, so these return only if delivery
	// is queued rather than run inline.
	for _, id := range []string{"m1", "m2", "m3"} {
		fs.push(wire.PushTopic, `{"id":"`+id+`"}`)
	}
	close(release)
	settle(m)

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(ids, []string{"m1", "m2", "m3"}) {
		t.Errorf("delivered %v", ids)
	}
}

func TestSendOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wire.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(wire.Response{Rsp: req.Req, Inc: req.Inc, Ret: json.RawMessage(`{"ver":"1.0"}`)})
	}))
	defer srv.Close()

	m, err := New(srv.URL, WithLogger(logging.Discard()), WithStore(newCountingStore()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	resp, err := m.Send(context.Background(), &wire.Request{Req: "core.ver"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var ret struct{ Ver string }
	if err := resp.Decode(&ret); err != nil || ret.Ver != "1.0" {
		t.Errorf("ret = %+v, err = %v", ret, err)
	}
	if m.CanSubscribe() {
		t.Error("HTTP manager reports subscriptions")
	}
	if m.Endpoint() != srv.URL {
		t.Errorf("Endpoint = %q", m.Endpoint())
	}
}

func TestStreamForwardsPartialFrames(t *testing.T) {
	m, fs := newFakeManager(t)
	fs.reply = func(req *wire.Request, cb provider.Callback) {
		for i := range 3 {
			fin := i == 2
			cb(&wire.Response{Rsp: req.Req, Inc: req.Inc, Ret: json.RawMessage(`{}`), Fin: wire.Bool(fin)}, nil)
		}
	}

	b := newInbox()
	m.Stream(&wire.Request{Req: "msg.list"}, b.callback)
	b.wait(t, 3)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resps[0].Final() || !b.resps[2].Final() {
		t.Error("fin flags not forwarded in order")
	}
}

func TestAddSubscriptionRequiresStream(t *testing.T) {
	m, err := New("fake://", WithProvider(plainProvider{}), WithStore(newCountingStore()), WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	_, err = m.AddSubscription(&Subscription{Req: wire.PushTopic, Callback: newInbox().callback})
	if !errs.Is(err, errs.ErrConfiguration) || !errs.Is(err, errs.ErrUnsupported) {
		t.Fatalf("err = %v, want configuration and unsupported", err)
	}
}

func TestAddSubscriptionAssignsInc(t *testing.T) {
	m, _ := newFakeManager(t)

	generated := subscribe(t, m, wire.PushTopic, newInbox())
	if generated.Inc == "" {
		t.Error("inc not assigned")
	}

	given := &Subscription{Req: wire.PushTopic, Inc: "mine", Callback: newInbox().callback}
	if _, err := m.AddSubscription(given); err != nil {
		t.Fatal(err)
	}
	if given.Inc != "mine" {
		t.Errorf("inc overwritten: %q", given.Inc)
	}
}

func TestAddSubscriptionValidates(t *testing.T) {
	m, _ := newFakeManager(t)
	bad := []*Subscription{
		nil,
		{Callback: newInbox().callback},
		{Req: wire.PushTopic},
	}
	for i, sub := range bad {
		if _, err := m.AddSubscription(sub); !errs.Is(err, errs.ErrInvalidInput) {
			t.Errorf("case %d: err = %v", i, err)
		}
	}
}

func TestDuplicateDeliveredOnce(t *testing.T) {
	m, fs := newFakeManager(t)
	a, b := newInbox(), newInbox()
	subscribe(t, m, wire.PushTopic, a)
	subscribe(t, m, wire.PushTopic, b)

	fs.push(wire.PushTopic, `{"id":"m1","content":"hi"}`)
	fs.push(wire.PushTopic, `{"id":"m1","content":"hi"}`)
	fs.push(wire.PushTopic, `{"id":"m2","content":"again"}`)
	settle(m)

	for name, box := range map[string]*inbox{"a": a, "b": b} {
		if got := box.ids(); !slices.Equal(got, []string{"m1", "m2"}) {
			t.Errorf("%s received %v", name, got)
		}
	}
}

func TestDeliversWithoutID(t *testing.T) {
	m, fs := newFakeManager(t)
	b := newInbox()
	subscribe(t, m, "swarm.event", b)

	fs.push("swarm.event", `{"joined":true}`)
	fs.push("swarm.event", `{"joined":true}`)
	fs.push("swarm.event", `[1,2]`)
	settle(m)

	if n, _ := b.counts(); n != 3 {
		t.Errorf("delivered %d, want 3", n)
	}
}

func TestNullRetNotDelivered(t *testing.T) {
	m, fs := newFakeManager(t)
	b := newInbox()
	subscribe(t, m, wire.PushTopic, b)

	fs.push(wire.PushTopic, `null`)
	fs.emit(provider.Event{Kind: provider.EventData, Data: &wire.Response{Rsp: wire.PushTopic}})
	fs.push("other.topic", `{"id":"x"}`)
	settle(m)

	if n, e := b.counts(); n != 0 || e != 0 {
		t.Errorf("got %d responses, %d errors", n, e)
	}
}

func TestRemoveSubscriptionRemovesOneRegistration(t *testing.T) {
	m, fs := newFakeManager(t)
	first, second := newInbox(), newInbox()
	subFirst := subscribe(t, m, wire.PushTopic, first)
	sub := &Subscription{Req: wire.PushTopic, Callback: second.callback}
	unsubscribe, err := m.AddSubscription(sub)
	if err != nil {
		t.Fatal(err)
	}

	if !unsubscribe() {
		t.Fatal("unsubscribe reported missing registration")
	}
	if unsubscribe() {
		t.Error("second unsubscribe reported success")
	}
	if got := m.Subscriptions(wire.PushTopic); got != 1 {
		t.Errorf("Subscriptions = %d", got)
	}

	fs.push(wire.PushTopic, `{"id":"m1"}`)
	settle(m)
	if n, _ := first.counts(); n != 1 {
		t.Errorf("remaining subscription got %d", n)
	}
	if n, _ := second.counts(); n != 0 {
		t.Errorf("removed subscription got %d", n)
	}

	if !m.RemoveSubscription(subFirst) {
		t.Error("RemoveSubscription = false")
	}
	if got := m.Subscriptions(""); got != 0 {
		t.Errorf("Subscriptions = %d after removing all", got)
	}
}

func TestClearSubscriptionsResetsProvider(t *testing.T) {
	m, fs := newFakeManager(t)
	subscribe(t, m, wire.PushTopic, newInbox())
	subscribe(t, m, "swarm.event", newInbox())

	m.ClearSubscriptions()
	if got := m.Subscriptions(""); got != 0 {
		t.Errorf("Subscriptions = %d", got)
	}
	if fs.resets != 1 {
		t.Errorf("resets = %d", fs.resets)
	}
	if !fs.hasListener() {
		t.Error("listener removed by clear")
	}
}

func TestErrorEventBroadcast(t *testing.T) {
	m, fs := newFakeManager(t)
	a, b := newInbox(), newInbox()
	subscribe(t, m, wire.PushTopic, a)
	subscribe(t, m, "swarm.event", b)

	fs.emit(provider.Event{Kind: provider.EventError, Err: errs.ErrMaxAttempts})
	settle(m)

	for _, box := range []*inbox{a, b} {
		box.mu.Lock()
		if len(box.errs) != 1 || !errs.Is(box.errs[0], errs.ErrMaxAttempts) {
			t.Errorf("errors = %v", box.errs)
		}
		box.mu.Unlock()
	}
	if got := m.Subscriptions(""); got != 2 {
		t.Errorf("error event removed subscriptions: %d left", got)
	}
}

func TestDirtyCloseClearsSubscriptions(t *testing.T) {
	m, fs := newFakeManager(t)
	b := newInbox()
	subscribe(t, m, wire.PushTopic, b)

	fs.emit(provider.Event{Kind: provider.EventClose, Close: provider.CloseEvent{Code: 4001, Reason: "kicked"}})
	settle(m)

	b.mu.Lock()
	if len(b.errs) != 1 || !errs.Is(b.errs[0], errs.ErrConnectionClosed) {
		t.Errorf("errors = %v", b.errs)
	} else {
		var ce *errs.ConnectionError
		if !errs.As(b.errs[0], &ce) || ce.Code != 4001 || ce.Reason != "kicked" {
			t.Errorf("close error = %v", b.errs[0])
		}
	}
	b.mu.Unlock()
	if got := m.Subscriptions(""); got != 0 {
		t.Errorf("Subscriptions = %d", got)
	}
}

func TestCleanCloseKeepsSubscriptions(t *testing.T) {
	m, fs := newFakeManager(t)
	b := newInbox()
	subscribe(t, m, wire.PushTopic, b)

	fs.emit(provider.Event{Kind: provider.EventClose, Close: provider.CloseEvent{Code: 1000}})
	fs.emit(provider.Event{Kind: provider.EventClose, Close: provider.CloseEvent{Code: 1001, WasClean: true}})
	settle(m)

	if n, e := b.counts(); n != 0 || e != 0 {
		t.Errorf("callbacks after clean close: %d/%d", n, e)
	}
	if got := m.Subscriptions(""); got != 1 {
		t.Errorf("Subscriptions = %d", got)
	}
}

func TestSubscriptionFilter(t *testing.T) {
	m, fs := newFakeManager(t)
	b := newInbox()
	sub := &Subscription{Req: wire.PushTopic, Callback: b.callback, Filter: `sender == "alice" && timestamp > 100`}
	if _, err := m.AddSubscription(sub); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}

	fs.push(wire.PushTopic, `{"id":"a1","sender":"alice","timestamp":200}`)
	fs.push(wire.PushTopic, `{"id":"b1","sender":"bob","timestamp":200}`)
	fs.push(wire.PushTopic, `{"id":"a2","sender":"alice","timestamp":50}`)
	fs.push(wire.PushTopic, `{"id":"a3","timestamp":300}`)
	settle(m)

	if got := b.ids(); !slices.Equal(got, []string{"a1"}) {
		t.Errorf("received %v", got)
	}
}

func TestSubscriptionFilterInvalid(t *testing.T) {
	m, _ := newFakeManager(t)
	for _, expr := range []string{`sender ==`, `unknown_field == 1`, `"text"`} {
		_, err := m.AddSubscription(&Subscription{Req: wire.PushTopic, Callback: newInbox().callback, Filter: expr})
		if !errs.Is(err, errs.ErrInvalidInput) {
			t.Errorf("filter %q: err = %v", expr, err)
		}
	}
	if got := m.Subscriptions(""); got != 0 {
		t.Errorf("invalid filters registered %d subscriptions", got)
	}
}

func TestUseProviderTearsDownPrevious(t *testing.T) {
	m, old := newFakeManager(t)
	subscribe(t, m, wire.PushTopic, newInbox())

	next := &fakeStream{}
	m.UseProvider(next)

	if old.hasListener() {
		t.Error("old provider still has the listener")
	}
	if old.resets != 1 || !slices.Equal(old.disconnects, []int{1000}) {
		t.Errorf("old provider resets=%d disconnects=%v", old.resets, old.disconnects)
	}
	if got := m.Subscriptions(""); got != 0 {
		t.Errorf("Subscriptions = %d", got)
	}
	if !next.hasListener() || m.Provider() != next {
		t.Error("new provider not installed")
	}
}

func TestSetProviderSwitchesEndpoint(t *testing.T) {
	m, old := newFakeManager(t)
	if err := m.SetProvider("http://127.0.0.1:1/cmd"); err != nil {
		t.Fatalf("SetProvider: %v", err)
	}
	if _, ok := m.Provider().(*provider.HTTP); !ok {
		t.Errorf("provider = %T", m.Provider())
	}
	if m.Endpoint() != "http://127.0.0.1:1/cmd" {
		t.Errorf("Endpoint = %q", m.Endpoint())
	}
	if len(old.disconnects) != 1 {
		t.Error("old provider not disconnected")
	}

	if err := m.SetProvider("tcp://x"); !errs.Is(err, errs.ErrConfiguration) {
		t.Errorf("SetProvider(tcp) err = %v", err)
	}
	if _, ok := m.Provider().(*provider.HTTP); !ok {
		t.Error("failed SetProvider replaced the provider")
	}
}

func TestStoreErrorStillDelivers(t *testing.T) {
	store := newCountingStore()
	store.fail = true
	m, fs := newFakeManager(t, WithStore(store))
	b := newInbox()
	subscribe(t, m, wire.PushTopic, b)

	fs.push(wire.PushTopic, `{"id":"m1"}`)
	fs.push(wire.PushTopic, `{"id":"m1"}`)
	settle(m)

	if n, e := b.counts(); n != 2 || e != 0 {
		t.Errorf("got %d responses, %d errors", n, e)
	}
}

func TestCloseLeavesCallerStore(t *testing.T) {
	store := newCountingStore()
	fs := &fakeStream{}
	m, err := New("fake://", WithProvider(fs), WithStore(store), WithLogger(logging.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if store.closed != 0 {
		t.Error("caller-owned store closed")
	}
	if !slices.Equal(fs.disconnects, []int{1000}) {
		t.Errorf("disconnects = %v", fs.disconnects)
	}
}

func TestConnectReattachesListener(t *testing.T) {
	m, fs := newFakeManager(t)
	fs.SetListener(nil)

	m.Connect()
	if fs.connects != 1 || !fs.hasListener() {
		t.Errorf("connects=%d listener=%v", fs.connects, fs.hasListener())
	}
}

func TestDeliveriesPersistAcrossManagers(t *testing.T) {
	if !dedup.IsRegistered("sqlite") {
		t.Fatal("sqlite backend not registered")
	}
	path := filepath.Join(t.TempDir(), "dedup.db")
	backend := WithDedupBackend("sqlite", map[string]string{"path": path})

	first, fs1 := newFakeManager(t, backend)
	a := newInbox()
	subscribe(t, first, wire.PushTopic, a)
	fs1.push(wire.PushTopic, `{"id":"m1"}`)
	settle(first)
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, fs2 := newFakeManager(t, backend)
	b := newInbox()
	subscribe(t, second, wire.PushTopic, b)
	fs2.push(wire.PushTopic, `{"id":"m1"}`)
	fs2.push(wire.PushTopic, `{"id":"m2"}`)
	settle(second)

	if got := a.ids(); !slices.Equal(got, []string{"m1"}) {
		t.Errorf("first manager received %v", got)
	}
	if got := b.ids(); !slices.Equal(got, []string{"m2"}) {
		t.Errorf("second manager received %v", got)
	}
}
