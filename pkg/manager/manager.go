// Package manager correlates up4w calls with their replies and fans pushed
// messages out to subscriptions, delivering each message at most once.
package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/up4w/internal/cel"
	"github.com/gezibash/up4w/internal/observability"
	"github.com/gezibash/up4w/pkg/dedup"
	_ "github.com/gezibash/up4w/pkg/dedup/memory"
	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/logging"
	"github.com/gezibash/up4w/pkg/provider"
	"github.com/gezibash/up4w/pkg/wire"
)

// storeTimeout bounds a single dedup lookup.
const storeTimeout = 5 * time.Second

// Subscription receives pushed frames whose rsp equals Req.
type Subscription struct {
	Req      string
	Callback provider.Callback
	// Inc identifies the registration. It is assigned when empty.
	Inc string
	// Filter is an optional CEL expression over the message fields.
	Filter string

	filter *cel.Filter
	box    mailbox
}

// Manager owns the active provider and the subscription registry.
//
// Provider events are handled in arrival order on a queue of the manager's
// own, and each subscription receives its callbacks in order on a queue of
// its own. Callbacks never run on the provider's read goroutine, so a
// callback may itself call Send or Stream.
type Manager struct {
	cfg       config
	log       *logging.Logger
	store     dedup.Store
	ownsStore bool

	events mailbox
	queued sync.WaitGroup // functions posted to any mailbox and not yet run

	mu       sync.Mutex
	endpoint string
	provider provider.Provider
	subs     map[string][]*Subscription
}

// New creates a Manager for endpoint. The scheme selects the provider:
// http(s) for HTTP, ws(s) for WebSocket.
func New(endpoint string, opts ...Option) (*Manager, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.New(nil)
	}

	m := &Manager{
		cfg:  cfg,
		log:  cfg.logger.WithComponent("manager"),
		subs: make(map[string][]*Subscription),
	}

	if cfg.store != nil {
		m.store = cfg.store
	} else {
		backend := cfg.dedupBackend
		if backend == "" {
			backend = DefaultDedupBackend
		}
		store, err := dedup.New(context.Background(), backend, cfg.dedupConfig, cfg.metrics)
		if err != nil {
			return nil, fmt.Errorf("open dedup store: %w", err)
		}
		m.store = store
		m.ownsStore = true
	}

	var err error
	if cfg.providerValue != nil {
		m.UseProvider(cfg.providerValue)
		m.endpoint = endpoint
	} else {
		err = m.SetProvider(endpoint)
	}
	if err != nil {
		if m.ownsStore {
			_ = m.store.Close()
		}
		return nil, err
	}
	return m, nil
}

// NewProvider creates the provider matching the endpoint scheme.
func NewProvider(endpoint string, opts ...provider.Option) (provider.Provider, error) {
	lower := strings.ToLower(endpoint)
	switch {
	case endpoint == "":
		return nil, fmt.Errorf("%w: endpoint is empty", errs.ErrConfiguration)
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		p, err := provider.NewHTTP(endpoint, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case strings.HasPrefix(lower, "ws://"), strings.HasPrefix(lower, "wss://"):
		p, err := provider.NewWebSocket(endpoint, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: can't autodetect provider for %q", errs.ErrConfiguration, endpoint)
	}
}

// SetProvider replaces the provider with one created for endpoint.
// Subscriptions on the previous provider are removed.
func (m *Manager) SetProvider(endpoint string) error {
	opts := []provider.Option{
		provider.WithLogger(m.cfg.logger),
		provider.WithMetrics(m.cfg.metrics),
		provider.WithListener(m.onEvent),
	}
	p, err := NewProvider(endpoint, append(opts, m.cfg.providerOpts...)...)
	if err != nil {
		return err
	}
	m.swap(p)
	m.mu.Lock()
	m.endpoint = endpoint
	m.mu.Unlock()
	return nil
}

// UseProvider installs p. Subscriptions on the previous provider are removed.
func (m *Manager) UseProvider(p provider.Provider) {
	if s, ok := p.(provider.Stream); ok {
		s.SetListener(m.onEvent)
	}
	m.swap(p)
}

func (m *Manager) swap(p provider.Provider) {
	m.mu.Lock()
	old := m.provider
	m.provider = p
	var dropped int
	if old != nil {
		for _, list := range m.subs {
			dropped += len(list)
		}
		clear(m.subs)
	}
	m.mu.Unlock()

	if old == nil {
		return
	}
	if s, ok := old.(provider.Stream); ok {
		s.SetListener(nil)
		s.Reset()
	}
	if err := old.Disconnect(1000, "provider replaced"); err != nil {
		m.log.WithError(err).Debug("disconnect replaced provider")
	}
	m.log.Debug("provider replaced", "dropped_subscriptions", dropped)
}

// Provider returns the active provider.
func (m *Manager) Provider() provider.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provider
}

// Endpoint returns the endpoint of the active provider.
func (m *Manager) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Send performs one call and returns the first frame of the reply. A reply
// with a non-empty err field is returned together with a RemoteError.
// Cancelling ctx abandons the call: the HTTP provider aborts the request and
// a stream provider forgets it, so a late reply is treated as unsolicited.
func (m *Manager) Send(ctx context.Context, req *wire.Request) (resp *wire.Response, err error) {
	op, ctx := observability.StartOperation(ctx, m.cfg.metrics, "up4w.send", attribute.String("req", req.Req))
	defer func() { op.End(err) }()

	p := m.Provider()
	if h, ok := p.(*provider.HTTP); ok {
		resp, err = h.Do(ctx, req)
	} else {
		resp, err = m.await(ctx, p, req)
	}
	if err != nil {
		return nil, err
	}
	if resp.Failed() {
		return resp, &errs.RemoteError{Method: req.Req, Code: resp.Err}
	}
	return resp, nil
}

func (m *Manager) await(ctx context.Context, p provider.Provider, req *wire.Request) (*wire.Response, error) {
	type result struct {
		resp *wire.Response
		err  error
	}
	done := make(chan result, 1)
	p.Send(req, func(resp *wire.Response, err error) {
		select {
		case done <- result{resp, err}:
		default:
		}
	})

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		err := fmt.Errorf("%s: %w", req.Req, ctx.Err())
		if a, ok := p.(abandoner); ok {
			a.Abandon(req.Inc, err)
		}
		return nil, err
	}
}

// abandoner is implemented by providers that can drop an outstanding call.
type abandoner interface {
	Abandon(inc string, err error) bool
}

// Stream sends req and forwards every frame of the reply, including
// partial ones, to cb. Frames reach cb in order, off the provider's read
// goroutine.
func (m *Manager) Stream(req *wire.Request, cb provider.Callback) {
	box := new(mailbox)
	m.Provider().Send(req, func(resp *wire.Response, err error) {
		m.post(box, func() { cb(resp, err) })
	})
}

// CanSubscribe reports whether the active provider delivers push frames.
func (m *Manager) CanSubscribe() bool {
	p := m.Provider()
	_, ok := p.(provider.Stream)
	return ok && p.SupportsSubscriptions()
}

// AddSubscription registers sub under its topic and returns a function that
// removes exactly this registration.
func (m *Manager) AddSubscription(sub *Subscription) (func() bool, error) {
	if !m.CanSubscribe() {
		return nil, fmt.Errorf("%w: %w: provider %T", errs.ErrConfiguration, errs.ErrUnsupported, m.Provider())
	}
	if sub == nil || sub.Req == "" || sub.Callback == nil {
		return nil, fmt.Errorf("%w: subscription needs a topic and a callback", errs.ErrInvalidInput)
	}
	if sub.Filter != "" {
		f, err := cel.CompileMessage(sub.Filter)
		if err != nil {
			return nil, fmt.Errorf("%w: subscription filter: %w", errs.ErrInvalidInput, err)
		}
		sub.filter = f
	}
	if sub.Inc == "" {
		sub.Inc = wire.NewInc()
	}

	m.mu.Lock()
	m.subs[sub.Req] = append(m.subs[sub.Req], sub)
	m.mu.Unlock()

	m.log.WithTopic(sub.Req).WithInc(sub.Inc).Debug("subscription added")
	return func() bool { return m.RemoveSubscription(sub) }, nil
}

// RemoveSubscription removes one registration and reports whether it was present.
func (m *Manager) RemoveSubscription(sub *Subscription) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.subs[sub.Req]
	i := slices.Index(list, sub)
	if i < 0 {
		return false
	}
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(m.subs, sub.Req)
	} else {
		m.subs[sub.Req] = list
	}
	return true
}

// ClearSubscriptions removes every subscription and resets the provider's
// queued and in-flight calls.
func (m *Manager) ClearSubscriptions() {
	m.mu.Lock()
	clear(m.subs)
	p := m.provider
	m.mu.Unlock()

	if s, ok := p.(provider.Stream); ok {
		s.Reset()
	}
}

// Subscriptions returns the number of registrations for topic, or for all
// topics when topic is empty.
func (m *Manager) Subscriptions(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if topic != "" {
		return len(m.subs[topic])
	}
	n := 0
	for _, list := range m.subs {
		n += len(list)
	}
	return n
}

// Connect restarts a stream provider that reached its terminal state.
func (m *Manager) Connect() {
	p := m.Provider()
	s, ok := p.(provider.Stream)
	if !ok {
		return
	}
	c, ok := p.(interface{ Connect() })
	if !ok {
		return
	}
	s.SetListener(m.onEvent)
	c.Connect()
}

// Close disconnects the provider and closes an owned dedup store.
func (m *Manager) Close() error {
	m.mu.Lock()
	p := m.provider
	clear(m.subs)
	m.mu.Unlock()

	var errList []error
	if p != nil {
		if err := p.Disconnect(1000, "client closed"); err != nil {
			errList = append(errList, fmt.Errorf("disconnect: %w", err))
		}
	}
	if m.ownsStore {
		if err := m.store.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close dedup store: %w", err))
		}
	}
	return errors.Join(errList...)
}

func (m *Manager) post(b *mailbox, fn func()) {
	m.queued.Add(1)
	b.post(func() {
		defer m.queued.Done()
		fn()
	})
}

func (m *Manager) onEvent(ev provider.Event) {
	m.post(&m.events, func() { m.handle(ev) })
}

func (m *Manager) handle(ev provider.Event) {
	switch ev.Kind {
	case provider.EventData:
		m.dispatch(ev.Data)
	case provider.EventError:
		m.broadcast(ev.Err)
	case provider.EventClose:
		if ev.Close.WasClean || ev.Close.Code == 1000 {
			return
		}
		m.failAll(errs.ConnectionClose(ev.Close.Code, ev.Close.Reason))
	}
}

func (m *Manager) dispatch(resp *wire.Response) {
	m.mu.Lock()
	subs := slices.Clone(m.subs[resp.Rsp])
	m.mu.Unlock()
	if len(subs) == 0 || !resp.HasRet() {
		return
	}

	log := m.log.WithTopic(resp.Rsp)
	if id := resp.MessageID(); id != "" {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		seen, err := dedup.Seen(ctx, m.store, id)
		cancel()
		switch {
		case err != nil:
			m.cfg.metrics.IncDelivery(resp.Rsp, "store_error")
			log.WithError(err).Warn("dedup store unavailable, delivering", "id", id)
		case seen:
			m.cfg.metrics.IncDelivery(resp.Rsp, "duplicate")
			log.Debug("dropping duplicate delivery", "id", id)
			return
		}
	}

	m.cfg.metrics.IncDelivery(resp.Rsp, "delivered")
	for _, s := range subs {
		if s.filter != nil && !s.filter.MatchResponse(resp) {
			continue
		}
		m.deliver(s, resp, nil)
	}
}

func (m *Manager) deliver(s *Subscription, resp *wire.Response, err error) {
	m.post(&s.box, func() { s.Callback(resp, err) })
}

func (m *Manager) broadcast(err error) {
	m.mu.Lock()
	var subs []*Subscription
	for _, list := range m.subs {
		subs = append(subs, list...)
	}
	m.mu.Unlock()

	for _, s := range subs {
		m.deliver(s, nil, err)
	}
}

func (m *Manager) failAll(err error) {
	m.mu.Lock()
	var subs []*Subscription
	for _, list := range m.subs {
		subs = append(subs, list...)
	}
	clear(m.subs)
	m.mu.Unlock()

	m.log.WithError(err).Warn("connection lost, subscriptions cleared", "subscriptions", len(subs))
	for _, s := range subs {
		m.deliver(s, nil, err)
	}
}
