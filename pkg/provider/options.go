package provider

import (
	"net/http"
	"slices"
	"time"

	"github.com/gezibash/up4w/internal/observability"
	"github.com/gezibash/up4w/pkg/logging"
	"github.com/gezibash/up4w/pkg/wire"
)

const (
	// DefaultHTTPTimeout bounds a single HTTP exchange.
	DefaultHTTPTimeout = 30 * time.Second
	// DefaultChunkTimeout bounds how long a partial WebSocket frame is kept.
	DefaultChunkTimeout = 15 * time.Second
	// DefaultReconnectDelay is the pause between reconnect attempts.
	DefaultReconnectDelay = 5 * time.Second
	// DefaultReadLimit caps a single WebSocket message.
	DefaultReadLimit = 16 << 20
)

// Reconnect controls the WebSocket reconnection policy.
type Reconnect struct {
	Auto        bool
	Delay       time.Duration
	OnTimeout   bool
	MaxAttempts int // 0 means unlimited
}

// DefaultReconnect returns the policy used when none is configured:
// reconnection disabled.
func DefaultReconnect() Reconnect {
	return Reconnect{Delay: DefaultReconnectDelay}
}

type config struct {
	timeout      time.Duration
	headers      http.Header
	subprotocols []string
	reconnect    Reconnect
	readLimit    int64
	pushTopics   []string
	httpClient   *http.Client
	listener     Listener
	logger       *logging.Logger
	metrics      *observability.Metrics
}

func newConfig(defaultTimeout time.Duration, opts []Option) config {
	cfg := config{
		timeout:    defaultTimeout,
		headers:    http.Header{},
		reconnect:  DefaultReconnect(),
		readLimit:  DefaultReadLimit,
		pushTopics: []string{wire.PushTopic},
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.New(nil)
	}
	if cfg.reconnect.Delay <= 0 {
		cfg.reconnect.Delay = DefaultReconnectDelay
	}
	return cfg
}

func (c *config) isPushTopic(rsp string) bool {
	return slices.Contains(c.pushTopics, rsp)
}

// Option configures a provider.
type Option func(*config)

// WithTimeout sets the HTTP request timeout or the WebSocket dechunk
// timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithReconnect sets the WebSocket reconnection policy.
func WithReconnect(r Reconnect) Option {
	return func(c *config) { c.reconnect = r }
}

// WithHeaders adds headers to every HTTP request and to the WebSocket handshake.
func WithHeaders(h http.Header) Option {
	return func(c *config) {
		for k, vs := range h {
			for _, v := range vs {
				c.headers.Add(k, v)
			}
		}
	}
}

// WithSubprotocol requests a WebSocket subprotocol.
func WithSubprotocol(protocols ...string) Option {
	return func(c *config) { c.subprotocols = append(c.subprotocols, protocols...) }
}

// WithReadLimit caps the size of a single WebSocket message.
func WithReadLimit(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// WithPushTopics sets the rsp values that are expected without an inc.
func WithPushTopics(topics ...string) Option {
	return func(c *config) { c.pushTopics = topics }
}

// WithHTTPClient sets the client used for HTTP requests and the WebSocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithListener installs the initial event listener of a stream provider,
// before the first connection attempt.
func WithListener(l Listener) Option {
	return func(c *config) { c.listener = l }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics records transport metrics. nil disables them.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *config) { c.metrics = m }
}
