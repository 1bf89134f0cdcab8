package manager

import (
	"github.com/gezibash/up4w/internal/observability"
	"github.com/gezibash/up4w/pkg/dedup"
	"github.com/gezibash/up4w/pkg/logging"
	"github.com/gezibash/up4w/pkg/provider"
)

// DefaultDedupBackend is used when no store or backend is configured.
const DefaultDedupBackend = "memory"

type config struct {
	store         dedup.Store
	dedupBackend  string
	dedupConfig   map[string]string
	logger        *logging.Logger
	metrics       *observability.Metrics
	providerOpts  []provider.Option
	providerValue provider.Provider
}

// Option configures a Manager.
type Option func(*config)

// WithStore uses s for delivery deduplication. The caller keeps ownership
// and closes it.
func WithStore(s dedup.Store) Option {
	return func(c *config) { c.store = s }
}

// WithDedupBackend opens the named dedup backend with cfg layered over its
// defaults. The Manager closes it on Close.
func WithDedupBackend(name string, cfg map[string]string) Option {
	return func(c *config) {
		c.dedupBackend = name
		c.dedupConfig = cfg
	}
}

// WithLogger sets the logger used by the manager and its providers.
func WithLogger(l *logging.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics records manager and provider metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithProviderOptions passes options to providers created from endpoints.
func WithProviderOptions(opts ...provider.Option) Option {
	return func(c *config) { c.providerOpts = append(c.providerOpts, opts...) }
}

// WithProvider uses p instead of creating a provider from the endpoint.
func WithProvider(p provider.Provider) Option {
	return func(c *config) { c.providerValue = p }
}
