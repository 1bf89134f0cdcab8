// Package config loads the up4w client configuration from flags, the
// environment and an optional config file.
package config

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gezibash/up4w/internal/observability"
	"github.com/gezibash/up4w/pkg/logging"
	"github.com/gezibash/up4w/pkg/manager"
	"github.com/gezibash/up4w/pkg/provider"
)

// EnvPrefix prefixes every environment variable, e.g. UP4W_ENDPOINT.
const EnvPrefix = "UP4W"

type Config struct {
	DataDir       string              `mapstructure:"data_dir"`
	Endpoint      string              `mapstructure:"endpoint"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	WebSocket     WebSocketConfig     `mapstructure:"websocket"`
	Dedup         BackendConfig       `mapstructure:"dedup"`
	Launcher      LauncherConfig      `mapstructure:"launcher"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type HTTPConfig struct {
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

type WebSocketConfig struct {
	ChunkTimeout time.Duration     `mapstructure:"chunk_timeout"`
	ReadLimit    int64             `mapstructure:"read_limit"`
	Subprotocols []string          `mapstructure:"subprotocols"`
	Headers      map[string]string `mapstructure:"headers"`
	Reconnect    ReconnectConfig   `mapstructure:"reconnect"`
}

type ReconnectConfig struct {
	Auto        bool          `mapstructure:"auto"`
	Delay       time.Duration `mapstructure:"delay"`
	OnTimeout   bool          `mapstructure:"on_timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// BackendConfig selects a dedup backend. Config overrides the backend
// defaults key by key.
type BackendConfig struct {
	Backend string            `mapstructure:"backend"`
	Config  map[string]string `mapstructure:"config"`
}

type LauncherConfig struct {
	Command      string        `mapstructure:"command"`
	Args         []string      `mapstructure:"args"`
	AppData      string        `mapstructure:"appdata"`
	Host         string        `mapstructure:"host"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
}

type ObservabilityConfig struct {
	LogLevel       string  `mapstructure:"log_level"`
	LogFormat      string  `mapstructure:"log_format"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	MetricsAddr    string  `mapstructure:"metrics_addr"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string  `mapstructure:"otlp_protocol"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
}

// DefaultDataDir returns ~/.up4w, or .up4w when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".up4w"
	}
	return filepath.Join(home, ".up4w")
}

// IsWebSocket reports whether the configured endpoint selects the
// WebSocket provider.
func (c Config) IsWebSocket() bool {
	e := strings.ToLower(c.Endpoint)
	return strings.HasPrefix(e, "ws://") || strings.HasPrefix(e, "wss://")
}

// ProviderOptions translates the transport sections into provider options
// for the configured endpoint.
func (c Config) ProviderOptions() []provider.Option {
	if !c.IsWebSocket() {
		return []provider.Option{
			provider.WithTimeout(c.HTTP.Timeout),
			provider.WithHeaders(header(c.HTTP.Headers)),
		}
	}

	ws := c.WebSocket
	opts := []provider.Option{
		provider.WithTimeout(ws.ChunkTimeout),
		provider.WithReadLimit(ws.ReadLimit),
		provider.WithHeaders(header(ws.Headers)),
		provider.WithReconnect(provider.Reconnect{
			Auto:        ws.Reconnect.Auto,
			Delay:       ws.Reconnect.Delay,
			OnTimeout:   ws.Reconnect.OnTimeout,
			MaxAttempts: ws.Reconnect.MaxAttempts,
		}),
	}
	if len(ws.Subprotocols) > 0 {
		opts = append(opts, provider.WithSubprotocol(ws.Subprotocols...))
	}
	return opts
}

// ManagerOptions returns the options for a manager built from c.
func (c Config) ManagerOptions(logger *logging.Logger, metrics *observability.Metrics) []manager.Option {
	return []manager.Option{
		manager.WithLogger(logger),
		manager.WithMetrics(metrics),
		manager.WithDedupBackend(c.Dedup.Backend, c.Dedup.Config),
		manager.WithProviderOptions(c.ProviderOptions()...),
	}
}

func header(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
