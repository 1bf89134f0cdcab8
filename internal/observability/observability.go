// Package observability wires logging, metrics and tracing for up4w binaries.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config is the subset of the CLI configuration this package needs.
type Config struct {
	LogLevel       string
	LogFormat      string
	OTLPEndpoint   string
	OTLPProtocol   string
	SampleRatio    float64
	ServiceName    string
	ServiceVersion string
}

// HealthFunc reports nil while the process can reach its peer.
type HealthFunc func() error

// Observability bundles the logger, the metrics registry, the tracer
// provider and the teardown list of one process.
type Observability struct {
	Logger         *slog.Logger
	Metrics        *Metrics
	TracerProvider trace.TracerProvider
	Teardown       *Teardown

	health atomic.Pointer[HealthFunc]
}

// New sets up logging to w, a fresh metrics registry and, when an OTLP
// endpoint is configured, span export.
func New(ctx context.Context, cfg Config, w io.Writer) (*Observability, error) {
	o := &Observability{
		Logger:   SetupLogger(cfg.LogLevel, cfg.LogFormat, w),
		Metrics:  NewMetrics(),
		Teardown: &Teardown{},
	}

	if cfg.OTLPEndpoint == "" {
		o.TracerProvider = tracenoop.NewTracerProvider()
		return o, nil
	}
	tp, err := InitTracer(ctx, TracerConfig{
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		SampleRatio:    cfg.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	o.Teardown.Add("tracer", tp.Shutdown)
	o.TracerProvider = tp
	o.Logger.Debug("exporting spans", "endpoint", cfg.OTLPEndpoint, "protocol", cfg.OTLPProtocol)
	return o, nil
}

// Close runs the teardown list.
func (o *Observability) Close(ctx context.Context) error {
	return o.Teardown.Run(ctx)
}

// SetHealth installs the check behind /healthz. Without one the endpoint
// always answers 200.
func (o *Observability) SetHealth(fn HealthFunc) {
	o.health.Store(&fn)
}

func (o *Observability) checkHealth() error {
	fn := o.health.Load()
	if fn == nil || *fn == nil {
		return nil
	}
	return (*fn)()
}

// Handler serves /metrics and /healthz.
func (o *Observability) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(o.Metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := o.checkHealth(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// ServeMetrics binds addr and serves Handler until ctx ends or the
// teardown list runs. Bind errors are returned directly.
func (o *Observability) ServeMetrics(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: o.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.Logger.Error("metrics server stopped", "error", err)
		}
	}()
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	o.Teardown.Add("metrics-server", func(ctx context.Context) error {
		if !stop() {
			return nil
		}
		return srv.Shutdown(ctx)
	})

	o.Logger.Info("serving metrics", "addr", ln.Addr().String())
	return ln.Addr(), nil
}
