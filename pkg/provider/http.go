package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/logging"
	"github.com/gezibash/up4w/pkg/wire"
)

const transportHTTP = "http"

// HTTP posts each request to the peer's command endpoint. It keeps no
// correlation state and delivers no push frames.
type HTTP struct {
	url    string
	cfg    config
	client *http.Client
	log    *logging.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewHTTP creates a provider for an http:// or https:// endpoint.
func NewHTTP(endpoint string, opts ...Option) (*HTTP, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid http endpoint %q", errs.ErrConfiguration, endpoint)
	}

	cfg := newConfig(DefaultHTTPTimeout, opts)
	client := cfg.httpClient
	if client == nil {
		client = http.DefaultClient
	}

	p := &HTTP{
		url:    endpoint,
		cfg:    cfg,
		client: client,
		log:    cfg.logger.WithComponent("provider.http").WithEndpoint(endpoint),
	}
	p.ctx, p.cancel = context.WithCancelCause(context.Background())
	return p, nil
}

// Send posts req and invokes cb from a new goroutine.
func (p *HTTP) Send(req *wire.Request, cb Callback) {
	if req.Inc == "" {
		req.Inc = wire.NewInc()
	}
	p.mu.Lock()
	parent := p.ctx
	p.mu.Unlock()

	go func() {
		resp, err := p.do(parent, req)
		if err != nil {
			p.cfg.metrics.IncError(transportHTTP, errorType(err))
			p.log.WithInc(req.Inc).WithError(err).Debug("http exchange failed", "req", req.Req)
		}
		cb(resp, err)
	}()
}

// Do performs one exchange synchronously.
func (p *HTTP) Do(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if req.Inc == "" {
		req.Inc = wire.NewInc()
	}
	p.mu.Lock()
	parent := p.ctx
	p.mu.Unlock()

	ctx, stop := mergeCancel(ctx, parent)
	defer stop()
	return p.do(ctx, req)
}

func (p *HTTP) do(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %w", errs.ErrInvalidInput, req.Req, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrConfiguration, err)
	}
	for k, vs := range p.cfg.headers {
		httpReq.Header[k] = vs
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.cfg.metrics.AddBytes(transportHTTP, "out", len(body))

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.classify(ctx, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, p.classify(ctx, err)
	}
	p.cfg.metrics.AddBytes(transportHTTP, "in", len(data))

	var resp wire.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: status %d: %s", errs.ErrInvalidResponse, httpResp.StatusCode, logging.Truncate(string(data), 128))
	}
	return &resp, nil
}

func (p *HTTP) classify(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && errs.Is(cause, errs.ErrConnectionClosed) {
		return cause
	}
	if errs.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.ConnectionTimeout(p.cfg.timeout)
	}
	if errs.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("http exchange: %w", context.Cause(ctx))
	}
	p.log.WithError(err).Debug("http transport error")
	return errs.InvalidConnection(p.url, 0, "")
}

// SupportsSubscriptions reports false.
func (p *HTTP) SupportsSubscriptions() bool { return false }

// Connected reports true; every exchange opens its own request.
func (p *HTTP) Connected() bool { return true }

// Disconnect aborts every outstanding request. Later sends proceed normally.
func (p *HTTP) Disconnect(code int, reason string) error {
	if code == 0 {
		code = 1000
	}
	p.mu.Lock()
	p.cancel(errs.ClosedByClient(code, reason))
	p.ctx, p.cancel = context.WithCancelCause(context.Background())
	p.mu.Unlock()
	return nil
}

// mergeCancel returns ctx cancelled also when other is done.
func mergeCancel(ctx, other context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(other, func() { cancel(context.Cause(other)) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

func errorType(err error) string {
	switch {
	case errs.Is(err, errs.ErrTimeout):
		return "timeout"
	case errs.Is(err, errs.ErrInvalidResponse):
		return "invalid_response"
	case errs.Is(err, errs.ErrConnectionClosed):
		return "closed"
	case errs.Is(err, errs.ErrNotOpen):
		return "not_open"
	case errs.Is(err, errs.ErrReconnecting):
		return "reconnecting"
	case errs.Is(err, errs.ErrMaxAttempts):
		return "max_attempts"
	default:
		return "connection"
	}
}
