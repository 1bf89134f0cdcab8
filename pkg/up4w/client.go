// Package up4w is the client facade: typed wrappers over the up4w call
// surface, grouped the way the peer groups its methods.
package up4w

import (
	"context"
	"fmt"

	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/manager"
	"github.com/gezibash/up4w/pkg/wire"
)

// Client groups the call wrappers around one Manager.
type Client struct {
	m *manager.Manager

	Core        *Core
	Msg         *Msg
	Contact     *Contact
	Swarm       *Swarm
	Persistence *Persistence
}

// New creates a Client for endpoint.
func New(endpoint string, opts ...manager.Option) (*Client, error) {
	m, err := manager.New(endpoint, opts...)
	if err != nil {
		return nil, err
	}
	return NewWithManager(m), nil
}

// NewWithManager wraps an existing Manager. Closing the Client closes m.
func NewWithManager(m *manager.Manager) *Client {
	return &Client{
		m:           m,
		Core:        &Core{m: m},
		Msg:         &Msg{m: m},
		Contact:     &Contact{m: m},
		Swarm:       &Swarm{m: m},
		Persistence: &Persistence{m: m},
	}
}

// Manager returns the underlying request manager.
func (c *Client) Manager() *manager.Manager { return c.m }

// Endpoint returns the endpoint of the active provider.
func (c *Client) Endpoint() string { return c.m.Endpoint() }

// Version returns the peer version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	return c.Core.Version(ctx)
}

// WhenReady initializes the peer unless it reports itself initialized and
// returns the status observed afterwards.
func (c *Client) WhenReady(ctx context.Context, init *InitRequest) (*Status, error) {
	status, err := c.Core.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	if !status.Initialized {
		if init == nil {
			return nil, fmt.Errorf("%w: peer is not initialized and no init parameters were given", errs.ErrInvalidInput)
		}
		if _, err := c.Core.Initialize(ctx, init); err != nil {
			return nil, fmt.Errorf("initialize: %w", err)
		}
	}
	status, err = c.Core.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	return status, nil
}

// Uninitialize terminates the peer modules.
func (c *Client) Uninitialize(ctx context.Context) error {
	return c.Core.Uninitialize(ctx)
}

// Shutdown stops the peer process.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.Core.Shutdown(ctx)
}

// Close releases the manager and its provider.
func (c *Client) Close() error {
	return c.m.Close()
}

// call sends one request and decodes the reply's ret into T.
func call[T any](ctx context.Context, m *manager.Manager, method string, arg any) (T, error) {
	var out T
	resp, err := m.Send(ctx, &wire.Request{Req: method, Arg: arg})
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, fmt.Errorf("%w: %s: %w", errs.ErrInvalidResponse, method, err)
	}
	return out, nil
}

func do(ctx context.Context, m *manager.Manager, method string, arg any) error {
	_, err := m.Send(ctx, &wire.Request{Req: method, Arg: arg})
	return err
}
