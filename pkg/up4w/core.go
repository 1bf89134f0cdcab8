package up4w

import (
	"context"
	"encoding/json"
	"fmt"

	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/manager"
)

// InitRequest selects and configures the peer modules started by core.init.
type InitRequest struct {
	// AppName scopes nearby-peer discovery to instances of the same app.
	AppName string `json:"app_name"`
	MRC     MRC    `json:"mrc"`
	DVS     *DVS   `json:"dvs,omitempty"`

	HOB map[string]any `json:"hob,omitempty"`
	LSM map[string]any `json:"lsm,omitempty"`
	MLT map[string]any `json:"mlt,omitempty"`
	GDP map[string]any `json:"gdp,omitempty"`
	PBC map[string]any `json:"pbc,omitempty"`
}

// MRC configures the message relay core. MsgsDir may be ":mem".
type MRC struct {
	MsgsDir      string   `json:"msgs_dir,omitempty"`
	MediaDir     string   `json:"media_dir,omitempty"`
	DefaultSwarm string   `json:"default_swarm,omitempty"`
	Flags        []string `json:"flags,omitempty"`
}

// DVS configures the distributed key-value store.
type DVS struct {
	KVDir string   `json:"kv_dir"`
	Flags []string `json:"flags"`
}

// Status is the reply of core.status.
type Status struct {
	DHTNodes    []int             `json:"dht_nodes"`
	Initialized bool              `json:"initialized"`
	Internet    string            `json:"internet"`
	Modules     []string          `json:"modules"`
	NetTime     []json.RawMessage `json:"net_time"`
	Swarms      map[string]string `json:"swarms"`
}

// Core wraps the core.* methods.
type Core struct {
	m *manager.Manager
}

func (c *Core) Version(ctx context.Context) (string, error) {
	return call[string](ctx, c.m, "core.ver", nil)
}

// Initialize starts the peer modules. The reply maps module names to
// whether they started.
func (c *Core) Initialize(ctx context.Context, req *InitRequest) (map[string]bool, error) {
	return call[map[string]bool](ctx, c.m, "core.init", req)
}

func (c *Core) Uninitialize(ctx context.Context) error {
	return do(ctx, c.m, "core.term", nil)
}

func (c *Core) Shutdown(ctx context.Context) error {
	return do(ctx, c.m, "core.shutdown", nil)
}

func (c *Core) Status(ctx context.Context) (*Status, error) {
	st, err := call[*Status](ctx, c.m, "core.status", nil)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: core.status returned no status", errs.ErrInvalidResponse)
	}
	return st, nil
}
