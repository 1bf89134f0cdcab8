package up4w

import (
	"context"

	"github.com/gezibash/up4w/pkg/manager"
)

// SwarmConfig describes a swarm to join.
type SwarmConfig struct {
	// Address is the 20-byte DHT address in base16.
	Address string `json:"address"`
	// Secret makes the swarm private. 32 bytes, base64.
	Secret string    `json:"secret,omitempty"`
	Msgs   SwarmMsgs `json:"msgs"`
	DVS    SwarmDVS  `json:"dvs"`
}

// SwarmMsgs configures message retention. A zero MediaSize disallows media.
type SwarmMsgs struct {
	Epoch     int `json:"epoch"`
	TTL       int `json:"ttl"`
	Subband   int `json:"subband"`
	MediaSize int `json:"media_size"`
}

type SwarmDVS struct {
	ValueSize int `json:"value_size"`
}

// Swarm wraps the swarm.* methods.
type Swarm struct {
	m *manager.Manager
}

func (c *Swarm) Join(ctx context.Context, swarm SwarmConfig) error {
	return do(ctx, c.m, "swarm.join", swarm)
}

func (c *Swarm) Leave(ctx context.Context) error {
	return do(ctx, c.m, "swarm.leave", nil)
}
