package up4w

import (
	"context"
	"fmt"

	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/manager"
)

// Value is a record written with netkv.set.
type Value struct {
	// Key is the 32-byte data key in base64.
	Key string `json:"key"`
	// Slot is the storage slot, 0 to 255.
	Slot int `json:"slot"`
	// TTL is the lifetime in seconds.
	TTL   int    `json:"ttl"`
	Value string `json:"value"`
	// Secret encrypts the value with AES when set.
	Secret string `json:"secret,omitempty"`
}

// StoredValue is the reply of netkv.get.
type StoredValue struct {
	Encrypted bool   `json:"encrypted"`
	Modified  int64  `json:"modified"`
	Value     string `json:"value"`
}

// Persistence wraps the netkv.* methods.
type Persistence struct {
	m *manager.Manager
}

func (c *Persistence) SetValue(ctx context.Context, v Value) error {
	if v.Key == "" {
		return fmt.Errorf("%w: key is required", errs.ErrInvalidInput)
	}
	if v.Slot < 0 || v.Slot > 255 {
		return fmt.Errorf("%w: slot %d out of range", errs.ErrInvalidInput, v.Slot)
	}
	return do(ctx, c.m, "netkv.set", v)
}

func (c *Persistence) GetValue(ctx context.Context, key string) (*StoredValue, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", errs.ErrInvalidInput)
	}
	return call[*StoredValue](ctx, c.m, "netkv.get", struct {
		Key string `json:"key"`
	}{key})
}
