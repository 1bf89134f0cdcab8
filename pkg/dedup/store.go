// Package dedup records which pushed messages were already delivered so that
// redeliveries after a reconnect reach subscribers at most once.
package dedup

import (
	"context"
	"fmt"
	"time"

	errs "github.com/gezibash/up4w/pkg/errors"
)

// Store is a set of delivered message ids. Implementations must give
// read-your-writes consistency within one process.
type Store interface {
	// Get reports whether id was recorded and has not expired.
	Get(ctx context.Context, id string) (bool, error)
	// Set records id as delivered.
	Set(ctx context.Context, id string) error
	Close() error
}

// Option keys understood by every backend.
const (
	KeyTTL = "ttl"
)

// DefaultTTL is how long delivery records are retained unless configured.
// A ttl of 0 keeps records forever.
const DefaultTTL = 7 * 24 * time.Hour

// ErrClosed is returned by a store after Close.
var ErrClosed = fmt.Errorf("dedup store: %w", errs.ErrClosed)

// Seen reports whether id was already delivered and records it otherwise.
// The first error from the store is returned with seen=false.
func Seen(ctx context.Context, s Store, id string) (bool, error) {
	ok, err := s.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("dedup get %q: %w", id, err)
	}
	if ok {
		return true, nil
	}
	if err := s.Set(ctx, id); err != nil {
		return false, fmt.Errorf("dedup set %q: %w", id, err)
	}
	return false, nil
}
