// Package redis provides a Redis-backed dedup store, shareable between
// processes that consume the same push stream.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gezibash/up4w/internal/storage"
	"github.com/gezibash/up4w/pkg/dedup"
)

const (
	KeyAddr         = "addr"
	KeyPassword     = "password"
	KeyDB           = "db"
	KeyMaxRetries   = "max_retries"
	KeyDialTimeout  = "dial_timeout"
	KeyReadTimeout  = "read_timeout"
	KeyWriteTimeout = "write_timeout"
	KeyPoolSize     = "pool_size"
	KeyKeyPrefix    = "key_prefix"

	defaultPrefix = "up4w:delivered:"
)

func init() {
	dedup.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default configuration for the Redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:         "localhost:6379",
		KeyPassword:     "",
		KeyDB:           "0",
		KeyMaxRetries:   "3",
		KeyDialTimeout:  "5s",
		KeyReadTimeout:  "3s",
		KeyWriteTimeout: "3s",
		KeyPoolSize:     "0",
		KeyKeyPrefix:    defaultPrefix,
		dedup.KeyTTL:    dedup.DefaultTTL.String(),
	}
}

// NewFactory connects to Redis and verifies the connection with a PING.
func NewFactory(ctx context.Context, opts storage.Options) (dedup.Store, error) {
	addr := opts.String(KeyAddr, "")
	if addr == "" {
		return nil, storage.NewConfigError(opts.Backend(), KeyAddr, "cannot be empty")
	}

	db, err := opts.Int(KeyDB, 0)
	if err != nil {
		return nil, err
	}
	if db < 0 {
		return nil, storage.NewConfigErrorWithValue(opts.Backend(), KeyDB, fmt.Sprint(db), "must be non-negative")
	}
	maxRetries, err := opts.Int(KeyMaxRetries, 3)
	if err != nil {
		return nil, err
	}
	dialTimeout, err := opts.Duration(KeyDialTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	readTimeout, err := opts.Duration(KeyReadTimeout, 3*time.Second)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := opts.Duration(KeyWriteTimeout, 3*time.Second)
	if err != nil {
		return nil, err
	}
	poolSize, err := opts.Int(KeyPoolSize, 0)
	if err != nil {
		return nil, err
	}
	ttl, err := opts.Duration(dedup.KeyTTL, dedup.DefaultTTL)
	if err != nil {
		return nil, err
	}

	ropts := &redis.Options{
		Addr:         addr,
		Password:     opts.String(KeyPassword, ""),
		DB:           db,
		MaxRetries:   maxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	if poolSize > 0 {
		ropts.PoolSize = poolSize
	}

	client := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storage.NewConfigErrorWithCause(opts.Backend(), KeyAddr, "failed to connect", err)
	}

	prefix := opts.String(KeyKeyPrefix, defaultPrefix)
	slog.Debug("redis dedup store initialized", "addr", addr, "db", db, "key_prefix", prefix)
	return NewWithClient(client, prefix, ttl), nil
}

// Store is a Redis implementation of dedup.Store. Records expire through
// Redis key expiry.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	closed atomic.Bool
}

// NewWithClient wraps an existing client. The store owns the client and
// closes it on Close.
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// Get reports whether id was recorded and has not expired.
func (s *Store) Get(ctx context.Context, id string) (bool, error) {
	if s.closed.Load() {
		return false, dedup.ErrClosed
	}

	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis get: %w", err)
	}
	return n > 0, nil
}

// Set records id as delivered. An existing record keeps its expiry.
func (s *Store) Set(ctx context.Context, id string) error {
	if s.closed.Load() {
		return dedup.ErrClosed
	}

	if err := s.client.SetNX(ctx, s.key(id), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}
