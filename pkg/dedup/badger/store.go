// Package badger provides a BadgerDB-backed dedup store.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/gezibash/up4w/internal/storage"
	"github.com/gezibash/up4w/pkg/dedup"
)

const (
	KeyPath          = "path"
	KeyInMemory      = "in_memory"
	KeySyncWrites    = "sync_writes"
	KeyMemTableSize  = "mem_table_size"
	KeyGCInterval    = "gc_interval"
	keyPrefix        = "delivered/"
	gcDiscardRatio   = 0.5
	defaultGCEvery   = 10 * time.Minute
	defaultMemTable  = 16 << 20
	defaultStorePath = "~/.up4w/dedup"
)

func init() {
	dedup.Register("badger", NewFactory, Defaults)
}

// Defaults returns the default configuration for the BadgerDB backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:         defaultStorePath,
		KeyInMemory:     "false",
		KeySyncWrites:   "false",
		KeyMemTableSize: strconv.Itoa(defaultMemTable),
		KeyGCInterval:   defaultGCEvery.String(),
		dedup.KeyTTL:    dedup.DefaultTTL.String(),
	}
}

// NewFactory creates a BadgerDB store from its options.
func NewFactory(_ context.Context, opts storage.Options) (dedup.Store, error) {
	ttl, err := opts.Duration(dedup.KeyTTL, dedup.DefaultTTL)
	if err != nil {
		return nil, err
	}
	inMemory, err := opts.Bool(KeyInMemory, false)
	if err != nil {
		return nil, err
	}
	memTable, err := opts.Int(KeyMemTableSize, defaultMemTable)
	if err != nil {
		return nil, err
	}

	if inMemory {
		return OpenInMemory(opts.Backend(), ttl, int64(memTable))
	}

	path := opts.Path(KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError(opts.Backend(), KeyPath, "cannot be empty")
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, storage.NewConfigErrorWithCause(opts.Backend(), KeyPath, "failed to create directory", err)
	}
	syncWrites, err := opts.Bool(KeySyncWrites, false)
	if err != nil {
		return nil, err
	}
	gcEvery, err := opts.Duration(KeyGCInterval, defaultGCEvery)
	if err != nil {
		return nil, err
	}

	bopts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithSyncWrites(syncWrites)
	if memTable > 0 {
		bopts = bopts.WithMemTableSize(int64(memTable))
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause(opts.Backend(), KeyPath, "failed to open database", err)
	}

	slog.Debug("badger dedup store initialized", "path", path, "ttl", ttl)
	s := NewWithDB(db, ttl)
	if gcEvery > 0 {
		go s.gcLoop(gcEvery)
	}
	return s, nil
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory(backend string, ttl time.Duration, memTable int64) (*Store, error) {
	bopts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)
	if memTable > 0 {
		bopts = bopts.WithMemTableSize(memTable)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause(backend, KeyInMemory, "failed to open in-memory database", err)
	}

	slog.Debug("badger dedup store initialized (in-memory)", "ttl", ttl)
	return NewWithDB(db, ttl), nil
}

// Store is a BadgerDB implementation of dedup.Store. Records expire through
// badger's entry TTL.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	closed atomic.Bool
	stop   chan struct{}
}

// NewWithDB wraps an open BadgerDB instance.
func NewWithDB(db *badger.DB, ttl time.Duration) *Store {
	return &Store{db: db, ttl: ttl, stop: make(chan struct{})}
}

func recordKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// Get reports whether id was recorded and has not expired.
func (s *Store) Get(_ context.Context, id string) (bool, error) {
	if s.closed.Load() {
		return false, dedup.ErrClosed
	}

	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger get: %w", err)
	}
	return found, nil
}

// Set records id as delivered.
func (s *Store) Set(_ context.Context, id string) error {
	if s.closed.Load() {
		return dedup.ErrClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(recordKey(id), []byte{1})
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.stop)
	return s.db.Close()
}

func (s *Store) gcLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(gcDiscardRatio) == nil {
			}
		}
	}
}
