// Package sqlite provides a SQLite-backed dedup store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gezibash/up4w/internal/storage"
	"github.com/gezibash/up4w/pkg/dedup"
)

const (
	KeyPath        = "path"
	KeyJournalMode = "journal_mode"
	KeyBusyTimeout = "busy_timeout"
)

func init() {
	dedup.Register("sqlite", NewFactory, Defaults)
}

// Defaults returns the default configuration for the SQLite backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:        "~/.up4w/dedup.db",
		KeyJournalMode: "wal",
		KeyBusyTimeout: "5000",
		dedup.KeyTTL:   dedup.DefaultTTL.String(),
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS delivered (
    id           TEXT PRIMARY KEY,
    delivered_at INTEGER NOT NULL,
    expires_at   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_delivered_expires ON delivered(expires_at) WHERE expires_at > 0;
`

// NewFactory creates a SQLite store from its options.
func NewFactory(ctx context.Context, opts storage.Options) (dedup.Store, error) {
	path := opts.Path(KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError(opts.Backend(), KeyPath, "cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, storage.NewConfigErrorWithCause(opts.Backend(), KeyPath, "failed to create directory", err)
	}

	ttl, err := opts.Duration(dedup.KeyTTL, dedup.DefaultTTL)
	if err != nil {
		return nil, err
	}
	busyTimeout, err := opts.Int(KeyBusyTimeout, 5000)
	if err != nil {
		return nil, err
	}
	journalMode := opts.String(KeyJournalMode, "wal")

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(%s)",
		path, busyTimeout, journalMode)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause(opts.Backend(), KeyPath, "failed to open database", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, storage.NewConfigErrorWithCause(opts.Backend(), KeyPath, "failed to initialize schema", err)
	}

	s := &Store{db: db, ttl: ttl}
	pruned, err := s.Prune(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	slog.Debug("sqlite dedup store initialized", "path", path, "journal_mode", journalMode, "pruned", pruned)
	return s, nil
}

// Store is a SQLite implementation of dedup.Store.
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	closed atomic.Bool
}

// Get reports whether id was recorded and has not expired.
func (s *Store) Get(ctx context.Context, id string) (bool, error) {
	if s.closed.Load() {
		return false, dedup.ErrClosed
	}

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM delivered WHERE id = ? AND (expires_at = 0 OR expires_at > ?)`,
		id, time.Now().UnixMilli(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite get: %w", err)
	}
	return true, nil
}

// Set records id as delivered. A live record keeps its original timestamps;
// an expired one is replaced.
func (s *Store) Set(ctx context.Context, id string) error {
	if s.closed.Load() {
		return dedup.ErrClosed
	}

	now := time.Now()
	var expiresAt int64
	if s.ttl > 0 {
		expiresAt = now.Add(s.ttl).UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivered (id, delivered_at, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			delivered_at = excluded.delivered_at,
			expires_at = excluded.expires_at
		WHERE delivered.expires_at > 0 AND delivered.expires_at <= excluded.delivered_at`,
		id, now.UnixMilli(), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

// Prune deletes expired records and returns how many were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, dedup.ErrClosed
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM delivered WHERE expires_at > 0 AND expires_at <= ?`,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite prune: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
