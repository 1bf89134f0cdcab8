// Package memory provides a process-local dedup store backed by an
// in-memory BadgerDB.
package memory

import (
	"context"

	"github.com/gezibash/up4w/internal/storage"
	"github.com/gezibash/up4w/pkg/dedup"
	"github.com/gezibash/up4w/pkg/dedup/badger"
)

const keyMemTableSize = "mem_table_size"

func init() {
	dedup.Register("memory", NewFactory, Defaults)
}

// Defaults returns the default configuration for the memory backend.
func Defaults() map[string]string {
	return map[string]string{
		dedup.KeyTTL:    dedup.DefaultTTL.String(),
		keyMemTableSize: "16777216",
	}
}

// NewFactory opens an in-memory store. Records do not survive a restart.
func NewFactory(_ context.Context, opts storage.Options) (dedup.Store, error) {
	ttl, err := opts.Duration(dedup.KeyTTL, dedup.DefaultTTL)
	if err != nil {
		return nil, err
	}
	memTable, err := opts.Int(keyMemTableSize, 16<<20)
	if err != nil {
		return nil, err
	}
	return badger.OpenInMemory(opts.Backend(), ttl, int64(memTable))
}
