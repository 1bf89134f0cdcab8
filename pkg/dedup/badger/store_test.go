package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gezibash/up4w/internal/storage"
	"github.com/gezibash/up4w/pkg/dedup"
	"github.com/gezibash/up4w/pkg/dedup/storetest"
)

func newTestStore(t *testing.T, config map[string]string) dedup.Store {
	t.Helper()
	cfg := storage.Merge(Defaults(), map[string]string{
		KeyPath:       filepath.Join(t.TempDir(), "dedup"),
		KeyGCInterval: "0",
	})
	s, err := NewFactory(context.Background(), storage.NewOptions("badger", storage.Merge(cfg, config)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps past the ttl")
	}
	storetest.RunTTL(t, newTestStore)
}

func TestInMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T, config map[string]string) dedup.Store {
		cfg := storage.Merge(map[string]string{KeyInMemory: "true"}, config)
		s, err := NewFactory(context.Background(), storage.NewOptions("badger", cfg))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dedup")
	cfg := map[string]string{KeyPath: dir, KeyGCInterval: "0"}
	ctx := context.Background()

	s, err := NewFactory(ctx, storage.NewOptions("badger", cfg))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Set(ctx, "persisted"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = NewFactory(ctx, storage.NewOptions("badger", cfg))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if ok, err := s.Get(ctx, "persisted"); err != nil || !ok {
		t.Fatalf("Get after reopen = %v, %v", ok, err)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	_, err := NewFactory(context.Background(), storage.NewOptions("badger", map[string]string{KeyPath: ""}))
	if err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRegistered(t *testing.T) {
	if !dedup.IsRegistered("badger") {
		t.Fatal("badger backend not registered")
	}
}
