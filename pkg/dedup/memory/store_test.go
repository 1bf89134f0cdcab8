package memory

import (
	"context"
	"testing"

	"github.com/gezibash/up4w/internal/storage"
	"github.com/gezibash/up4w/pkg/dedup"
	"github.com/gezibash/up4w/pkg/dedup/storetest"
)

func newTestStore(t *testing.T, config map[string]string) dedup.Store {
	t.Helper()
	s, err := NewFactory(context.Background(), storage.NewOptions("memory", storage.Merge(Defaults(), config)))
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

func TestStoresAreIndependent(t *testing.T) {
	ctx := context.Background()
	a := newTestStore(t, nil)
	b := newTestStore(t, nil)

	if err := a.Set(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := b.Get(ctx, "m1"); ok {
		t.Fatal("record leaked between in-memory stores")
	}
}

func TestNewThroughRegistry(t *testing.T) {
	s, err := dedup.New(context.Background(), "memory", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	seen, err := dedup.Seen(context.Background(), s, "abc")
	if err != nil || seen {
		t.Fatalf("first Seen = %v, %v", seen, err)
	}
	seen, err = dedup.Seen(context.Background(), s, "abc")
	if err != nil || !seen {
		t.Fatalf("second Seen = %v, %v", seen, err)
	}
}
