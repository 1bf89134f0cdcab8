// Package storetest holds the behaviour every dedup backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gezibash/up4w/pkg/dedup"
)

// NewFunc opens a store with extra options merged over the backend defaults.
type NewFunc func(t *testing.T, config map[string]string) dedup.Store

// Run executes the conformance suite against a backend.
func Run(t *testing.T, newStore NewFunc) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore) })
	t.Run("SetThenGet", func(t *testing.T) { testSetThenGet(t, newStore) })
	t.Run("SetTwice", func(t *testing.T) { testSetTwice(t, newStore) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, newStore) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newStore) })
}

// RunTTL checks that records expire. It sleeps for a little over two seconds.
func RunTTL(t *testing.T, newStore NewFunc) {
	s := newStore(t, map[string]string{dedup.KeyTTL: "1s"})
	ctx := context.Background()

	if err := s.Set(ctx, "short-lived"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok, err := s.Get(ctx, "short-lived"); err != nil || !ok {
		t.Fatalf("Get before expiry = %v, %v", ok, err)
	}
	time.Sleep(2100 * time.Millisecond)
	if ok, err := s.Get(ctx, "short-lived"); err != nil || ok {
		t.Fatalf("Get after expiry = %v, %v", ok, err)
	}

	seen, err := dedup.Seen(ctx, s, "short-lived")
	if err != nil || seen {
		t.Fatalf("Seen after expiry = %v, %v", seen, err)
	}
	if ok, _ := s.Get(ctx, "short-lived"); !ok {
		t.Fatal("expired id was not recorded again")
	}
}

func testGetMissing(t *testing.T, newStore NewFunc) {
	s := newStore(t, nil)
	ok, err := s.Get(context.Background(), "never-set")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("Get on empty store returned true")
	}
}

func testSetThenGet(t *testing.T, newStore NewFunc) {
	s := newStore(t, nil)
	ctx := context.Background()

	if err := s.Set(ctx, "msg-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err := s.Get(ctx, "msg-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get after Set returned false")
	}
	if ok, _ := s.Get(ctx, "msg-2"); ok {
		t.Fatal("unrelated id reported delivered")
	}
}

func testSetTwice(t *testing.T, newStore NewFunc) {
	s := newStore(t, nil)
	ctx := context.Background()

	for range 2 {
		if err := s.Set(ctx, "dup"); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if ok, err := s.Get(ctx, "dup"); err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
}

func testConcurrent(t *testing.T, newStore NewFunc) {
	s := newStore(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errCh := make(chan error, 50)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("id-%d", i)
			if err := s.Set(ctx, id); err != nil {
				errCh <- err
				return
			}
			if ok, err := s.Get(ctx, id); err != nil || !ok {
				errCh <- fmt.Errorf("get %s = %v, %v", id, ok, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
}

func testClosed(t *testing.T, newStore NewFunc) {
	s := newStore(t, nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Get(context.Background(), "x"); !errors.Is(err, dedup.ErrClosed) {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
	if err := s.Set(context.Background(), "x"); !errors.Is(err, dedup.ErrClosed) {
		t.Errorf("Set after Close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
