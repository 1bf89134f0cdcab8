package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Teardown closes registered components in reverse order of registration,
// so a client added after the tracer is closed before spans are flushed.
type Teardown struct {
	mu    sync.Mutex
	steps []teardownStep
	ran   bool
}

type teardownStep struct {
	name  string
	close func(context.Context) error
}

// Add registers close under name. Steps added after Run are ignored.
func (t *Teardown) Add(name string, close func(context.Context) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ran {
		return
	}
	t.steps = append(t.steps, teardownStep{name: name, close: close})
}

// Run closes every step once. Steps still waiting when ctx ends are
// reported as skipped.
func (t *Teardown) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.ran {
		t.mu.Unlock()
		return nil
	}
	t.ran = true
	steps := t.steps
	t.steps = nil
	t.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", s.name, context.Cause(ctx)))
			continue
		}
		if err := s.close(ctx); err != nil {
			slog.Warn("teardown failed", "component", s.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		slog.Debug("closed", "component", s.name)
	}
	return errors.Join(errs...)
}
