package observability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"

	errs "github.com/gezibash/up4w/pkg/errors"
)

func TestOperationRecordsOutcome(t *testing.T) {
	m := NewMetrics()

	op, ctx := StartOperation(context.Background(), m, "up4w.send", attribute.String("req", "core.ver"))
	if ctx == nil {
		t.Fatal("nil context")
	}
	op.End(nil)

	op, _ = StartOperation(context.Background(), m, "up4w.send")
	op.End(&errs.RemoteError{Method: "core.init", Code: "already initialized"})

	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("up4w.send", "ok")); got != 1 {
		t.Errorf("ok = %v", got)
	}
	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("up4w.send", "remote_error")); got != 1 {
		t.Errorf("remote_error = %v", got)
	}
}

func TestOperationNilMetrics(t *testing.T) {
	op, _ := StartOperation(context.Background(), nil, "dedup.new")
	op.End(errors.New("boom"))
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("send: %w", &errs.RemoteError{Method: "m"}), "remote_error"},
		{errs.ConnectionTimeout(time.Second), "timeout"},
		{context.DeadlineExceeded, "timeout"},
		{fmt.Errorf("x: %w", context.Canceled), "canceled"},
		{errs.ErrReconnecting, "connection"},
		{errs.ConnectionClose(1006, ""), "connection"},
		{errs.NotOpen(0, ""), "connection"},
		{errs.InvalidConnection("ws://x", 0, ""), "connection"},
		{errs.ErrMaxAttempts, "connection"},
		{errs.ErrInvalidInput, "rejected"},
		{fmt.Errorf("%w: %w", errs.ErrConfiguration, errs.ErrUnsupported), "rejected"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
