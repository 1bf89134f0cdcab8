package observability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	errs "github.com/gezibash/up4w/pkg/errors"
)

// Operation times one client call and records it as a span, a log line and
// an up4w_operation_* sample labelled with the call's outcome.
type Operation struct {
	ctx     context.Context
	span    trace.Span
	metrics *Metrics
	name    string
	start   time.Time
}

// StartOperation begins an operation. m may be nil.
func StartOperation(ctx context.Context, m *Metrics, name string, attrs ...attribute.KeyValue) (*Operation, context.Context) {
	ctx, span := StartSpan(ctx, name, attrs...)
	return &Operation{ctx: ctx, span: span, metrics: m, name: name, start: time.Now()}, ctx
}

// End records the result of the operation.
func (o *Operation) End(err error) {
	elapsed := time.Since(o.start)
	outcome := Outcome(err)
	o.span.SetAttributes(attribute.String("up4w.outcome", outcome))
	EndSpan(o.span, err)

	if err != nil {
		slog.DebugContext(o.ctx, "operation failed", "operation", o.name, "outcome", outcome, "elapsed", elapsed, "error", err)
	} else {
		slog.DebugContext(o.ctx, "operation done", "operation", o.name, "elapsed", elapsed)
	}
	if o.metrics == nil {
		return
	}
	o.metrics.OperationDuration.WithLabelValues(o.name, outcome).Observe(elapsed.Seconds())
	o.metrics.OperationTotal.WithLabelValues(o.name, outcome).Inc()
}

// Outcome buckets err into a low-cardinality label value.
func Outcome(err error) string {
	var remote *errs.RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &remote):
		return "remote_error"
	case errors.Is(err, errs.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, errs.ErrReconnecting),
		errors.Is(err, errs.ErrConnectionClosed),
		errors.Is(err, errs.ErrNotOpen),
		errors.Is(err, errs.ErrInvalidConnection),
		errors.Is(err, errs.ErrMaxAttempts):
		return "connection"
	case errors.Is(err, errs.ErrInvalidInput), errors.Is(err, errs.ErrConfiguration), errors.Is(err, errs.ErrUnsupported):
		return "rejected"
	default:
		return "error"
	}
}
