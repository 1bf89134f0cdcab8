package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus registry and the transport meters. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	BytesProcessed    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	InflightCalls     *prometheus.GaugeVec
	QueuedCalls       *prometheus.GaugeVec
	ReconnectsTotal   *prometheus.CounterVec
	DeliveriesTotal   *prometheus.CounterVec
}

// NewMetrics creates a custom Prometheus registry with the up4w metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "up4w_operation_duration_seconds",
		Help:    "Duration of operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "up4w_operation_total",
		Help: "Total number of operations.",
	}, []string{"operation", "status"})

	bytesProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "up4w_bytes_processed_total",
		Help: "Total bytes written to or read from the transport.",
	}, []string{"transport", "direction"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "up4w_errors_total",
		Help: "Total number of transport errors.",
	}, []string{"transport", "type"})

	inflight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "up4w_inflight_calls",
		Help: "Calls sent and awaiting a final response.",
	}, []string{"transport"})

	queued := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "up4w_queued_calls",
		Help: "Calls accepted while the connection is not open.",
	}, []string{"transport"})

	reconnects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "up4w_reconnects_total",
		Help: "Reconnect attempts by outcome.",
	}, []string{"outcome"})

	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "up4w_deliveries_total",
		Help: "Push deliveries by topic and outcome.",
	}, []string{"topic", "outcome"})

	reg.MustRegister(opDuration, opTotal, bytesProcessed, errorsTotal, inflight, queued, reconnects, deliveries)

	return &Metrics{
		Registry:          reg,
		OperationDuration: opDuration,
		OperationTotal:    opTotal,
		BytesProcessed:    bytesProcessed,
		ErrorsTotal:       errorsTotal,
		InflightCalls:     inflight,
		QueuedCalls:       queued,
		ReconnectsTotal:   reconnects,
		DeliveriesTotal:   deliveries,
	}
}

// AddBytes records n bytes moving in direction ("in" or "out").
func (m *Metrics) AddBytes(transport, direction string, n int) {
	if m == nil {
		return
	}
	m.BytesProcessed.WithLabelValues(transport, direction).Add(float64(n))
}

// IncError counts a transport error of the given type.
func (m *Metrics) IncError(transport, typ string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(transport, typ).Inc()
}

// SetCalls publishes the in-flight and queued call counts.
func (m *Metrics) SetCalls(transport string, inflight, queued int) {
	if m == nil {
		return
	}
	m.InflightCalls.WithLabelValues(transport).Set(float64(inflight))
	m.QueuedCalls.WithLabelValues(transport).Set(float64(queued))
}

// IncReconnect counts a reconnect attempt outcome.
func (m *Metrics) IncReconnect(outcome string) {
	if m == nil {
		return
	}
	m.ReconnectsTotal.WithLabelValues(outcome).Inc()
}

// IncDelivery counts a push delivery outcome.
func (m *Metrics) IncDelivery(topic, outcome string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(topic, outcome).Inc()
}
