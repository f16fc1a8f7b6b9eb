package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outbox publish results.
const (
	OutboxResultPublished = "published"
	OutboxResultRetry     = "retry"
	OutboxResultDLQ       = "dlq"
)

// OutboxMetrics tracks the domain event dispatcher.
type OutboxMetrics struct {
	events *prometheus.CounterVec
	batch  prometheus.Histogram
}

// NewOutboxMetrics registers the outbox metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_total",
		Help: "Outbox rows handled by event type and result.",
	}, []string{"event_type", "result"})
	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_batch_size",
		Help:    "Rows claimed per publisher batch.",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
	})
	reg.MustRegister(events, batch)
	return &OutboxMetrics{events: events, batch: batch}
}

// Inc records one row outcome.
func (m *OutboxMetrics) Inc(eventType, result string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

// ObserveBatch records how many rows a batch claimed.
func (m *OutboxMetrics) ObserveBatch(size int) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(float64(size))
}
