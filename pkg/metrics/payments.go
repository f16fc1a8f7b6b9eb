package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentGatewayMetrics records processor calls made on the synchronous path.
type PaymentGatewayMetrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPaymentGatewayMetrics registers the gateway metrics on the provided registerer.
func NewPaymentGatewayMetrics(reg prometheus.Registerer) *PaymentGatewayMetrics {
	if reg == nil {
		return &PaymentGatewayMetrics{}
	}
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_calls_total",
		Help: "Payment gateway calls by operation and outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_call_duration_seconds",
		Help:    "Latency of payment gateway calls including the retry.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(calls, duration)
	return &PaymentGatewayMetrics{calls: calls, duration: duration}
}

// Observe records one gateway operation.
func (m *PaymentGatewayMetrics) Observe(operation, outcome string, duration time.Duration) {
	if m == nil || m.calls == nil {
		return
	}
	m.calls.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}
