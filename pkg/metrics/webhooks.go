package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Webhook processing results.
const (
	WebhookResultProcessed = "processed"
	WebhookResultDuplicate = "duplicate"
	WebhookResultIgnored   = "ignored"
	WebhookResultUnknown   = "unknown_intent"
	WebhookResultRetry     = "retry"
	WebhookResultFailed    = "failed"
	WebhookResultRejected  = "rejected"
	WebhookResultQueued    = "queued"
)

// WebhookMetrics counts inbound provider deliveries.
type WebhookMetrics struct {
	events *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook deliveries by provider, event type and result.",
	}, []string{"provider", "event_type", "result"})
	reg.MustRegister(events)
	return &WebhookMetrics{events: events}
}

// Inc records one delivery outcome.
func (m *WebhookMetrics) Inc(provider, eventType, result string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType), normalizeLabel(result)).Inc()
}
