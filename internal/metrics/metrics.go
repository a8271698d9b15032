// Package metrics holds the Prometheus collectors for sessions, webhook
// delivery and the outbox relay. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payup"

// Metrics groups the service collectors.
type Metrics struct {
	sessionsCreated   prometheus.Counter
	transitions       *prometheus.CounterVec
	duplicates        prometheus.Counter
	enqueueFailures   prometheus.Counter
	deliveries        *prometheus.CounterVec
	deliveryDuration  prometheus.Histogram
	outboxRelayed     prometheus.Counter
	outboxRelayErrors prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		sessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Payment sessions created.",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Terminal transitions applied, by resulting status.",
		}, []string{"status"}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_duplicate_requests_total",
			Help:      "Finalize or cancel requests for sessions already in a terminal state.",
		}),
		enqueueFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_enqueue_failures_total",
			Help:      "Webhook jobs left to the outbox relay after a failed enqueue.",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook dispatch outcomes.",
		}, []string{"outcome"}),
		deliveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_delivery_duration_seconds",
			Help:      "Time spent posting a webhook to the merchant endpoint.",
			Buckets:   prometheus.DefBuckets,
		}),
		outboxRelayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_relayed_total",
			Help:      "Outbox messages republished by the relay.",
		}),
		outboxRelayErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_relay_errors_total",
			Help:      "Failed relay sweeps.",
		}),
	}
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) DuplicateRequest() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) EnqueueFailed() {
	if m == nil {
		return
	}
	m.enqueueFailures.Inc()
}

// Delivery records a dispatch outcome and, when d > 0, the HTTP round trip time.
func (m *Metrics) Delivery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.deliveryDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) Relayed(n int) {
	if m == nil {
		return
	}
	m.outboxRelayed.Add(float64(n))
}

func (m *Metrics) RelayFailed() {
	if m == nil {
		return
	}
	m.outboxRelayErrors.Inc()
}
