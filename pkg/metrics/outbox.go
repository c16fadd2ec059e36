package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox delivery outcomes.
const (
	DeliveryPublished = "published"
	DeliveryRetry     = "retry"
	DeliveryDeferred  = "deferred"
	DeliveryTerminal  = "terminal"
)

// OutboxMetrics tracks what the publisher did with each outbox row.
type OutboxMetrics struct {
	deliveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	lag        prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_deliveries_total",
		Help: "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_publish_duration_seconds",
		Help:    "Time spent waiting on the broker for one publish.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
	}, []string{"event_type"})
	lag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_publish_lag_seconds",
		Help:    "Delay between an event being recorded and reaching the broker.",
		Buckets: prometheus.ExponentialBuckets(0.1, 4, 9),
	})
	reg.MustRegister(deliveries, latency, lag)
	return &OutboxMetrics{deliveries: deliveries, latency: latency, lag: lag}
}

// ObserveDelivery counts one handled row. duration is the broker round trip and
// is ignored when zero.
func (m *OutboxMetrics) ObserveDelivery(eventType, outcome string, duration time.Duration) {
	if m == nil || m.deliveries == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.deliveries.WithLabelValues(eventType, outcome).Inc()
	if duration > 0 {
		m.latency.WithLabelValues(eventType).Observe(duration.Seconds())
	}
}

// ObserveLag records how long a row waited in the table before it published.
func (m *OutboxMetrics) ObserveLag(createdAt, publishedAt time.Time) {
	if m == nil || m.lag == nil || createdAt.IsZero() {
		return
	}
	if d := publishedAt.Sub(createdAt); d >= 0 {
		m.lag.Observe(d.Seconds())
	}
}
