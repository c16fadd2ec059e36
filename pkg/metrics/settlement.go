package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics tracks each payment gateway protocol step.
type GatewayMetrics struct {
	duration *prometheus.HistogramVec
	calls    *prometheus.CounterVec
}

// NewGatewayMetrics registers the gateway metrics on the provided registerer.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_step_duration_seconds",
		Help:    "Duration of payment gateway calls in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"step"})
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_step_total",
		Help: "Payment gateway calls by step and outcome.",
	}, []string{"step", "outcome"})
	reg.MustRegister(duration, calls)
	return &GatewayMetrics{duration: duration, calls: calls}
}

// ObserveStep records one gateway call.
func (g *GatewayMetrics) ObserveStep(step string, err error, duration time.Duration) {
	if g == nil || g.calls == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	g.duration.WithLabelValues(normalizeLabel(step)).Observe(duration.Seconds())
	g.calls.WithLabelValues(normalizeLabel(step), outcome).Inc()
}

// SettlementMetrics counts reconciliation outcomes by final state.
type SettlementMetrics struct {
	outcomes *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_outcome_total",
		Help: "Settlement attempts by terminal state and confirmation source.",
	}, []string{"state", "source"})
	reg.MustRegister(outcomes)
	return &SettlementMetrics{outcomes: outcomes}
}

// IncOutcome increments the counter for a terminal state.
func (s *SettlementMetrics) IncOutcome(state, source string) {
	if s == nil || s.outcomes == nil {
		return
	}
	s.outcomes.WithLabelValues(normalizeLabel(state), normalizeLabel(source)).Inc()
}
