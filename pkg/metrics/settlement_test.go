package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestGatewayMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGatewayMetrics(reg)
	m.ObserveStep("authenticate", nil, 40*time.Millisecond)
	m.ObserveStep("authenticate", errors.New("boom"), 10*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	mf := findMetricFamily(mfs, "gateway_step_total")
	if mf == nil || len(mf.GetMetric()) != 2 {
		t.Fatalf("expected success and failure series, got %v", mf)
	}
	if got, err := counterValue(mfs, "gateway_step_total", map[string]string{"outcome": "failure"}); err != nil || got != 1 {
		t.Fatalf("expected one failure, got %f (%v)", got, err)
	}
	hist := findMetricFamily(mfs, "gateway_step_duration_seconds")
	if hist == nil || hist.GetMetric()[0].GetHistogram().GetSampleSum() <= 0 {
		t.Fatal("expected duration sum > 0")
	}
}

func TestSettlementMetricsNilSafe(t *testing.T) {
	var m *SettlementMetrics
	m.IncOutcome("SETTLED", "redirect")

	reg := prometheus.NewRegistry()
	m = NewSettlementMetrics(reg)
	m.IncOutcome("SETTLED", "redirect")
	m.IncOutcome("", "redirect")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := counterValue(mfs, "settlement_outcome_total", map[string]string{"state": "unknown"}); err != nil || got != 1 {
		t.Fatalf("expected empty state normalized, got %f (%v)", got, err)
	}
}
