package http

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/actionbridge/actionbridge/internal/domain/session"
)

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %q not registered", name)
	return nil
}

func labelValue(m *dto.Metric, key string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == key {
			return l.GetValue()
		}
	}
	return ""
}

func TestObserveUpstreamLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, nil, nil)

	m.ObserveUpstream("jira", "200", 0.05)
	m.ObserveUpstream("jira", "502", 0.10)
	m.ObserveUpstream("sf", "200", 0.02)

	family := gatherFamily(t, reg, "actionbridge_upstream_requests_total")
	if len(family.GetMetric()) != 3 {
		t.Fatalf("series = %d, want 3", len(family.GetMetric()))
	}
	for _, metric := range family.GetMetric() {
		if labelValue(metric, "system") == "jira" && labelValue(metric, "status") == "502" {
			if metric.GetCounter().GetValue() != 1 {
				t.Errorf("jira 502 count = %v", metric.GetCounter().GetValue())
			}
		}
	}

	hist := gatherFamily(t, reg, "actionbridge_upstream_request_duration_seconds")
	for _, metric := range hist.GetMetric() {
		if labelValue(metric, "system") == "jira" {
			if metric.GetHistogram().GetSampleCount() != 2 {
				t.Errorf("jira samples = %d, want 2", metric.GetHistogram().GetSampleCount())
			}
		}
	}
}

func TestSessionGaugeFollowsLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, nil, nil)

	m.SessionCreated()
	m.SessionCreated()
	m.SessionEvicted(session.EvictIdle)

	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsCreated); got != 2 {
		t.Errorf("created = %v, want 2", got)
	}

	family := gatherFamily(t, reg, "actionbridge_sessions_evicted_total")
	metric := family.GetMetric()[0]
	if labelValue(metric, "reason") != string(session.EvictIdle) {
		t.Errorf("reason label = %q", labelValue(metric, "reason"))
	}
}

func TestAuditGaugesSampleCallbacks(t *testing.T) {
	reg := prometheus.NewRegistry()
	depth := 7
	var dropped int64 = 3
	NewMetrics(reg, func() int { return depth }, func() int64 { return dropped })

	family := gatherFamily(t, reg, "actionbridge_audit_trail_depth")
	if got := family.GetMetric()[0].GetGauge().GetValue(); got != 7 {
		t.Errorf("depth = %v, want 7", got)
	}
	family = gatherFamily(t, reg, "actionbridge_audit_dropped_total")
	if got := family.GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Errorf("dropped = %v, want 3", got)
	}
}
