package observability

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsRegisterAndExport(t *testing.T) {
	ns := fmt.Sprintf("wayfarer_test_obs_%d", time.Now().UnixNano())
	m := NewMetrics(ns)

	m.ActiveSessions.Inc()
	m.SessionEvents.WithLabelValues("connected").Inc()
	m.ResponsesCreated.WithLabelValues("text").Inc()
	m.ResponsesCreated.WithLabelValues("ptt").Inc()
	m.ResponsesCompleted.Inc()
	m.ResponseQueueDepth.Set(2)
	m.Handoffs.WithLabelValues("applied").Inc()
	m.TransportSends.WithLabelValues("sent").Inc()
	m.ModelErrors.WithLabelValues("rate_limit_exceeded", "true").Inc()
	m.ConnectLatency.Observe(0.3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		ns + "_active_sessions 1",
		ns + `_session_events_total{event="connected"} 1`,
		ns + `_responses_created_total{trigger="ptt"} 1`,
		ns + "_responses_completed_total 1",
		ns + "_response_queue_depth 2",
		ns + `_agent_handoffs_total{outcome="applied"} 1`,
		ns + `_transport_sends_total{outcome="sent"} 1`,
		ns + `_model_errors_total{code="rate_limit_exceeded",retryable="true"} 1`,
		ns + "_connect_latency_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
