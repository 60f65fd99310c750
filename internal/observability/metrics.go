package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the gateway.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	ResponsesCreated   *prometheus.CounterVec
	ResponsesCompleted prometheus.Counter
	ResponseQueueDepth prometheus.Gauge
	Handoffs           *prometheus.CounterVec
	TransportSends     *prometheus.CounterVec
	ModelErrors        *prometheus.CounterVec
	ConnectLatency     prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active realtime sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		ResponsesCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_created_total",
			Help:      "Response-creation requests by trigger.",
		}, []string{"trigger"}),
		ResponsesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_completed_total",
			Help:      "Responses that reached their terminal event.",
		}),
		ResponseQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "response_queue_depth",
			Help:      "Pending response-creation intents waiting on the active response.",
		}),
		Handoffs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_handoffs_total",
			Help:      "Agent hand-off outcomes.",
		}, []string{"outcome"}),
		TransportSends: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_sends_total",
			Help:      "Transport send attempts by outcome.",
		}, []string{"outcome"}),
		ModelErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_errors_total",
			Help:      "Model-reported error events by code and retryability.",
		}, []string{"code", "retryable"}),
		ConnectLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_seconds",
			Help:      "Time from connect() to an established transport.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
