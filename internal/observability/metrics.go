package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// OpenSessionsDelta is relative to process start. It goes negative when
	// sessions opened before a restart are closed.
	OpenSessionsDelta prometheus.Gauge
	Transitions       *prometheus.CounterVec
	TrackerErrors     *prometheus.CounterVec
	Queries           *prometheus.CounterVec
	QueryLatency      *prometheus.HistogramVec
	WSMessages        *prometheus.CounterVec

	latency *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		OpenSessionsDelta: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions_delta",
			Help:      "Sessions opened minus sessions closed by this process. Negative after closing sessions opened before a restart.",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Presence transitions processed by outcome.",
		}, []string{"outcome"}),
		TrackerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_errors_total",
			Help:      "Dropped presence transitions by failing stage.",
		}, []string{"stage"}),
		Queries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Attendance queries by kind and result.",
		}, []string{"kind", "result"}),
		QueryLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_ms",
			Help:      "Attendance query latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"kind"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Presence stream WebSocket messages by direction.",
		}, []string{"direction"}),
		latency: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveTransition(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(outcome).Inc()
	m.latency.observe(OpTransition, durationMS(d))
	m.latency.countTransition(outcome)
}

func (m *Metrics) ObserveTrackerError(stage string) {
	if m == nil {
		return
	}
	m.TrackerErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveQuery(kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(kind, result).Inc()
	m.QueryLatency.WithLabelValues(kind).Observe(durationMS(d))
	m.latency.observe("query_"+kind, durationMS(d))
}

func (m *Metrics) ObserveWSMessage(direction string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.OpenSessionsDelta.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.OpenSessionsDelta.Dec()
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC(), Operations: []OperationStats{}}
	}
	return m.latency.snapshot(time.Now())
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
