// Package observability holds the Prometheus metrics for the chat pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "cyberguard"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	// ActiveConnections tracks open websocket connections.
	ActiveConnections prometheus.Gauge

	// JobsTotal counts finished stream jobs.
	// Labels: outcome (completed, errored, canceled, scam)
	JobsTotal *prometheus.CounterVec

	// FragmentsTotal counts fragments relayed to clients.
	FragmentsTotal prometheus.Counter

	// ScamDetectionsTotal counts flagged messages by their heaviest rule.
	// Labels: rule
	ScamDetectionsTotal *prometheus.CounterVec

	// TimeToFirstFragmentSeconds measures the wait for the first fragment of a job.
	TimeToFirstFragmentSeconds prometheus.Histogram

	// ReportsTotal counts abuse report attempts.
	// Labels: result (sent, throttled, failed)
	ReportsTotal *prometheus.CounterVec

	// RateLimitedTotal counts inbound events dropped by flood control.
	RateLimitedTotal prometheus.Counter
}

// NewMetrics registers the metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Number of open websocket connections",
		}),
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "jobs_total",
			Help:      "Finished chat jobs by outcome",
		}, []string{"outcome"}),
		FragmentsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "fragments_total",
			Help:      "Fragments relayed to clients",
		}),
		ScamDetectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scam",
			Name:      "detections_total",
			Help:      "Messages flagged as scams by main rule",
		}, []string{"rule"}),
		TimeToFirstFragmentSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "time_to_first_fragment_seconds",
			Help:      "Time from job start to first fragment in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}),
		ReportsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scam",
			Name:      "reports_total",
			Help:      "Abuse report attempts by result",
		}, []string{"result"}),
		RateLimitedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "rate_limited_total",
			Help:      "Inbound events rejected by flood control",
		}),
	}
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) JobFinished(outcome string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FragmentSent() {
	if m == nil {
		return
	}
	m.FragmentsTotal.Inc()
}

func (m *Metrics) ScamDetected(rule string) {
	if m == nil {
		return
	}
	m.ScamDetectionsTotal.WithLabelValues(rule).Inc()
}

func (m *Metrics) FirstFragment(d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstFragmentSeconds.Observe(d.Seconds())
}

func (m *Metrics) Report(result string) {
	if m == nil {
		return
	}
	m.ReportsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}
