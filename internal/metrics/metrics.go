package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeUpstream    = "upstream_error"
	OutcomeInvalid     = "invalid_input"
	OutcomeLockBusy    = "lock_busy"
	OutcomePersistence = "persistence_error"
)

// Metrics holds the reconciliation and HTTP collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	AssignmentOps     *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	ConcernsExtracted prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	HTTPInFlight prometheus.Gauge
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "Reconciliation runs by outcome",
		}, []string{"outcome"}),
		AssignmentOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_assignment_ops_total",
			Help: "Assignment rows written by operation",
		}, []string{"op"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconcile_run_duration_seconds",
			Help:    "Duration of one reconciliation run including persistence",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		ConcernsExtracted: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconcile_concerns_extracted",
			Help:    "Concerns with positive confidence per analysis",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method and status",
		}, []string{"method", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		HTTPInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served",
		}),
	}
}

// ObserveRun records one run outcome and its duration since start.
func (m *Metrics) ObserveRun(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(time.Since(start).Seconds())
}

// ObserveOps counts the rows a committed run wrote.
func (m *Metrics) ObserveOps(created, updated, deactivated int) {
	if m == nil {
		return
	}
	m.AssignmentOps.WithLabelValues("create").Add(float64(created))
	m.AssignmentOps.WithLabelValues("update").Add(float64(updated))
	m.AssignmentOps.WithLabelValues("deactivate").Add(float64(deactivated))
}

func (m *Metrics) ObserveConcerns(n int) {
	if m == nil {
		return
	}
	m.ConcernsExtracted.Observe(float64(n))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, statusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.HTTPInFlight.Add(delta)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
