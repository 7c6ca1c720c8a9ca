// Package metrics exposes the editor's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	submissions      *prometheus.CounterVec
	submitDuration   *prometheus.HistogramVec
	searches         *prometheus.CounterVec
	imports          *prometheus.CounterVec
	exports          *prometheus.CounterVec
	fetchErrors      prometheus.Counter
	activeSessions   prometheus.Gauge
	pendingItems     prometheus.Gauge
	remoteChanges    prometheus.Counter
	lastSubmissionTS prometheus.Gauge
}

// New registers every collector on a private registry so tests and
// multiple servers in one process do not collide.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audiolibri",
		Name:      "submissions_total",
		Help:      "Submission attempts by kind and outcome",
	}, []string{"kind", "outcome"})
	m.submitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "audiolibri",
		Name:      "submission_duration_seconds",
		Help:      "Time spent reconciling and publishing a submission",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"kind"})
	m.searches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audiolibri",
		Name:      "searches_total",
		Help:      "Search requests by backend",
	}, []string{"backend"})
	m.imports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audiolibri",
		Name:      "imports_total",
		Help:      "yt-dlp imports by kind and status",
	}, []string{"kind", "status"})
	m.exports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audiolibri",
		Name:      "exports_total",
		Help:      "Exports by format",
	}, []string{"format"})
	m.fetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "audiolibri",
		Name:      "remote_fetch_errors_total",
		Help:      "Failed reads of the remote catalog",
	})
	m.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "audiolibri",
		Name:      "sessions_active",
		Help:      "Editor sessions held in memory",
	})
	m.pendingItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "audiolibri",
		Name:      "pending_items",
		Help:      "Items with pending edits across all sessions",
	})
	m.remoteChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "audiolibri",
		Name:      "remote_changes_detected_total",
		Help:      "Fingerprint changes noticed by the tabular monitor",
	})
	m.lastSubmissionTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "audiolibri",
		Name:      "last_successful_submission_timestamp_seconds",
		Help:      "Unix timestamp of the last pull request opened",
	})

	m.registry.MustRegister(
		m.submissions, m.submitDuration, m.searches, m.imports, m.exports,
		m.fetchErrors, m.activeSessions, m.pendingItems, m.remoteChanges, m.lastSubmissionTS,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveSubmission records one finished submission attempt.
func (m *Metrics) ObserveSubmission(kind, outcome string, elapsed time.Duration) {
	m.submissions.WithLabelValues(kind, outcome).Inc()
	m.submitDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if outcome == "success" {
		m.lastSubmissionTS.SetToCurrentTime()
	}
}

func (m *Metrics) ObserveSearch(backend string) {
	m.searches.WithLabelValues(backend).Inc()
}

func (m *Metrics) ObserveImport(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.imports.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObserveExport(format string) {
	m.exports.WithLabelValues(format).Inc()
}

func (m *Metrics) FetchFailed() { m.fetchErrors.Inc() }

func (m *Metrics) RemoteChanged() { m.remoteChanges.Inc() }

func (m *Metrics) SetSessions(active, pendingItems int) {
	m.activeSessions.Set(float64(active))
	m.pendingItems.Set(float64(pendingItems))
}
