// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "questpoints"

// Metrics holds Prometheus metrics for the service.
type Metrics struct {
	registry *prometheus.Registry

	RequestCounter   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	EventsPublished  *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec
	HandlerFailures  *prometheus.CounterVec
	LedgerMutations  *prometheus.CounterVec
	CapRejections    *prometheus.CounterVec
	ReconcileRetries prometheus.Counter
	DBConnPoolStats  *prometheus.GaugeVec
	JobDuration      *prometheus.HistogramVec
	JobFailures      *prometheus.CounterVec
}

// New registers every collector on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Domain events published, by type",
			},
			[]string{"event_type"},
		),
		HandlerDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "handler_duration_seconds",
				Help:      "Event handler duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"event_type"},
		),
		HandlerFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "handler_failures_total",
				Help:      "Event handler failures, by type",
			},
			[]string{"event_type"},
		),
		LedgerMutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "mutations_total",
				Help:      "Ledger writes by kind (award, edit, reconcile) and category",
			},
			[]string{"kind", "category"},
		),
		CapRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "cap_reached_total",
				Help:      "Capped awards skipped because the cap was reached",
			},
			[]string{"category"},
		),
		ReconcileRetries: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "reconcile_retries_total",
				Help:      "Reconciliation attempts repeated after a version conflict",
			},
		),
		DBConnPoolStats: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"stat"},
		),
		JobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Scheduled job duration in seconds",
				Buckets:   []float64{.01, .1, 1, 10, 60, 300},
			},
			[]string{"job"},
		),
		JobFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "job_failures_total",
				Help:      "Scheduled job runs that returned an error",
			},
			[]string{"job"},
		),
	}
}

// Registry exposes the registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	m.RequestCounter.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordPublish implements messaging.Recorder.
func (m *Metrics) RecordPublish(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordHandlerExecution implements messaging.Recorder.
func (m *Metrics) RecordHandlerExecution(eventType string, d time.Duration, success bool) {
	m.HandlerDuration.WithLabelValues(eventType).Observe(d.Seconds())
	if !success {
		m.HandlerFailures.WithLabelValues(eventType).Inc()
	}
}

// RecordAward implements command.Recorder.
func (m *Metrics) RecordAward(category string, awarded bool) {
	if awarded {
		m.LedgerMutations.WithLabelValues("award", category).Inc()
		return
	}
	m.CapRejections.WithLabelValues(category).Inc()
}

// RecordEdit implements command.Recorder.
func (m *Metrics) RecordEdit(kind, category string) {
	m.LedgerMutations.WithLabelValues(kind, category).Inc()
}

// RecordRetry implements command.Recorder.
func (m *Metrics) RecordRetry() {
	m.ReconcileRetries.Inc()
}

// RecordDBPoolStats records database connection pool statistics.
// Non-numeric entries are skipped.
func (m *Metrics) RecordDBPoolStats(stats map[string]interface{}) {
	for k, v := range stats {
		var f float64
		switch n := v.(type) {
		case int32:
			f = float64(n)
		case int64:
			f = float64(n)
		case int:
			f = float64(n)
		default:
			continue
		}
		m.DBConnPoolStats.WithLabelValues(k).Set(f)
	}
}

// RecordJob implements scheduler.Recorder.
func (m *Metrics) RecordJob(job string, d time.Duration, success bool) {
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
	if !success {
		m.JobFailures.WithLabelValues(job).Inc()
	}
}
