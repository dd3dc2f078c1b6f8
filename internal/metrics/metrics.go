// Package metrics provides Prometheus instrumentation for the evaluation
// engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine's collectors. A nil *Metrics is a valid no-op
// receiver so tests and dry runs can skip registration.
type Metrics struct {
	registry *prometheus.Registry

	JobsTotal        *prometheus.CounterVec
	JobsRunning      prometheus.Gauge
	WindowsEvaluated prometheus.Counter
	WindowsFailed    prometheus.Counter
	BatchSize        prometheus.Gauge
	BatchDuration    prometheus.Histogram
	PrefetchHits     prometheus.Counter
	PrefetchMisses   prometheus.Counter
}

// New registers the engine collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: "riskwatcher", Name: name, Help: help}
	}

	m := &Metrics{
		registry: registry,
		JobsTotal: prometheus.NewCounterVec(
			factory("jobs_total", "Jobs finished, by terminal status."),
			[]string{"status"},
		),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "riskwatcher", Name: "jobs_running", Help: "Jobs currently holding a concurrency slot.",
		}),
		WindowsEvaluated: prometheus.NewCounter(factory("windows_evaluated_total", "Windows evaluated and persisted.")),
		WindowsFailed:    prometheus.NewCounter(factory("windows_failed_total", "Windows that failed evaluation or persistence.")),
		BatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "riskwatcher", Name: "batch_size", Help: "Most recent adaptive batch size.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "riskwatcher", Name: "batch_duration_seconds",
			Help:    "Wall-clock duration of completed batches.",
			Buckets: prometheus.DefBuckets,
		}),
		PrefetchHits:   prometheus.NewCounter(factory("prefetch_hits_total", "Prefetch cache hits.")),
		PrefetchMisses: prometheus.NewCounter(factory("prefetch_misses_total", "Prefetch cache misses (bulk fetches issued).")),
	}

	registry.MustRegister(
		m.JobsTotal, m.JobsRunning,
		m.WindowsEvaluated, m.WindowsFailed,
		m.BatchSize, m.BatchDuration,
		m.PrefetchHits, m.PrefetchMisses,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// JobFinished records a terminal job status.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
}

// JobStarted and JobReleased track the running gauge.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsRunning.Inc()
}

// JobReleased decrements the running gauge.
func (m *Metrics) JobReleased() {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
}

// WindowDone records one evaluated or failed window.
func (m *Metrics) WindowDone(failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.WindowsFailed.Inc()
		return
	}
	m.WindowsEvaluated.Inc()
}

// BatchObserved records an adaptive batch completion.
func (m *Metrics) BatchObserved(size int, seconds float64) {
	if m == nil {
		return
	}
	m.BatchSize.Set(float64(size))
	m.BatchDuration.Observe(seconds)
}

// PrefetchHit and PrefetchMiss feed the cache observers.
func (m *Metrics) PrefetchHit() {
	if m == nil {
		return
	}
	m.PrefetchHits.Inc()
}

// PrefetchMiss records a bulk fetch issued by the cache.
func (m *Metrics) PrefetchMiss() {
	if m == nil {
		return
	}
	m.PrefetchMisses.Inc()
}
