// Package ratelimit provides engine metrics.
package ratelimit

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records engine health signals.
type Metrics interface {
	IncDecision(system string, scope string, result string)
	ObserveCheckLatency(d time.Duration)
	IncStoreError(op string)
	IncViolation(system string, scope string)
	AddCleanupDeleted(kind string, n int64)
}

// PromMetrics exports engine metrics through a Prometheus registry.
type PromMetrics struct {
	registry       *prometheus.Registry
	decisions      *prometheus.CounterVec
	checkLatency   prometheus.Histogram
	storeErrors    *prometheus.CounterVec
	violations     *prometheus.CounterVec
	cleanupDeleted *prometheus.CounterVec
}

// NewPromMetrics constructs and registers the engine collectors.
func NewPromMetrics() *PromMetrics {
	m := &PromMetrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotaguard_decisions_total",
			Help: "Admission decisions by system, scope, and result.",
		}, []string{"system", "scope", "result"}),
		checkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quotaguard_check_duration_seconds",
			Help:    "CheckLimit latency.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotaguard_store_errors_total",
			Help: "Durable store failures by operation.",
		}, []string{"op"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotaguard_violations_total",
			Help: "Recorded violations by system and scope.",
		}, []string{"system", "scope"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotaguard_cleanup_deleted_total",
			Help: "Rows evicted by the cleanup scheduler, by data kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(m.decisions, m.checkLatency, m.storeErrors, m.violations, m.cleanupDeleted)
	return m
}

// IncDecision counts one admission decision.
func (m *PromMetrics) IncDecision(system, scope, result string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(system, scope, result).Inc()
}

// ObserveCheckLatency tracks one CheckLimit duration.
func (m *PromMetrics) ObserveCheckLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.checkLatency.Observe(d.Seconds())
}

// IncStoreError counts one store failure.
func (m *PromMetrics) IncStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// IncViolation counts one recorded violation.
func (m *PromMetrics) IncViolation(system, scope string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(system, scope).Inc()
}

// AddCleanupDeleted counts rows evicted by cleanup.
func (m *PromMetrics) AddCleanupDeleted(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupDeleted.WithLabelValues(kind).Add(float64(n))
}

// Handler returns the scrape endpoint handler.
func (m *PromMetrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NopMetrics discards all observations.
type NopMetrics struct{}

// IncDecision discards the observation.
func (NopMetrics) IncDecision(string, string, string) {}

// ObserveCheckLatency discards the observation.
func (NopMetrics) ObserveCheckLatency(time.Duration) {}

// IncStoreError discards the observation.
func (NopMetrics) IncStoreError(string) {}

// IncViolation discards the observation.
func (NopMetrics) IncViolation(string, string) {}

// AddCleanupDeleted discards the observation.
func (NopMetrics) AddCleanupDeleted(string, int64) {}
