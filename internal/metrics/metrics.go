// Package metrics holds the Prometheus collectors for extraction runs.
//
// All metrics are prefixed with "charstates_":
//   - charstates_items_total{outcome} - items resolved, by accepted/failed reason
//   - charstates_attempts_total{phase} - extraction and evaluation calls made
//   - charstates_retries_total{reason} - retries by rate_limited/other_error/low_score
//   - charstates_backoff_seconds - backoff delays slept before transient retries
//   - charstates_llm_requests_total{operation,status} - provider calls
//   - charstates_llm_request_duration_seconds{operation} - provider call latency
//   - charstates_ratelimit_rejections_total{limiter} - client-side limiter refusals
//   - charstates_tasks_in_flight - tasks currently held by a worker
//   - charstates_run_progress - fraction of the current run collected
//
// Every method is safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Metrics holds the registered collectors.
type Metrics struct {
	ItemsTotal          *prometheus.CounterVec
	AttemptsTotal       *prometheus.CounterVec
	RetriesTotal        *prometheus.CounterVec
	BackoffSeconds      prometheus.Histogram
	LLMRequestsTotal    *prometheus.CounterVec
	LLMRequestDuration  *prometheus.HistogramVec
	RateLimitRejections *prometheus.CounterVec
	CircuitTransitions  *prometheus.CounterVec
	TasksInFlight       prometheus.Gauge
	RunProgress         prometheus.Gauge
}

// Default returns collectors registered with the default Prometheus
// registry. Registration happens once per process.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New registers a fresh set of collectors with reg. Tests pass a
// prometheus.NewRegistry() to stay isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ItemsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charstates_items_total",
				Help: "Total number of items resolved, by outcome",
			},
			[]string{"outcome"},
		),
		AttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charstates_attempts_total",
				Help: "Total number of external calls made by tasks, by phase",
			},
			[]string{"phase"}, // "extraction" or "evaluation"
		),
		RetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charstates_retries_total",
				Help: "Total number of task retries, by reason",
			},
			[]string{"reason"},
		),
		BackoffSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "charstates_backoff_seconds",
				Help:    "Backoff delay before transient retries in seconds",
				Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 60},
			},
		),
		LLMRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charstates_llm_requests_total",
				Help: "Total number of model provider requests",
			},
			[]string{"operation", "status"},
		),
		LLMRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "charstates_llm_request_duration_seconds",
				Help:    "Duration of model provider requests in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"operation"},
		),
		RateLimitRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charstates_ratelimit_rejections_total",
				Help: "Total number of requests refused by client-side rate limiters",
			},
			[]string{"limiter"}, // "local" or "global"
		),
		CircuitTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charstates_circuit_transitions_total",
				Help: "Total number of circuit breaker state changes, by model and target state",
			},
			[]string{"model", "to"},
		),
		TasksInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "charstates_tasks_in_flight",
				Help: "Number of tasks currently running on a worker",
			},
		),
		RunProgress: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "charstates_run_progress",
				Help: "Fraction of the current run's items collected",
			},
		),
	}
}

// ItemResolved counts one terminal outcome.
func (m *Metrics) ItemResolved(outcome string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(outcome).Inc()
}

// Attempt counts one external call in phase.
func (m *Metrics) Attempt(phase string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(phase).Inc()
}

// Retry counts one retry and, when delay is positive, observes it.
func (m *Metrics) Retry(reason string, delay time.Duration) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(reason).Inc()
	if delay > 0 {
		m.BackoffSeconds.Observe(delay.Seconds())
	}
}

// LLMRequest records one provider call.
func (m *Metrics) LLMRequest(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(operation, status).Inc()
	m.LLMRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RateLimited counts one limiter refusal.
func (m *Metrics) RateLimited(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(limiter).Inc()
}

// CircuitTransition counts one breaker state change for model.
func (m *Metrics) CircuitTransition(model, to string) {
	if m == nil {
		return
	}
	m.CircuitTransitions.WithLabelValues(model, to).Inc()
}

// TaskStarted increments the in-flight gauge.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.TasksInFlight.Inc()
}

// TaskFinished decrements the in-flight gauge.
func (m *Metrics) TaskFinished() {
	if m == nil {
		return
	}
	m.TasksInFlight.Dec()
}

// Progress sets the run progress gauge.
func (m *Metrics) Progress(fraction float64) {
	if m == nil {
		return
	}
	m.RunProgress.Set(fraction)
}

// Handler serves the metrics of g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
