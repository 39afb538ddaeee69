package observability

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// ValidationMetrics tracks dispute verification and finalization.
type ValidationMetrics struct {
	outcomes  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	replayed  *prometheus.HistogramVec
	latency   *prometheus.HistogramVec
	openGauge prometheus.Gauge
	payouts   *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	validationOnce     sync.Once
	validationRegistry *ValidationMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fraudproof",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fraudproof",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fraudproof",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// Validation returns the singleton metrics registry for the validation engine.
func Validation() *ValidationMetrics {
	validationOnce.Do(func() {
		validationRegistry = &ValidationMetrics{
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fraudproof",
				Subsystem: "validation",
				Name:      "outcomes_total",
				Help:      "Finalized disputes segmented by outcome.",
			}, []string{"outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fraudproof",
				Subsystem: "validation",
				Name:      "failures_total",
				Help:      "Rejected engine calls segmented by operation and error category.",
			}, []string{"operation", "category"}),
			replayed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fraudproof",
				Subsystem: "validation",
				Name:      "replayed_messages",
				Help:      "Messages applied during replay, segmented by why replay stopped.",
				Buckets:   prometheus.LinearBuckets(0, 4, 10),
			}, []string{"stop"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fraudproof",
				Subsystem: "validation",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			openGauge: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "fraudproof",
				Subsystem: "validation",
				Name:      "open_disputes",
				Help:      "Disputes opened minus disputes finalized since start.",
			}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fraudproof",
				Subsystem: "validation",
				Name:      "bond_payout_total",
				Help:      "Bond value paid out on finalization, segmented by recipient role.",
			}, []string{"role"}),
		}
		prometheus.MustRegister(
			validationRegistry.outcomes,
			validationRegistry.failures,
			validationRegistry.replayed,
			validationRegistry.latency,
			validationRegistry.openGauge,
			validationRegistry.payouts,
		)
	})
	return validationRegistry
}

// ObserveOutcome counts a finalized dispute.
func (m *ValidationMetrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
	m.openGauge.Dec()
}

// ObserveOpened counts a newly opened dispute.
func (m *ValidationMetrics) ObserveOpened() {
	if m == nil {
		return
	}
	m.openGauge.Inc()
}

// ObserveFailure counts a failed engine call. Categories should be stable
// strings so dashboards and alerts remain consistent.
func (m *ValidationMetrics) ObserveFailure(operation, category string) {
	if m == nil {
		return
	}
	if category == "" {
		category = "unknown"
	}
	m.failures.WithLabelValues(operation, category).Inc()
}

// ObserveReplay records how many messages were applied before replay stopped.
func (m *ValidationMetrics) ObserveReplay(applied int, stop string) {
	if m == nil {
		return
	}
	m.replayed.WithLabelValues(stop).Observe(float64(applied))
}

// ObserveLatency records the wall time spent in an engine operation.
func (m *ValidationMetrics) ObserveLatency(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(operation).Observe(d.Seconds())
}

// ObservePayout adds a finalization payout to the per-role total. Values are
// exported as floats and lose precision beyond 2^53.
func (m *ValidationMetrics) ObservePayout(role string, amount *uint256.Int) {
	if m == nil || amount == nil {
		return
	}
	value, _ := new(big.Float).SetInt(amount.ToBig()).Float64()
	m.payouts.WithLabelValues(role).Add(value)
}
