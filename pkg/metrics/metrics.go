// Package metrics exposes Prometheus instrumentation for the identity and
// registry services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransitionsTotal counts state-machine transition attempts by edge and outcome.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdxid_transitions_total",
			Help: "Total number of instance state machine transition attempts by edge and outcome",
		},
		[]string{"edge", "outcome"},
	)

	// CurrentState reports the instance's current lifecycle state as a gauge
	// (one boolean series per state, 1 for the active state).
	CurrentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tdxid_instance_state",
			Help: "Whether the instance is currently in the given state (1) or not (0)",
		},
		[]string{"state"},
	)

	// LedgerEntriesTotal tracks the number of entries held by the registry.
	LedgerEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tdxid_registry_entries_total",
			Help: "Total number of ledger entries held by the registry",
		},
	)

	// LedgerOperationsTotal counts registry operations by kind and outcome.
	LedgerOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdxid_registry_operations_total",
			Help: "Total number of registry operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// AttestationDuration measures time spent requesting or verifying quotes.
	AttestationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tdxid_attestation_duration_seconds",
			Help:    "Time taken to request or verify a TDX quote, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// WorkloadOperationDuration measures mount/launch/ssh driver call latency.
	WorkloadOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tdxid_workload_operation_duration_seconds",
			Help:    "Time taken for workload driver operations, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// APIRequestsTotal counts HTTP requests by route and status.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdxid_api_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		},
		[]string{"route", "status"},
	)

	// APIRequestDuration measures HTTP handler latency.
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tdxid_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		TransitionsTotal,
		CurrentState,
		LedgerEntriesTotal,
		LedgerOperationsTotal,
		AttestationDuration,
		WorkloadOperationDuration,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the HTTP handler that serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
