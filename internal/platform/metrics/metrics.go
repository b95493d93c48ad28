package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. Services guard
// every increment behind a nil check so tests can run without a registry.
type Metrics struct {
	ScansValidated       *prometheus.CounterVec
	TransitionsApplied   *prometheus.CounterVec
	ContinuationsCreated prometheus.Counter
	RemovalsFinalized    prometheus.Counter
	TreatmentsCompleted  prometheus.Counter
	RegistryErrors       *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ScansValidated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "seedtrace_scans_validated_total",
			Help: "Scan validations by resolved scenario",
		}, []string{"scenario"}),
		TransitionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "seedtrace_transitions_applied_total",
			Help: "Applicator status transitions by target status",
		}, []string{"status"}),
		ContinuationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seedtrace_continuations_created_total",
			Help: "Continuation treatments created",
		}),
		RemovalsFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seedtrace_removals_finalized_total",
			Help: "Removal procedures finalized",
		}),
		TreatmentsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seedtrace_treatments_completed_total",
			Help: "Treatments marked complete",
		}),
		RegistryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "seedtrace_registry_errors_total",
			Help: "Registry gateway failures by category",
		}, []string{"category"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seedtrace_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}
