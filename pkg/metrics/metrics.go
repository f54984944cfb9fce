package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Work queue metrics
	WorkItemsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_work_items_total",
			Help: "Number of work items by status",
		},
		[]string{"status"},
	)

	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_agents_total",
			Help: "Number of registered agents by status",
		},
		[]string{"status"},
	)

	// Claim engine metrics
	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_claims_total",
			Help: "Total claim attempts by outcome",
		},
		[]string{"outcome"},
	)

	CompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_completions_total",
			Help: "Total terminal transitions by result",
		},
		[]string{"result"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corral_operation_duration_seconds",
			Help:    "Claim engine operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// State store metrics
	LockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corral_lock_wait_seconds",
			Help:    "Time spent waiting for the coordination lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	LockTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_lock_timeouts_total",
			Help: "Total lock acquisitions that timed out",
		},
	)

	// Span writer metrics
	SpanWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_span_write_failures_total",
			Help: "Total span log writes that failed",
		},
	)

	SpansWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_spans_written_total",
			Help: "Total span records appended to the span log",
		},
	)

	// Maintenance metrics
	MaintenanceRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_maintenance_runs_total",
			Help: "Total maintenance job runs by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	MaintenanceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corral_maintenance_duration_seconds",
			Help:    "Maintenance job duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	HealthScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_health_score",
			Help: "Last computed coordination health score (0-100)",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(WorkItemsTotal)
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(ClaimsTotal)
	prometheus.MustRegister(CompletionsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(LockWaitDuration)
	prometheus.MustRegister(LockTimeoutsTotal)
	prometheus.MustRegister(SpanWriteFailures)
	prometheus.MustRegister(SpansWritten)
	prometheus.MustRegister(MaintenanceRunsTotal)
	prometheus.MustRegister(MaintenanceDuration)
	prometheus.MustRegister(HealthScore)
}

// Handler returns the Prometheus HTTP handler for embedders that run
// the maintenance daemon with a scrape endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
