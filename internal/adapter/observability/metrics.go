package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_processed_total",
			Help: "Total number of stage jobs processed by terminal status",
		},
		[]string{"stage", "status"},
	)
	JobsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_jobs_in_flight",
			Help: "Number of stage jobs currently processing",
		},
		[]string{"stage"},
	)
	GhostJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_ghost_jobs_total",
			Help: "Stream entries whose envelope was missing or expired",
		},
		[]string{"stage"},
	)
	MessagesReclaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_reclaimed_total",
			Help: "Pending stream messages reclaimed by the recovery loop",
		},
		[]string{"stage"},
	)

	URLsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_urls_submitted_total",
			Help: "URL submission outcomes by provider and status",
		},
		[]string{"provider", "status"},
	)
	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_provider_request_duration_seconds",
			Help:    "Provider HTTP request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	SchedulerCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_cycles_total",
			Help: "Total number of completed scheduling cycles",
		},
	)
	SchedulerShopsScheduled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_last_scheduled_shops",
			Help: "Shops scheduled in the last cycle",
		},
	)
	SchedulerShopsSkipped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_last_skipped_shops",
			Help: "Shops skipped in the last cycle",
		},
	)
)

// InitMetrics registers all collectors with the default registry. Safe to
// call once per process.
func InitMetrics() {
	prometheus.MustRegister(
		JobsProcessedTotal,
		JobsInFlight,
		GhostJobsTotal,
		MessagesReclaimedTotal,
		URLsSubmittedTotal,
		ProviderRequestDuration,
		SchedulerCyclesTotal,
		SchedulerShopsScheduled,
		SchedulerShopsSkipped,
	)
}
