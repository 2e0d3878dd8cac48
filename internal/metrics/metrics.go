package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished runs by status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askshell_runs_total",
			Help: "Total number of runs finished",
		},
		[]string{"status"},
	)

	// RunDuration tracks wall time from run start to completion.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askshell_run_duration_seconds",
			Help:    "Run duration in seconds",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300, 1800},
		},
		[]string{"status"},
	)

	// RunsInProgress tracks runs whose attempt is currently executing.
	RunsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "askshell_runs_in_progress",
			Help: "Number of runs with a live process",
		},
	)

	// AttemptsTotal counts process launches.
	AttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "askshell_attempts_total",
			Help: "Total number of process launches",
		},
	)

	// RetriesTotal counts attempts after the first.
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "askshell_retries_total",
			Help: "Total number of retry attempts",
		},
	)

	// KillsTotal counts signals sent to process groups.
	KillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askshell_kills_total",
			Help: "Total number of signals sent to process groups",
		},
		[]string{"signal"},
	)

	// OutputLines counts lines read per stream.
	OutputLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askshell_output_lines_total",
			Help: "Total number of output lines read",
		},
		[]string{"stream"},
	)

	// PoolWorkersTotal tracks the configured worker pool size.
	PoolWorkersTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "askshell_pool_workers_total",
			Help: "Total number of pool workers",
		},
	)

	// PoolWorkersBusy tracks workers currently executing a task.
	PoolWorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "askshell_pool_workers_busy",
			Help: "Number of pool workers executing a task",
		},
	)

	// PoolQueueDepth tracks tasks waiting for a worker.
	PoolQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "askshell_pool_queue_depth",
			Help: "Number of tasks waiting for a pool worker",
		},
	)

	// WebhookDeliveries counts webhook delivery attempts.
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askshell_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"status"},
	)

	// HTTPRequests counts total HTTP requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askshell_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration tracks HTTP request duration.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askshell_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)
