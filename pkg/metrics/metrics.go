package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for hellopool components.
type Registry struct {
	// Worker Pool Metrics
	TasksSubmitted        *prometheus.CounterVec
	TasksExecuted         *prometheus.CounterVec
	TasksCompleted        *prometheus.CounterVec
	TasksFailed           *prometheus.CounterVec
	TaskPanics            *prometheus.CounterVec
	TaskQueueWait         *prometheus.HistogramVec
	TaskExecutionDuration *prometheus.HistogramVec
	WorkerPoolSize        *prometheus.GaugeVec
	WorkerPoolLive        *prometheus.GaugeVec
	WorkerPoolActive      *prometheus.GaugeVec
	WorkerPoolQueued      *prometheus.GaugeVec
	WorkerRespawns        *prometheus.CounterVec

	// Dispatcher Metrics
	ConnectionsAccepted *prometheus.CounterVec
	ConnectionsRejected *prometheus.CounterVec
	Responses           *prometheus.CounterVec

	// Rate Limiting Metrics
	RateLimitRequests *prometheus.CounterVec
	RateLimitAllowed  *prometheus.CounterVec
	RateLimitDenied   *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by hellopool components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithNamespace(reg, DefaultNamespace)
}

// NewRegistryWithNamespace is NewRegistry with a custom metric namespace.
func NewRegistryWithNamespace(reg prometheus.Registerer, ns string) *Registry {
	factory := promauto.With(reg)

	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	histogram := func(subsystem, name, help string, labels ...string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		}, labels)
	}

	return &Registry{
		TasksSubmitted: counter("workerpool", "tasks_submitted_total",
			"Total number of tasks accepted by Submit", "pool_name"),
		TasksExecuted: counter("workerpool", "tasks_executed_total",
			"Total number of tasks executed", "pool_name"),
		TasksCompleted: counter("workerpool", "tasks_completed_total",
			"Total number of tasks completed successfully", "pool_name"),
		TasksFailed: counter("workerpool", "tasks_failed_total",
			"Total number of tasks that returned an error or panicked", "pool_name"),
		TaskPanics: counter("workerpool", "task_panics_total",
			"Total number of tasks that panicked", "pool_name"),
		TaskQueueWait: histogram("workerpool", "task_queue_wait_seconds",
			"Time tasks spent in the shared queue", "pool_name"),
		TaskExecutionDuration: histogram("workerpool", "task_duration_seconds",
			"Time spent executing tasks", "pool_name"),
		WorkerPoolSize: gauge("workerpool", "size",
			"Configured worker pool size", "pool_name"),
		WorkerPoolLive: gauge("workerpool", "live_workers",
			"Number of workers that have not stopped", "pool_name"),
		WorkerPoolActive: gauge("workerpool", "active_workers",
			"Number of workers executing a task", "pool_name"),
		WorkerPoolQueued: gauge("workerpool", "queued_tasks",
			"Number of queued tasks", "pool_name"),
		WorkerRespawns: counter("workerpool", "worker_respawns_total",
			"Total number of workers replaced after a task panic", "pool_name"),

		ConnectionsAccepted: counter("server", "connections_accepted_total",
			"Total number of accepted connections", "server_name"),
		ConnectionsRejected: counter("server", "connections_rejected_total",
			"Total number of connections turned away before queueing", "server_name", "reason"),
		Responses: counter("server", "responses_total",
			"Total number of responses written by status code", "server_name", "code"),

		RateLimitRequests: counter("ratelimit", "requests_total",
			"Total number of rate limit requests", "limiter_type", "limiter_name"),
		RateLimitAllowed: counter("ratelimit", "allowed_total",
			"Total number of allowed requests", "limiter_type", "limiter_name"),
		RateLimitDenied: counter("ratelimit", "denied_total",
			"Total number of denied requests", "limiter_type", "limiter_name"),
	}
}
