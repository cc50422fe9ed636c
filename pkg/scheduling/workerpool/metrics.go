package workerpool

import (
	"github.com/vnykmshr/hellopool/pkg/metrics"
)

// instrumentation feeds pool events into a metrics.Registry.
// A nil *instrumentation is valid and records nothing.
type instrumentation struct {
	registry *metrics.Registry
}

// NewWithMetrics creates a worker pool whose activity is recorded in the
// registry described by metricsConfig, labelled with config.Name.
// When metricsConfig.Enabled is false it behaves like NewWithConfig.
func NewWithMetrics(config Config, metricsConfig metrics.Config) (*Pool, error) {
	return NewWithRegistry(config, metricsConfig.Build())
}

// NewWithRegistry is NewWithMetrics for callers that share one Registry
// between several components. A nil registry disables metrics.
func NewWithRegistry(config Config, registry *metrics.Registry) (*Pool, error) {
	if registry == nil {
		return NewWithConfig(config)
	}
	return newPool(config, &instrumentation{registry: registry})
}

// refresh updates the current state gauges.
func (in *instrumentation) refresh(p *Pool) {
	if in == nil {
		return
	}
	name := p.config.Name
	in.registry.WorkerPoolSize.WithLabelValues(name).Set(float64(p.Size()))
	in.registry.WorkerPoolLive.WithLabelValues(name).Set(float64(p.LiveWorkers()))
	in.registry.WorkerPoolActive.WithLabelValues(name).Set(float64(p.ActiveWorkers()))
	in.registry.WorkerPoolQueued.WithLabelValues(name).Set(float64(p.QueueSize()))
}

func (in *instrumentation) submitted(p *Pool) {
	if in == nil {
		return
	}
	in.registry.TasksSubmitted.WithLabelValues(p.config.Name).Inc()
	in.registry.WorkerPoolQueued.WithLabelValues(p.config.Name).Set(float64(p.QueueSize()))
}

func (in *instrumentation) finished(p *Pool, result Result) {
	if in == nil {
		return
	}
	name := p.config.Name
	in.registry.TaskQueueWait.WithLabelValues(name).Observe(result.QueueWait.Seconds())
	in.registry.TaskExecutionDuration.WithLabelValues(name).Observe(result.Duration.Seconds())
	in.registry.TasksExecuted.WithLabelValues(name).Inc()

	if result.Error != nil {
		in.registry.TasksFailed.WithLabelValues(name).Inc()
	} else {
		in.registry.TasksCompleted.WithLabelValues(name).Inc()
	}
	if result.Panicked {
		in.registry.TaskPanics.WithLabelValues(name).Inc()
	}

	in.refresh(p)
}

func (in *instrumentation) respawned(p *Pool) {
	if in == nil {
		return
	}
	in.registry.WorkerRespawns.WithLabelValues(p.config.Name).Inc()
}

// RefreshMetrics re-publishes the pool's gauges. Gauges are also refreshed
// on every task completion; this is for periodic reporters on idle pools.
func (p *Pool) RefreshMetrics() {
	p.instr.refresh(p)
}
