package bucket

import (
	"context"

	"github.com/vnykmshr/hellopool/pkg/metrics"
)

const limiterType = "token_bucket"

// MetricsLimiter wraps a Limiter with Prometheus metrics collection.
type MetricsLimiter struct {
	Limiter
	name     string
	registry *metrics.Registry
}

// NewWithMetrics creates a token bucket whose decisions are counted in the
// registry described by metricsConfig. With metrics disabled the plain
// limiter is returned.
func NewWithMetrics(config Config, name string, metricsConfig metrics.Config) (Limiter, error) {
	return NewWithRegistry(config, name, metricsConfig.Build())
}

// NewWithRegistry is NewWithMetrics with an already built registry.
// A nil registry disables metrics.
func NewWithRegistry(config Config, name string, registry *metrics.Registry) (Limiter, error) {
	base, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	if registry == nil {
		return base, nil
	}

	return &MetricsLimiter{
		Limiter:  base,
		name:     name,
		registry: registry,
	}, nil
}

// Allow reports whether an event may happen now.
func (ml *MetricsLimiter) Allow() bool {
	return ml.AllowN(1)
}

// AllowN reports whether n events may happen now.
func (ml *MetricsLimiter) AllowN(n int) bool {
	ml.registry.RateLimitRequests.WithLabelValues(limiterType, ml.name).Add(float64(n))

	allowed := ml.Limiter.AllowN(n)
	if allowed {
		ml.registry.RateLimitAllowed.WithLabelValues(limiterType, ml.name).Add(float64(n))
	} else {
		ml.registry.RateLimitDenied.WithLabelValues(limiterType, ml.name).Add(float64(n))
	}
	return allowed
}

// Wait blocks until an event can happen.
func (ml *MetricsLimiter) Wait(ctx context.Context) error {
	return ml.WaitN(ctx, 1)
}

// WaitN blocks until n events can happen.
func (ml *MetricsLimiter) WaitN(ctx context.Context, n int) error {
	ml.registry.RateLimitRequests.WithLabelValues(limiterType, ml.name).Add(float64(n))

	err := ml.Limiter.WaitN(ctx, n)
	if err == nil {
		ml.registry.RateLimitAllowed.WithLabelValues(limiterType, ml.name).Add(float64(n))
	} else {
		ml.registry.RateLimitDenied.WithLabelValues(limiterType, ml.name).Add(float64(n))
	}
	return err
}
