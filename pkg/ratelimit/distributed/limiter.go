package distributed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/hellopool/pkg/common/errors"
	"github.com/vnykmshr/hellopool/pkg/common/validation"
)

// Limiter admits events against a budget shared by every instance that uses
// the same Redis key.
type Limiter interface {
	// Allow reports whether an event may happen now across all instances.
	Allow(ctx context.Context) bool

	// AllowN reports whether n events may happen now across all instances.
	AllowN(ctx context.Context, n int) bool

	// Wait blocks until an event can happen.
	Wait(ctx context.Context) error

	// WaitN blocks until n events can happen.
	WaitN(ctx context.Context, n int) error

	// Stats returns current limiter statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Reset clears the shared counters.
	Reset(ctx context.Context) error

	// Close deregisters this instance. The Redis client is left open.
	Close() error
}

// Stats holds distributed rate limiter statistics.
type Stats struct {
	Strategy        Strategy
	Limit           int
	Window          time.Duration
	Remaining       int
	TotalRequests   int64
	AllowedRequests int64
	DeniedRequests  int64
	ActiveInstances []string
}

// LocalLimiter is consulted instead of Redis when Redis cannot be reached.
// bucket.Limiter satisfies it.
type LocalLimiter interface {
	AllowN(n int) bool
}

// Clock provides the current time for window selection.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config holds configuration for distributed rate limiters.
type Config struct {
	// Redis client for coordination
	Redis redis.UniversalClient

	// Key is the Redis key prefix for this limiter
	Key string

	// Limit is the number of events admitted per Window
	Limit int

	// Burst is the GCRA burst size. Defaults to Limit. Ignored by FixedWindow.
	Burst int

	// Window is the accounting period. Defaults to one second.
	Window time.Duration

	// InstanceID uniquely identifies this application instance
	InstanceID string

	// FallbackToLocal enables local rate limiting if Redis is unavailable
	FallbackToLocal bool

	// LocalLimiter is used when Redis is unavailable (if FallbackToLocal is true)
	LocalLimiter LocalLimiter

	// RedisTimeout bounds every Redis round trip of the limiter. The client
	// must honour it: either Options.ContextTimeoutEnabled is set, or its
	// read and write timeouts are no longer than RedisTimeout.
	RedisTimeout time.Duration

	// RefreshInterval is the polling interval of Wait (defaults to 100ms)
	RefreshInterval time.Duration

	// KeyTTL is how long bookkeeping keys live (defaults to 1 hour)
	KeyTTL time.Duration

	// Clock selects the current window. Defaults to the system clock.
	Clock Clock

	// Logger reports Redis failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a default distributed rate limiter configuration.
func DefaultConfig() Config {
	return Config{
		Window:          time.Second,
		InstanceID:      generateInstanceID(),
		FallbackToLocal: true,
		RedisTimeout:    500 * time.Millisecond,
		RefreshInterval: 100 * time.Millisecond,
		KeyTTL:          time.Hour,
	}
}

// Strategy selects the counting algorithm.
type Strategy int

const (
	// FixedWindow counts events in aligned windows with a Lua script.
	FixedWindow Strategy = iota

	// GCRA spaces events evenly using the generic cell rate algorithm.
	GCRA
)

// String returns the string representation of Strategy
func (s Strategy) String() string {
	switch s {
	case FixedWindow:
		return "fixed_window"
	case GCRA:
		return "gcra"
	default:
		return "unknown"
	}
}

// ParseStrategy maps "fixed_window" or "gcra" to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "fixed_window", "fixed", "":
		return FixedWindow, nil
	case "gcra":
		return GCRA, nil
	default:
		return FixedWindow, errors.NewValidationError("distributed", "strategy", s, "unsupported strategy").
			WithHint("use fixed_window or gcra")
	}
}

// backend is one counting algorithm.
type backend interface {
	allowN(ctx context.Context, n int) (bool, error)
	remaining(ctx context.Context) (int, error)
	reset(ctx context.Context) error
}

// redisLimiter holds everything the strategies share: bookkeeping keys,
// instance registration and local fallback.
type redisLimiter struct {
	strategy Strategy
	config   Config
	keys     keySet
	logger   *slog.Logger
	backend  backend
}

// NewLimiter creates a new distributed rate limiter with the specified strategy.
func NewLimiter(strategy Strategy, config Config) (Limiter, error) {
	config = applyConfigDefaults(config)
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	l := &redisLimiter{
		strategy: strategy,
		config:   config,
		keys:     redisKeys(config.Key),
		logger: config.Logger.With(
			slog.String("limiter", config.Key),
			slog.String("strategy", strategy.String()),
		),
	}

	switch strategy {
	case FixedWindow:
		l.backend = newFixedWindow(config, l.keys)
	case GCRA:
		l.backend = newGCRA(config, l.keys, l.logger)
	default:
		return nil, errors.NewValidationError("distributed", "strategy", int(strategy), "unsupported strategy")
	}

	if err := l.initialize(context.Background()); err != nil {
		return nil, err
	}
	return l, nil
}

func validateConfig(config Config) error {
	if config.Redis == nil {
		return errors.NewValidationError("distributed", "Redis", nil, "redis client is required")
	}
	if err := validation.ValidateNotEmpty("distributed", "Key", config.Key); err != nil {
		return err
	}
	if err := validation.ValidatePositive("distributed", "Limit", config.Limit); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("distributed", "Burst", config.Burst); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("distributed", "Window", config.Window); err != nil {
		return err
	}
	return validateClientTimeouts(config.Redis, config.RedisTimeout)
}

// validateClientTimeouts rejects clients whose socket timeouts would outlast
// timeout. go-redis only applies context deadlines to socket I/O when
// ContextTimeoutEnabled is set.
func validateClientTimeouts(rdb redis.UniversalClient, timeout time.Duration) error {
	var (
		contextTimeouts    bool
		readTimeout, write time.Duration
	)
	switch c := rdb.(type) {
	case *redis.Client:
		opt := c.Options()
		contextTimeouts, readTimeout, write = opt.ContextTimeoutEnabled, opt.ReadTimeout, opt.WriteTimeout
	case *redis.ClusterClient:
		opt := c.Options()
		contextTimeouts, readTimeout, write = opt.ContextTimeoutEnabled, opt.ReadTimeout, opt.WriteTimeout
	default:
		return nil
	}

	if contextTimeouts {
		return nil
	}
	for _, d := range []time.Duration{readTimeout, write} {
		if d <= 0 || d > timeout {
			return errors.NewValidationError("distributed", "Redis", d.String(),
				"client socket timeout exceeds RedisTimeout "+timeout.String()).
				WithHint("set redis.Options.ContextTimeoutEnabled or lower ReadTimeout and WriteTimeout")
		}
	}
	return nil
}

func applyConfigDefaults(config Config) Config {
	if config.Burst == 0 {
		config.Burst = config.Limit
	}
	if config.Window == 0 {
		config.Window = time.Second
	}
	if config.InstanceID == "" {
		config.InstanceID = generateInstanceID()
	}
	if config.RedisTimeout == 0 {
		config.RedisTimeout = 500 * time.Millisecond
	}
	if config.RefreshInterval == 0 {
		config.RefreshInterval = 100 * time.Millisecond
	}
	if config.KeyTTL == 0 {
		config.KeyTTL = time.Hour
	}
	if config.Clock == nil {
		config.Clock = systemClock{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return config
}

// initialize publishes the configuration and registers this instance.
// Existing counters are kept so a restarting instance does not wipe them.
func (l *redisLimiter) initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.config.RedisTimeout)
	defer cancel()

	pipe := l.config.Redis.Pipeline()
	pipe.HSet(ctx, l.keys.config, map[string]interface{}{
		"strategy":  l.strategy.String(),
		"limit":     l.config.Limit,
		"burst":     l.config.Burst,
		"window_ms": l.config.Window.Milliseconds(),
	})
	pipe.Expire(ctx, l.keys.config, l.config.KeyTTL)
	pipe.HIncrBy(ctx, l.keys.stats, statTotal, 0)
	pipe.Expire(ctx, l.keys.stats, l.config.KeyTTL)
	pipe.SAdd(ctx, l.keys.instances, l.config.InstanceID)
	pipe.Expire(ctx, l.keys.instances, l.config.KeyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewOperationError("distributed", "initialize", err).WithContext(l.config.Key)
	}
	return nil
}

// Allow reports whether an event may happen now.
func (l *redisLimiter) Allow(ctx context.Context) bool {
	return l.AllowN(ctx, 1)
}

// AllowN reports whether n events may happen now. When Redis fails the
// local fallback decides, or the event is denied if there is none.
func (l *redisLimiter) AllowN(ctx context.Context, n int) bool {
	if n <= 0 {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, l.config.RedisTimeout)
	defer cancel()

	allowed, err := l.backend.allowN(ctx, n)
	if err != nil {
		if l.config.FallbackToLocal && l.config.LocalLimiter != nil {
			l.logger.Warn("redis unavailable, using local limiter", slog.Any("error", err))
			return l.config.LocalLimiter.AllowN(n)
		}
		l.logger.Error("redis unavailable, denying", slog.Any("error", err))
		return false
	}
	return allowed
}

// Wait blocks until an event can happen.
func (l *redisLimiter) Wait(ctx context.Context) error {
	return l.WaitN(ctx, 1)
}

// WaitN polls AllowN every RefreshInterval until it succeeds or ctx ends.
func (l *redisLimiter) WaitN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	capacity := l.config.Limit
	if l.strategy == GCRA {
		capacity = l.config.Burst
	}
	if n > capacity {
		return fmt.Errorf("distributed: %d events can never be admitted at once: %w", n, errors.ErrCapacityExceeded)
	}

	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()

	for {
		if l.AllowN(ctx, n) {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats returns current limiter statistics.
func (l *redisLimiter) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.RedisTimeout)
	defer cancel()

	pipe := l.config.Redis.Pipeline()
	statsCmd := pipe.HGetAll(ctx, l.keys.stats)
	instancesCmd := pipe.SMembers(ctx, l.keys.instances)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, errors.NewOperationError("distributed", "stats", err).WithContext(l.config.Key)
	}

	remaining, err := l.backend.remaining(ctx)
	if err != nil {
		return nil, errors.NewOperationError("distributed", "stats", err).WithContext(l.config.Key)
	}

	counters := statsCmd.Val()
	return &Stats{
		Strategy:        l.strategy,
		Limit:           l.config.Limit,
		Window:          l.config.Window,
		Remaining:       remaining,
		TotalRequests:   parseInt64(counters[statTotal]),
		AllowedRequests: parseInt64(counters[statAllowed]),
		DeniedRequests:  parseInt64(counters[statDenied]),
		ActiveInstances: instancesCmd.Val(),
	}, nil
}

// Reset clears the counters of every instance and re-registers this one.
func (l *redisLimiter) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.config.RedisTimeout)
	defer cancel()

	if err := l.backend.reset(ctx); err != nil {
		return errors.NewOperationError("distributed", "reset", err).WithContext(l.config.Key)
	}
	if err := l.config.Redis.Del(ctx, l.keys.stats, l.keys.instances, l.keys.config).Err(); err != nil {
		return errors.NewOperationError("distributed", "reset", err).WithContext(l.config.Key)
	}
	return l.initialize(ctx)
}

// Close cleanly shuts down the limiter.
func (l *redisLimiter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.config.RedisTimeout)
	defer cancel()

	if err := l.config.Redis.SRem(ctx, l.keys.instances, l.config.InstanceID).Err(); err != nil {
		return errors.NewOperationError("distributed", "close", err).WithContext(l.config.Key)
	}
	return nil
}
