package distributed

import (
	"context"
	"log/slog"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// gcra delegates to redis_rate, which keeps one timestamp per key and
// therefore has no window edges.
type gcra struct {
	rdb     redis.UniversalClient
	limiter *redis_rate.Limiter
	keys    keySet
	limit   redis_rate.Limit
	logger  *slog.Logger
}

func newGCRA(config Config, keys keySet, logger *slog.Logger) *gcra {
	return &gcra{
		logger:  logger,
		rdb:     config.Redis,
		limiter: redis_rate.NewLimiter(config.Redis),
		keys:    keys,
		limit: redis_rate.Limit{
			Rate:   config.Limit,
			Burst:  config.Burst,
			Period: config.Window,
		},
	}
}

func (g *gcra) allowN(ctx context.Context, n int) (bool, error) {
	res, err := g.limiter.AllowN(ctx, g.keys.gcra, g.limit, n)
	if err != nil {
		return false, err
	}
	allowed := res.Allowed > 0

	outcome := statDenied
	if allowed {
		outcome = statAllowed
	}
	pipe := g.rdb.Pipeline()
	pipe.HIncrBy(ctx, g.keys.stats, statTotal, int64(n))
	pipe.HIncrBy(ctx, g.keys.stats, outcome, int64(n))
	// The decision is already recorded by redis_rate; a failed counter
	// update must not hand it to the fallback.
	if _, err := pipe.Exec(ctx); err != nil {
		g.logger.Warn("could not update limiter stats", slog.Any("error", err))
	}
	return allowed, nil
}

// remaining asks for zero events, which reports state without consuming.
func (g *gcra) remaining(ctx context.Context) (int, error) {
	res, err := g.limiter.AllowN(ctx, g.keys.gcra, g.limit, 0)
	if err != nil {
		return 0, err
	}
	return res.Remaining, nil
}

func (g *gcra) reset(ctx context.Context) error {
	return g.limiter.Reset(ctx, g.keys.gcra)
}
