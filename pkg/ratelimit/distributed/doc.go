// Package distributed provides connection admission shared by several
// hellopool instances, using Redis as the coordination backend.
//
// Two strategies are available:
//
//   - FixedWindow: a Lua script counts events per aligned window. Simple and
//     exact inside a window, but allows up to twice the limit across a
//     window edge.
//   - GCRA: delegates to github.com/go-redis/redis_rate, which spaces events
//     evenly and supports a burst.
//
// Basic usage:
//
//	rdb := redis.NewClient(&redis.Options{
//		Addr:                  "localhost:6379",
//		ContextTimeoutEnabled: true,
//	})
//
//	limiter, err := distributed.NewLimiter(distributed.FixedWindow, distributed.Config{
//		Redis:  rdb,
//		Key:    "hellopool:admission",
//		Limit:  100,
//		Window: time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	defer limiter.Close()
//
//	if limiter.Allow(ctx) {
//		// admit the connection
//	}
//
// # Fallback
//
// When Redis fails, AllowN consults Config.LocalLimiter if FallbackToLocal
// is set, and denies otherwise. A bucket.Limiter sized to this instance's
// share of the global limit is the usual choice.
//
// Stats and instance registration live under the same key prefix, so every
// instance sees the same totals.
package distributed
