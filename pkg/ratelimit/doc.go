/*
Package ratelimit provides the admission limiters used in front of the
worker pool.

  - bucket: in-process token bucket allowing controlled bursts
  - distributed: a budget shared by several instances through Redis,
    counted in fixed windows or with GCRA

Token bucket:

	limiter, err := bucket.New(10, 5) // 10 tokens/sec, burst of 5
	if err != nil {
		return err
	}
	if limiter.Allow() {
		// admit
	}

Distributed:

	limiter, err := distributed.NewLimiter(distributed.FixedWindow, distributed.Config{
		Redis:           rdb,
		Key:             "hellopool:admission",
		Limit:           100,
		FallbackToLocal: true,
		LocalLimiter:    local, // consulted while Redis is down
	})

All limiters are safe for concurrent use.
*/
package ratelimit
