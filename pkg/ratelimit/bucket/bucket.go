package bucket

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vnykmshr/hellopool/pkg/common/errors"
)

type tokenBucket struct {
	mu       sync.Mutex
	rate     Limit
	capacity float64
	burst    int
	tokens   float64
	last     time.Time
	clock    Clock
}

func (tb *tokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN takes n tokens if all of them are available, and nothing otherwise.
func (tb *tokenBucket) AllowN(n int) bool {
	if n <= 0 {
		return true
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.rate == Inf {
		return true
	}
	tb.advance()
	if tb.tokens < float64(n) {
		return false
	}
	tb.tokens -= float64(n)
	return true
}

func (tb *tokenBucket) Wait(ctx context.Context) error {
	return tb.WaitN(ctx, 1)
}

// WaitN takes n tokens immediately, borrowing against future refills, and
// sleeps until the debt is repaid. If ctx ends first the tokens are returned.
func (tb *tokenBucket) WaitN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	delay, err := tb.borrow(n)
	if err != nil || delay <= 0 {
		return err
	}

	timer := tb.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		tb.giveBack(n)
		return ctx.Err()
	}
}

func (tb *tokenBucket) Limit() Limit {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.rate
}

func (tb *tokenBucket) Burst() int {
	return tb.burst
}

func (tb *tokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.rate == Inf {
		return tb.capacity
	}
	tb.advance()
	return tb.tokens
}

func (tb *tokenBucket) borrow(n int) (time.Duration, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.rate == Inf {
		return 0, nil
	}
	if n > tb.burst {
		return 0, fmt.Errorf("bucket: requested %d tokens exceeds burst %d: %w", n, tb.burst, errors.ErrCapacityExceeded)
	}

	tb.advance()
	short := float64(n) - tb.tokens
	if short > 0 && tb.rate == 0 {
		return 0, fmt.Errorf("bucket: zero rate cannot refill: %w", errors.ErrRateLimited)
	}
	tb.tokens -= float64(n)
	if short <= 0 {
		return 0, nil
	}
	return time.Duration(short / float64(tb.rate) * float64(time.Second)), nil
}

func (tb *tokenBucket) giveBack(n int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.advance()
	tb.tokens = math.Min(tb.tokens+float64(n), tb.capacity)
}

// advance credits the tokens earned since the last call. Callers hold mu.
func (tb *tokenBucket) advance() {
	now := tb.clock.Now()
	elapsed := now.Sub(tb.last)
	if elapsed <= 0 {
		return
	}
	tb.last = now
	if tb.rate > 0 {
		tb.tokens = math.Min(tb.tokens+elapsed.Seconds()*float64(tb.rate), tb.capacity)
	}
}
