package bucket

import (
	"context"
	"math"
	"time"

	"github.com/vnykmshr/hellopool/pkg/common/errors"
)

// Limit is a refill rate in tokens per second.
type Limit float64

// Inf admits everything; the bucket never empties.
var Inf = Limit(math.Inf(1))

// Every returns the Limit that adds one token per interval.
// A non-positive interval means Inf.
func Every(interval time.Duration) Limit {
	if interval <= 0 {
		return Inf
	}
	return Limit(time.Second) / Limit(interval)
}

// Limiter is a token bucket used to admit connections. Allow and AllowN
// never block; Wait and WaitN block until tokens are available or ctx ends.
type Limiter interface {
	Allow() bool
	AllowN(n int) bool
	Wait(ctx context.Context) error
	WaitN(ctx context.Context, n int) error

	// Limit returns the refill rate.
	Limit() Limit

	// Burst returns the bucket capacity.
	Burst() int

	// Tokens returns the tokens available now. It is negative while
	// waiters hold reservations.
	Tokens() float64
}

// Clock supplies the time used for refills and the timers Wait sleeps on.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is the part of *time.Timer that WaitN uses.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTimer(d time.Duration) Timer {
	return systemTimer{time.NewTimer(d)}
}

type systemTimer struct {
	*time.Timer
}

func (t systemTimer) C() <-chan time.Time { return t.Timer.C }

// Config describes a bucket.
type Config struct {
	// Rate is the number of tokens added per second. Zero means no refill.
	Rate Limit

	// Burst is the capacity of the bucket. Must be positive.
	Burst int

	// Clock defaults to the system clock.
	Clock Clock

	// InitialTokens is the starting fill. A negative value, or one above
	// Burst, starts the bucket full.
	InitialTokens int
}

// New returns a full bucket of size burst refilled at rate.
func New(rate Limit, burst int) (Limiter, error) {
	return NewWithConfig(Config{Rate: rate, Burst: burst, InitialTokens: -1})
}

// NewWithConfig validates config and returns a bucket built from it.
func NewWithConfig(config Config) (Limiter, error) {
	if config.Rate < 0 {
		return nil, errors.NewValidationError("bucket", "rate", config.Rate, "rate cannot be negative").
			WithHint("use 0 for no refill or a positive value")
	}
	if config.Burst <= 0 {
		return nil, errors.NewValidationError("bucket", "burst", config.Burst, "burst must be positive").
			WithHint("burst determines how many connections can be admitted at once")
	}

	clock := config.Clock
	if clock == nil {
		clock = systemClock{}
	}

	fill := float64(config.Burst)
	if config.InitialTokens >= 0 && config.InitialTokens <= config.Burst {
		fill = float64(config.InitialTokens)
	}

	return &tokenBucket{
		rate:     config.Rate,
		capacity: float64(config.Burst),
		burst:    config.Burst,
		tokens:   fill,
		last:     clock.Now(),
		clock:    clock,
	}, nil
}
