package bucket

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hperrors "github.com/vnykmshr/hellopool/pkg/common/errors"
	"github.com/vnykmshr/hellopool/pkg/metrics"
)

// mockClock adapts quartz.Mock to Clock. Every timer it creates is
// announced on timers so tests can advance exactly to its deadline.
type mockClock struct {
	*quartz.Mock
	timers chan time.Duration
}

func newMockClock(t *testing.T) mockClock {
	return mockClock{Mock: quartz.NewMock(t), timers: make(chan time.Duration, 16)}
}

func (c mockClock) Now() time.Time {
	return c.Mock.Now()
}

func (c mockClock) NewTimer(d time.Duration) Timer {
	timer := mockTimer{c.Mock.NewTimer(d)}
	c.timers <- d
	return timer
}

type mockTimer struct {
	*quartz.Timer
}

func (t mockTimer) C() <-chan time.Time { return t.Timer.C }

func (t mockTimer) Stop() bool { return t.Timer.Stop() }

func newMockBucket(t *testing.T, rate Limit, burst int) (Limiter, mockClock) {
	t.Helper()
	clock := newMockClock(t)
	limiter, err := NewWithConfig(Config{
		Rate:          rate,
		Burst:         burst,
		Clock:         clock,
		InitialTokens: -1,
	})
	require.NoError(t, err)
	return limiter, clock
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		rate    Limit
		burst   int
		wantErr bool
	}{
		{"valid parameters", 10, 5, false},
		{"zero rate", 0, 5, false},
		{"infinite rate", Inf, 5, false},
		{"negative rate", -1, 5, true},
		{"zero burst", 10, 0, true},
		{"negative burst", 10, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, err := New(tt.rate, tt.burst)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, hperrors.IsValidationError(err))
				assert.ErrorIs(t, err, hperrors.ErrInvalidConfiguration)
				assert.Nil(t, limiter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rate, limiter.Limit())
			assert.Equal(t, tt.burst, limiter.Burst())
			assert.Equal(t, float64(tt.burst), limiter.Tokens())
		})
	}
}

func TestEvery(t *testing.T) {
	assert.Equal(t, Limit(10), Every(100*time.Millisecond))
	assert.Equal(t, Limit(1), Every(time.Second))
	assert.Equal(t, Inf, Every(0))
	assert.Equal(t, Inf, Every(-time.Second))
}

func TestAllowConsumesBurstThenRefills(t *testing.T) {
	limiter, mock := newMockBucket(t, 10, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow(), "request %d within burst", i)
	}
	assert.False(t, limiter.Allow())

	mock.Advance(100 * time.Millisecond)
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())

	mock.Advance(time.Second)
	assert.Equal(t, float64(3), limiter.Tokens(), "refill is capped at burst")
}

func TestAllowNIsAllOrNothing(t *testing.T) {
	limiter, mock := newMockBucket(t, 1, 5)

	assert.True(t, limiter.AllowN(3))
	assert.False(t, limiter.AllowN(3))
	assert.Equal(t, float64(2), limiter.Tokens())

	mock.Advance(time.Second)
	assert.True(t, limiter.AllowN(3))
	assert.True(t, limiter.AllowN(0))
}

func TestInitialTokens(t *testing.T) {
	mock := newMockClock(t)
	limiter, err := NewWithConfig(Config{
		Rate:          1,
		Burst:         5,
		Clock:         mock,
		InitialTokens: 0,
	})
	require.NoError(t, err)

	assert.False(t, limiter.Allow())
	mock.Advance(2 * time.Second)
	assert.True(t, limiter.AllowN(2))
}

func TestInfiniteRate(t *testing.T) {
	limiter, _ := newMockBucket(t, Inf, 1)
	for i := 0; i < 100; i++ {
		require.True(t, limiter.Allow())
	}
	require.NoError(t, limiter.WaitN(context.Background(), 50))
}

func TestZeroRate(t *testing.T) {
	limiter, mock := newMockBucket(t, 0, 2)

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())

	mock.Advance(time.Hour)
	assert.False(t, limiter.Allow())

	err := limiter.Wait(context.Background())
	assert.ErrorIs(t, err, hperrors.ErrRateLimited)
}

func TestWaitReturnsImmediatelyWithTokens(t *testing.T) {
	limiter, err := New(1, 2)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	require.NoError(t, limiter.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitBlocksForRefill(t *testing.T) {
	limiter, err := New(20, 1)
	require.NoError(t, err)
	require.True(t, limiter.Allow())

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitSleepsOnClock(t *testing.T) {
	limiter, clock := newMockBucket(t, 2, 1)
	require.True(t, limiter.Allow())

	done := make(chan error, 1)
	go func() { done <- limiter.Wait(context.Background()) }()

	var delay time.Duration
	select {
	case delay = <-clock.timers:
	case <-time.After(time.Second):
		t.Fatal("Wait did not start a timer")
	}
	assert.Equal(t, 500*time.Millisecond, delay)

	select {
	case <-done:
		t.Fatal("Wait returned before the clock moved")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(delay)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the clock advanced")
	}
	assert.InDelta(t, 0, limiter.Tokens(), 1e-9)
}

func TestWaitCanceledOnMockClockGivesTokensBack(t *testing.T) {
	limiter, clock := newMockBucket(t, 1, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- limiter.Wait(ctx) }()

	<-clock.timers
	assert.InDelta(t, -1, limiter.Tokens(), 1e-9, "tokens are borrowed while waiting")

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.InDelta(t, 0, limiter.Tokens(), 1e-9)
}

func TestWaitNExceedingBurst(t *testing.T) {
	limiter, err := New(10, 2)
	require.NoError(t, err)

	err = limiter.WaitN(context.Background(), 3)
	assert.ErrorIs(t, err, hperrors.ErrCapacityExceeded)
	assert.Equal(t, float64(2), limiter.Tokens(), "failed wait takes nothing")
}

func TestWaitCanceledRestoresTokens(t *testing.T) {
	limiter, err := New(0.5, 1)
	require.NoError(t, err)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, limiter.Tokens(), 0.5, "reservation given back")
	assert.GreaterOrEqual(t, limiter.Tokens(), 0.0)
}

func TestWaitAlreadyCanceled(t *testing.T) {
	limiter, err := New(1, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, limiter.Wait(ctx), context.Canceled)
	assert.Equal(t, float64(1), limiter.Tokens())
}

func TestConcurrentAllowNeverExceedsBurst(t *testing.T) {
	limiter, _ := newMockBucket(t, 1, 50)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if limiter.Allow() {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load())
	assert.True(t, math.Abs(limiter.Tokens()) < 1e-9)
}

func TestNewWithMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mcfg := metrics.Config{Enabled: true, Registry: reg}

	limiter, err := NewWithMetrics(Config{Rate: 0, Burst: 2, InitialTokens: -1}, "admission", mcfg)
	require.NoError(t, err)
	require.IsType(t, &MetricsLimiter{}, limiter)

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())

	ml := limiter.(*MetricsLimiter)
	assert.Equal(t, 3.0, promtest.ToFloat64(ml.registry.RateLimitRequests.WithLabelValues(limiterType, "admission")))
	assert.Equal(t, 2.0, promtest.ToFloat64(ml.registry.RateLimitAllowed.WithLabelValues(limiterType, "admission")))
	assert.Equal(t, 1.0, promtest.ToFloat64(ml.registry.RateLimitDenied.WithLabelValues(limiterType, "admission")))
}

func TestNewWithMetricsDisabled(t *testing.T) {
	limiter, err := NewWithMetrics(Config{Rate: 1, Burst: 1}, "off", metrics.Config{})
	require.NoError(t, err)
	_, wrapped := limiter.(*MetricsLimiter)
	assert.False(t, wrapped)

	_, err = NewWithMetrics(Config{Rate: 1, Burst: 0}, "bad", metrics.Config{})
	assert.Error(t, err)
}
