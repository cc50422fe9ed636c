package testutil

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventually(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		calls := 0
		Eventually(t, func() bool {
			calls++
			return true
		}, 100*time.Millisecond, 10*time.Millisecond)

		if calls != 1 {
			t.Errorf("condition called %d times, want 1", calls)
		}
	})

	t.Run("condition met after delay", func(t *testing.T) {
		var flag atomic.Bool
		go func() {
			time.Sleep(30 * time.Millisecond)
			flag.Store(true)
		}()

		Eventually(t, flag.Load, time.Second, 5*time.Millisecond)
	})
}

func TestWaitClosed(t *testing.T) {
	ch := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(ch)
	}()
	WaitClosed(t, ch, time.Second)
}

func TestAssertions(t *testing.T) {
	base := errors.New("base")
	AssertErrorIs(t, fmt.Errorf("wrapped: %w", base), base)
	AssertError(t, base)
	AssertNoError(t, nil)
	AssertEqual(t, 3, 3)
	AssertNotEqual(t, "a", "b")
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(t)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("context should carry a deadline")
	}
	if until := time.Until(deadline); until <= 0 || until > TestTimeout {
		t.Errorf("deadline %v out of range", until)
	}
}
