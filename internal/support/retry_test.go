package support

import (
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond, 1)
	policy.sleep = func(time.Duration) {}

	calls := 0
	err := policy.Do("flaky", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("op ran %d times, want 3", calls)
	}
}

func TestRetryReturnsLastErrorOnExhaustion(t *testing.T) {
	policy := NewRetryPolicy(2, time.Millisecond, 1)
	policy.sleep = func(time.Duration) {}

	lastErr := errors.New("still broken")
	calls := 0
	err := policy.Do("broken", func() error {
		calls++
		return lastErr
	})

	if !errors.Is(err, lastErr) {
		t.Fatalf("Do returned %v, want the last error", err)
	}
	if calls != 2 {
		t.Fatalf("op ran %d times, want 2", calls)
	}
}

func TestRetryBackoffGrowsDelay(t *testing.T) {
	policy := NewRetryPolicy(3, 100*time.Millisecond, 2)

	var delays []time.Duration
	policy.sleep = func(d time.Duration) { delays = append(delays, d) }

	_ = policy.Do("always failing", func() error { return errors.New("nope") })

	if len(delays) != 2 {
		t.Fatalf("slept %d times, want 2", len(delays))
	}
	if delays[0] != 100*time.Millisecond || delays[1] != 200*time.Millisecond {
		t.Fatalf("delays were %v, want [100ms 200ms]", delays)
	}
}

func TestRetryZeroAttemptsStillRunsOnce(t *testing.T) {
	policy := NewRetryPolicy(0, 0, 0)
	policy.sleep = func(time.Duration) {}

	calls := 0
	_ = policy.Do("once", func() error {
		calls++
		return errors.New("fail")
	})

	if calls != 1 {
		t.Fatalf("op ran %d times, want 1", calls)
	}
}
