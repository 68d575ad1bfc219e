package support

import (
	"time"

	"github.com/charmbracelet/log"
)

// RetryPolicy re-runs an operation a bounded number of times with a delay
// between attempts. Backoff multiplies the delay after each failure; a value
// of 0 or 1 keeps it constant. The last error is returned on exhaustion, it
// is never swallowed.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     float64

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

func NewRetryPolicy(maxAttempts int, delay time.Duration, backoff float64) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, Delay: delay, Backoff: backoff}
}

// Do runs op until it succeeds or the attempt budget is spent.
func (p RetryPolicy) Do(name string, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	delay := p.Delay
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		log.Warn("Operation failed, retrying", "op", name, "attempt", attempt, "delay", delay, "error", err)
		sleep(delay)
		if p.Backoff > 1 {
			delay = time.Duration(float64(delay) * p.Backoff)
		}
	}

	log.Error("Operation failed after all attempts", "op", name, "attempts", attempts, "error", err)
	return err
}
