package fileutil

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds how often and how quickly a local write is retried.
type RetryPolicy struct {
	Attempts   int
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// LogRetry is used for log lines.
var LogRetry = RetryPolicy{Attempts: 10, Delay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}

// CSVRetry is used for CSV rows.
var CSVRetry = RetryPolicy{Attempts: 4, Delay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}

// Retry calls fn until it succeeds, the attempts are used up or ctx is done.
// The last error from fn is returned.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.Delay

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", i+1, err)
		case <-timer.C:
		}

		if policy.Multiplier > 1 {
			delay = time.Duration(float64(delay) * policy.Multiplier)
		}
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
}
