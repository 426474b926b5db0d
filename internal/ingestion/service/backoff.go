package service

import (
	"context"
	"time"
)

const (
	maxChunkAttempts = 3
	maxRetryDelay    = 30 * time.Second
)

// retryDelay doubles per attempt, starting at base: base, 2*base, 4*base.
func retryDelay(attempt int, base time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

// sleep waits for d, returning early when the context ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
