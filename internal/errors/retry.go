package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	MaxAttempts  int           // retries after the first attempt
	BaseDelay    time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap applied before jitter
	JitterFactor float64       // 0.2 = ±20%
}

// DefaultRetryConfig returns the persistence-layer defaults: 3 attempts,
// 50ms base, 500ms cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		JitterFactor: 0,
	}
}

// Backoff returns the delay before the k-th retry (k starts at 1):
// base·2^(k-1), capped at MaxDelay, then jittered by ±JitterFactor.
func (c RetryConfig) Backoff(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(2, float64(k-1)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	if c.JitterFactor > 0 {
		jitter := (rand.Float64()*2 - 1) * c.JitterFactor * float64(delay)
		delay = time.Duration(float64(delay) + jitter)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// Retry executes fn, retrying transient failures with exponential backoff.
// Permanent errors and context cancellation stop the loop immediately.
func Retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-time.After(config.Backoff(attempt + 1)):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
