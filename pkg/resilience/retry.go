package resilience

import (
	"context"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryConfig configures RetryWithResult.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// RetryableErrors reports whether err is worth another attempt. nil
	// means nothing is retried.
	RetryableErrors func(error) bool
	// DelayHint returns a server-supplied delay carried by err, if any. It
	// takes precedence over the computed backoff but is still capped at
	// MaxDelay.
	DelayHint func(error) (time.Duration, bool)
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
	Sleep   SleepFunc
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   DefaultRetryMaxAttempts,
		InitialDelay:  DefaultRetryInitialDelay,
		MaxDelay:      DefaultRetryMaxDelay,
		BackoffFactor: DefaultRetryBackoffFactor,
	}
}

// ContextSleep waits on a timer and returns early with ctx.Err() when the
// context ends. Other goroutines are never blocked.
func ContextSleep(ctx context.Context, d time.Duration) error {
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

// RetryWithResult calls fn up to MaxAttempts times. Non-retryable errors and
// the error of the final attempt are returned as-is.
func RetryWithResult[T any](ctx context.Context, config *RetryConfig, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	sleep := config.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := config.InitialDelay

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		if config.RetryableErrors == nil || !config.RetryableErrors(err) || attempt >= maxAttempts {
			return result, err
		}

		wait := delay
		if config.DelayHint != nil {
			if hint, ok := config.DelayHint(err); ok {
				wait = hint
				if config.MaxDelay > 0 && wait > config.MaxDelay {
					wait = config.MaxDelay
				}
			}
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt, wait, err)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return zero, serr
		}

		if config.BackoffFactor > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if config.MaxDelay > 0 && delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
	}
}
