// Package retry provides a bounded retry loop with fixed backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // Total attempts including the first (minimum 1)
	Backoff     time.Duration // Fixed wait between attempts
}

// Once returns the store policy: one retry after a fixed backoff.
func Once(backoff time.Duration) Config {
	return Config{MaxAttempts: 2, Backoff: backoff}
}

// RetryableError wraps an error that should be retried.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return e.Err.Error()
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error should be retried.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// Retryable wraps an error to mark it as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// Do executes fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. onRetry, if non-nil, runs before each wait.
func Do(ctx context.Context, cfg Config, onRetry func(attempt int, err error), fn func() error) error {
	_, err := DoWithResult(ctx, cfg, onRetry, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn with retries and returns a result.
func DoWithResult[T any](ctx context.Context, cfg Config, onRetry func(attempt int, err error), fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}

		lastErr = err

		if !IsRetryable(err) || attempt == attempts {
			break
		}

		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(cfg.Backoff):
		}
	}

	return result, lastErr
}
