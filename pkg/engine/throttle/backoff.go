package throttle

import (
	"context"
	"errors"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// Backoff is a capped exponential retry policy.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultBackoff starts at 100ms, triples, caps at 2s and gives up after 5 attempts.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 3, MaxAttempts: 5}
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt && d < b.Max; i++ {
		d = time.Duration(float64(d) * b.Factor)
		if d > b.Max {
			d = b.Max
		}
	}
	return d
}

// IsRetryable reports whether err is a provider throttling error.
func IsRetryable(err error) bool {
	var rl *model.RateLimitError
	return errors.As(err, &rl)
}

// Retry runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. The final RateLimitError carries the attempt count.
func Retry(ctx context.Context, b Backoff, fn func() error) error {
	_, err := RetryValue(ctx, b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryValue is Retry for functions that return a value.
func RetryValue[T any](ctx context.Context, b Backoff, fn func() (T, error)) (T, error) {
	var zero T
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		val, err := fn()
		if err == nil {
			return val, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	var rl *model.RateLimitError
	if errors.As(lastErr, &rl) {
		rl.Attempts = attempts
	}
	return zero, lastErr
}
