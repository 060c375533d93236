// Package retry runs fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMaxAttempts = 10
	DefaultMaxDuration = 2 * time.Minute
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 5 * time.Second
)

// ErrTimeout matches any *TimeoutError via errors.Is.
var ErrTimeout = errors.New("retry timeout")

// TimeoutError reports that the duration budget ran out before an attempt
// succeeded. Last holds the most recent attempt failure, if any.
type TimeoutError struct {
	Budget   time.Duration
	Attempts int
	Last     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("retry timeout after %s (%d attempts)", e.Budget, e.Attempts)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.Last
}

type Policy struct {
	MaxAttempts int
	MaxDuration time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnRetry runs after a failed attempt that will be retried.
	OnRetry func(attempt int, delay time.Duration, err error)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		MaxDuration: DefaultMaxDuration,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Delay returns the wait after the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = DefaultMaxDelay
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

// Do invokes fn until it succeeds, the attempts are exhausted, or the
// duration budget is spent. Exhaustion returns the last failure unchanged.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	budget := p.MaxDuration
	if budget <= 0 {
		budget = DefaultMaxDuration
	}
	now := p.now
	if now == nil {
		now = time.Now
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	start := now()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if now().Sub(start) > budget {
			return zero, &TimeoutError{Budget: budget, Attempts: attempt, Last: lastErr}
		}
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if attempt == attempts-1 {
			break
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
