// Package retry runs an operation a bounded number of times with a
// pluggable, deterministic backoff schedule.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is matched by every ExhaustedError.
var ErrExhausted = errors.New("retry attempts exhausted")

// ExhaustedError reports that a retryable failure survived every attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted.Error(), e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the last failure.
func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Err} }

// Backoff returns the delay before the retry that follows the given
// zero-based failed attempt.
type Backoff func(attempt int) time.Duration

// Exponential returns min(base * 2^attempt, max). No jitter.
func Exponential(base, maxDelay time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := base
		for range attempt {
			d *= 2
			if d >= maxDelay || d <= 0 {
				return maxDelay
			}
		}
		return min(d, maxDelay)
	}
}

// Constant always waits d.
func Constant(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Policy configures Do.
type Policy struct {
	// MaxAttempts is the total number of calls, first one included. <1 means 1.
	MaxAttempts int
	Backoff     Backoff
	// Retryable decides whether an error deserves another attempt. Nil retries everything.
	Retryable func(error) bool
	// OnRetry is invoked before sleeping; attempt counts the calls made so far.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// ends, or MaxAttempts is reached. Non-retryable errors are returned as is;
// exhaustion yields *ExhaustedError.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	maxAttempts := max(p.MaxAttempts, 1)
	schedule := p.Backoff
	if schedule == nil {
		schedule = Constant(0)
	}

	attempt := 0
	var lastErr, permErr error
	op := func() (T, error) {
		n := attempt
		attempt++
		res, err := fn(ctx, n)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			permErr = ctxErr
			return res, backoff.Permanent(ctxErr)
		}
		if p.Retryable != nil && !p.Retryable(err) {
			permErr = err
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	sched := &replay{fn: schedule}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(sched),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, d time.Duration) {
			p.OnRetry(attempt, err, d)
		}))
	}

	res, err := backoff.Retry(ctx, op, opts...)
	if err == nil {
		return res, nil
	}

	// backoff.Retry unwraps permanent errors, so the classification is
	// recorded inside op instead of recovered from err.
	if permErr != nil {
		return zero, permErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, ctxErr
	}
	if lastErr == nil {
		lastErr = err
	}
	return zero, &ExhaustedError{Attempts: attempt, Err: lastErr}
}

// replay adapts a Backoff to backoff.BackOff.
type replay struct {
	fn   Backoff
	next int
}

func (s *replay) NextBackOff() time.Duration {
	d := s.fn(s.next)
	s.next++
	return d
}

func (s *replay) Reset() { s.next = 0 }
