// Package retry runs an operation with bounded, capped exponential backoff.
// Every wait observes context cancellation so an in-flight retry loop aborts
// promptly on shutdown.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Policy controls how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first. Values
	// below 1 are treated as 1.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter spreads each delay by +/- Jitter of itself. Clamped to [0,1].
	Jitter float64

	// RetryIf decides whether err is worth another attempt. Nil retries
	// everything except Permanent errors and context errors.
	RetryIf func(err error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy is suitable for idempotent reads.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

// ClosePolicy is used for individual position closes during an unwind.
func ClosePolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

func (p *Policy) normalise() {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	p.Jitter = math.Max(0, math.Min(1, p.Jitter))
}

// Delay returns the wait after the given zero-based failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p.normalise()
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do calls op until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. The last operation error is returned; if ctx
// ends before any attempt ran, ctx.Err() is returned.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p.normalise()

	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !p.shouldRetry(err) || attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, lastErr
		case <-t.C:
		}
	}
	return zero, lastErr
}

func (p Policy) shouldRetry(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.RetryIf != nil {
		return p.RetryIf(err)
	}
	return true
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
