package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default retry parameters applied by DefaultPolicy.
const (
	DefaultMaxAttempts     = 3
	DefaultAttemptTimeout  = 15 * time.Second
	DefaultInitialInterval = 250 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
	DefaultJitter          = 0.3
)

// Action is a unit of work executed on a worker goroutine. The context is
// cancelled on task cancellation and per-attempt timeout.
type Action func(ctx context.Context) (any, error)

// Policy controls how an action is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// AttemptTimeout bounds each individual attempt. Zero means no timeout.
	AttemptTimeout time.Duration

	// Retryable decides whether a failed attempt may be retried. A nil
	// classifier retries every failure. Errors wrapped with Permanent are
	// terminal regardless of the classifier.
	Retryable func(error) bool

	// NewBackOff builds a fresh backoff sequence for one task. A nil
	// factory uses the default exponential curve.
	NewBackOff func() backoff.BackOff
}

// DefaultPolicy returns the baseline policy: three attempts, exponential
// backoff with jitter, every failure retryable.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    DefaultMaxAttempts,
		AttemptTimeout: DefaultAttemptTimeout,
		NewBackOff:     ExponentialBackOff(DefaultInitialInterval, DefaultMaxInterval),
	}
}

// ExponentialBackOff returns a backoff factory with the given initial delay,
// doubling per attempt up to max, with the default jitter applied.
func ExponentialBackOff(initial, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		b.Multiplier = 2
		b.RandomizationFactor = DefaultJitter
		b.MaxElapsedTime = 0 // attempts are bounded by MaxAttempts, not wall time
		b.Reset()
		return b
	}
}

// FixedBackOff returns a backoff factory with a constant delay between
// attempts.
func FixedBackOff(interval time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.NewConstantBackOff(interval)
	}
}

// normalized fills in defaults for zero-valued fields.
func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.NewBackOff == nil {
		p.NewBackOff = ExponentialBackOff(DefaultInitialInterval, DefaultMaxInterval)
	}
	return p
}

// retryable applies the classifier, honoring Permanent markers first.
func (p Policy) retryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// permanentError marks a failure as terminal.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the runner never retries it, whatever the policy's
// classifier says. Wrapping nil returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries a Permanent marker.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}
