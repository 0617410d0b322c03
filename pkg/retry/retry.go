package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a bounded exponential-backoff retry policy. It is deliberately
// independent of what it retries so orchestration code and tests can exercise
// it in isolation.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts uint64
	// InitialInterval is the delay before the second attempt.
	InitialInterval time.Duration
	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration
	// Multiplier scales the delay after each failed attempt.
	Multiplier float64
}

// DefaultPolicy returns the policy used for identity-provider calls when
// nothing else is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
}

// ExhaustedError reports that every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts uint64
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err resulted from retry exhaustion.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// Permanent marks an error as non-retryable. Do stops immediately and
// returns the wrapped error unchanged.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the context is
// cancelled, or MaxAttempts is reached. It returns the number of attempts
// made; on exhaustion the error is an *ExhaustedError wrapping the last
// failure.
func (p Policy) Do(ctx context.Context, op func() error) (uint64, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0 // attempts are the bound, not wall time

	var attempts uint64
	var sawPermanent bool
	wrapped := func() error {
		attempts++
		err := op()
		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			sawPermanent = true
		}
		return err
	}

	err := backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx))
	if err == nil {
		return attempts, nil
	}
	if !sawPermanent && ctx.Err() == nil && attempts >= maxAttempts {
		return attempts, &ExhaustedError{Attempts: attempts, Err: err}
	}
	return attempts, err
}
