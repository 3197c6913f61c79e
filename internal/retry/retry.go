// Package retry provides the bounded retry-with-backoff policy wrapped around
// every external call the engine makes (embedding provider, store).
//
// A Policy is a plain value so retry behaviour can be inspected and tested in
// isolation. Each attempt runs under its own timeout; the whole call fails
// explicitly once attempts are exhausted instead of hanging.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ErrExhausted is returned (wrapped with the last attempt error) when every
// attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy configures bounded retries.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	// Default: 10 seconds
	MaxBackoff time.Duration

	// Multiplier grows the wait between attempts.
	// Default: 2
	Multiplier float64

	// AttemptTimeout bounds a single attempt. Zero disables the per-attempt timeout.
	AttemptTimeout time.Duration

	// Retryable classifies errors. Nil retries every error.
	Retryable func(error) bool
}

// DefaultPolicy returns the default policy: 3 attempts, 1s initial backoff
// capped at 10s, 5s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		AttemptTimeout: 5 * time.Second,
	}
}

// ApplyDefaults sets default values for unset fields.
func (p *Policy) ApplyDefaults() {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
}

// Backoff returns a fresh, jitter-free exponential schedule for the policy.
func (p Policy) Backoff() *backoff.ExponentialBackOff {
	p.ApplyDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Do runs fn until it succeeds, returns a non-retryable error, the parent
// context ends, or MaxAttempts is reached. op names the call in logs.
func Do[T any](ctx context.Context, p Policy, logger *zap.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	p.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	attempts := 0
	var lastErr error
	operation := func() (T, error) {
		attempts++
		attemptCtx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}

		v, err := fn(attemptCtx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || (p.Retryable != nil && !p.Retryable(err)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.Backoff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Debug("retrying after transient error",
				zap.String("operation", op),
				zap.Int("attempt", attempts),
				zap.Int("max_attempts", p.MaxAttempts),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		}),
	)
	if err == nil {
		if attempts > 1 {
			logger.Info("operation recovered after retries",
				zap.String("operation", op),
				zap.Int("attempts", attempts),
			)
		}
		return v, nil
	}

	if ctx.Err() != nil {
		return v, fmt.Errorf("%s canceled: %w", op, ctx.Err())
	}
	if lastErr != nil && p.Retryable != nil && !p.Retryable(lastErr) {
		return v, lastErr
	}
	if lastErr == nil {
		lastErr = err
	}
	return v, fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempts, lastErr)
}
