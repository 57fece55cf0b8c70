// Package retry runs an operation with jittered exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lumiere/lumiere-payments/config"
)

// Do calls fn until it succeeds, policy.Attempts is exhausted, or ctx ends.
// It returns the last error from fn. No sleep happens after the final attempt.
func Do(ctx context.Context, policy config.RetryConfig, fn func() error) error {
	return backoff.Retry(fn, newBackOff(ctx, policy))
}

func newBackOff(ctx context.Context, policy config.RetryConfig) backoff.BackOff {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.Base
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = 100 * time.Millisecond
	}
	if policy.Max > 0 {
		exp.MaxInterval = policy.Max
	}
	exp.Multiplier = 2
	exp.RandomizationFactor = policy.JitterFactor
	// the attempt count bounds the loop, not wall time
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}
