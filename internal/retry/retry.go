// internal/retry/retry.go
// Package retry provides the bounded retry primitive used across the
// entry and exit pipelines.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retried operation. A nil IsRetryable treats every
// error as retryable.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Exponential bool
	IsRetryable func(error) bool
}

// Do runs op under the policy. A non-retryable error stops immediately
// and is returned as-is.
func Do(ctx context.Context, p Policy, op func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var base backoff.BackOff
	if p.Exponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Delay
		base = eb
	} else {
		base = backoff.NewConstantBackOff(p.Delay)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(base, uint64(p.MaxAttempts-1)), ctx)
	return backoff.Retry(wrapped, b)
}
