/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package retry runs operations repeatedly according to a backoff policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy creates a fresh backoff for every retried operation.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// PolicyFunc is an adapter to allow the use of ordinary functions as Policy.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// NewExponentialPolicy returns a policy with exponentially growing delays starting from initialInterval.
// maxRetries limits the number of retries after the first attempt, 0 means no limit.
func NewExponentialPolicy(initialInterval time.Duration, maxRetries int) Policy {
	return PolicyFunc(func() backoff.BackOff {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = initialInterval
		return withMaxRetries(eb, maxRetries)
	})
}

// NewConstantPolicy returns a policy with a constant delay between attempts.
// maxRetries limits the number of retries after the first attempt, 0 means no limit.
func NewConstantPolicy(interval time.Duration, maxRetries int) Policy {
	return PolicyFunc(func() backoff.BackOff {
		return withMaxRetries(backoff.NewConstantBackOff(interval), maxRetries)
	})
}

func withMaxRetries(b backoff.BackOff, maxRetries int) backoff.BackOff {
	if maxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(maxRetries))
	}
	b.Reset()
	return b
}

// Do calls fn until it succeeds, the policy gives up or ctx is done, and returns the last error.
// Errors for which isRetryable returns false stop retrying immediately, nil isRetryable retries any error.
// onRetry, if set, is called before every delay.
func Do(
	ctx context.Context,
	policy Policy,
	isRetryable func(err error) bool,
	onRetry func(err error, delay time.Duration),
	fn func(ctx context.Context) error,
) error {
	b := backoff.WithContext(policy.NewBackOff(), ctx)
	op := func() error {
		err := fn(b.Context())
		if err != nil && isRetryable != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	var notify backoff.Notify
	if onRetry != nil {
		notify = backoff.Notify(onRetry)
	}
	return backoff.RetryNotify(op, b, notify)
}
