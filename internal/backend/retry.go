package backend

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// maxTransientRetries caps retry of transient adapter I/O errors (spec §4.2, §7).
	maxTransientRetries = 5
	retryInitialInterval = 200 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
)

// newAdapterBackoff builds the exponential backoff used by every adapter to
// retry transient I/O, mirroring the session loop's retry policy but capped
// at maxTransientRetries instead of the conversational retry budget.
func newAdapterBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, maxTransientRetries), ctx)
}

// retryTransient runs op, retrying transient errors per newAdapterBackoff.
// isTransient classifies an error; a nil classifier treats every error as
// transient (exhausting the retry budget before giving up).
func retryTransient(ctx context.Context, isTransient func(error) bool, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isTransient != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, newAdapterBackoff(ctx))
}
