package chain

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryPolicy retries a request up to maxRetries times, doubling the delay
// from baseDelay and capping it at maxDelay.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func newRetryPolicy(maxRetries int, baseDelay time.Duration) retryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	return retryPolicy{maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: 30 * time.Second}
}

func (p retryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.baseDelay
	b.MaxInterval = p.maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.maxRetries)), ctx)
}

// do calls op until it succeeds, retries are exhausted, or ctx ends. The
// last error of op is returned; cancellation returns ctx.Err().
func (p retryPolicy) do(ctx context.Context, op func(context.Context) error) error {
	return backoff.Retry(func() error {
		return op(ctx)
	}, p.backOff(ctx))
}
