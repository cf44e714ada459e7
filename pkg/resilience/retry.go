package resilience

import (
	"context"
	"time"
)

// RetryPolicy defines retry behavior for transient failures. Backoff grows
// exponentially by Multiplier per attempt, capped at MaxBackoff.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	Multiplier float64
	MaxBackoff time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{
		MaxRetries: maxRetries,
		Backoff:    backoff,
		Multiplier: 2,
		MaxBackoff: 5 * time.Second,
	}
}

func (r RetryPolicy) Do(fn func() error) error {
	return r.DoWithContext(context.Background(), func(context.Context) error { return fn() })
}

// DoWithContext runs fn until it succeeds, the retry ceiling is hit, or ctx
// is done. The shouldRetry hook (see DoFiltered) defaults to retrying every
// error.
func (r RetryPolicy) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	return r.DoFiltered(ctx, fn, nil)
}

// DoFiltered is DoWithContext with a predicate deciding which errors are
// worth another attempt. A nil predicate retries everything.
func (r RetryPolicy) DoFiltered(ctx context.Context, fn func(context.Context) error, shouldRetry func(error) bool) error {
	backoff := r.Backoff
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if i == r.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = r.nextBackoff(backoff)
	}
	return err
}

func (r RetryPolicy) nextBackoff(cur time.Duration) time.Duration {
	mult := r.Multiplier
	if mult < 1 {
		mult = 2
	}
	next := time.Duration(float64(cur) * mult)
	if r.MaxBackoff > 0 && next > r.MaxBackoff {
		return r.MaxBackoff
	}
	return next
}
