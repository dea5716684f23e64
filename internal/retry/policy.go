// Package retry provides the bounded exponential-backoff policy shared by the
// readiness gate and the graph writer's batch retry.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retried operation by attempts and interval growth
type Policy struct {
	MaxAttempts  int           // total attempts including the first; <= 0 means unbounded (context decides)
	BaseInterval time.Duration // wait before the second attempt
	MaxInterval  time.Duration // cap on a single wait
	Multiplier   float64       // growth factor; 1 keeps a fixed interval
	Jitter       float64       // randomization factor in [0,1)
}

// DefaultPolicy returns the batch-retry defaults
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		BaseInterval: 500 * time.Millisecond,
		MaxInterval:  5 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

// Notify is called after each failed attempt that will be retried
type Notify func(err error, attempt int, wait time.Duration)

// Do runs op until it succeeds, returns a permanent error, the policy is
// exhausted, or ctx is done. The last operation error is returned on
// exhaustion; ctx.Err() is returned when the context ends first.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, notify Notify) error {
	attempt := 0
	operation := func() error {
		attempt++
		return op(ctx)
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, wait time.Duration) {
			notify(err, attempt, wait)
		}
	}

	return backoff.RetryNotify(operation, p.backOff(ctx), onRetry)
}

// Permanent marks err as not retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseInterval
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = 100 * time.Millisecond
	}
	exp.Multiplier = p.Multiplier
	if exp.Multiplier < 1 {
		exp.Multiplier = 1
	}
	exp.MaxInterval = p.MaxInterval
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.RandomizationFactor = p.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()

	var b backoff.BackOff = exp
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}
