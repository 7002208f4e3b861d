package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy controls how RetryStore backs off
type RetryPolicy struct {
	MaxTries   uint
	NewBackOff func() backoff.BackOff
}

// DefaultRetryPolicy retries up to four times with exponential backoff
var DefaultRetryPolicy = RetryPolicy{
	MaxTries: 4,
	NewBackOff: func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		return b
	},
}

// RetryStore runs op until it succeeds, fails with an error other than
// ErrStoreUnavailable, or the policy gives up
func RetryStore[T any](ctx context.Context, policy RetryPolicy, op func() (T, error)) (T, error) {
	if policy.NewBackOff == nil {
		policy = DefaultRetryPolicy
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, ErrStoreUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(policy.NewBackOff()), backoff.WithMaxTries(policy.MaxTries))
}
