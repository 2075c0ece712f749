package graphsync

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryInterval is the initial pause between attempts of a transient remote
// failure; backoff grows it exponentially up to retryElapsed in total.
const (
	retryInterval = 250 * time.Millisecond
	retryElapsed  = 30 * time.Second
)

// retry runs op with exponential backoff until it succeeds, fails
// permanently or the budget is exhausted. Absence is not transient: an
// error wrapping [ErrNotFound] aborts immediately, as does a typed
// [TypeConflictError] and context cancellation.
func retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInterval
	policy.MaxElapsedTime = retryElapsed

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var conflict *TypeConflictError
		if errors.Is(err, ErrNotFound) || errors.As(err, &conflict) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}
