package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// WithRetry runs fn in a transaction, retrying on ErrConflict up to attempts
// times in total with jittered exponential backoff. Any other error stops at
// once. It returns the number of attempts made.
func WithRetry(ctx context.Context, t Transactor, attempts int, fn func(tx Tx) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	tries := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		err := t.RunTransaction(ctx, fn)
		if err == nil || errors.Is(err, ErrConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(attempts)))
	return tries, err
}
