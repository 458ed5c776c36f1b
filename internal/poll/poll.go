// Package poll runs caller-level wait loops with a bounded, fixed-delay policy.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/park285/cheese-ranked/internal/obslog"
	"github.com/park285/cheese-ranked/pkg/chessdto"
	"go.uber.org/zap"
)

// Policy bounds a wait loop: at most MaxAttempts calls, Delay apart.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

func Default() Policy { return Policy{MaxAttempts: 10, Delay: 2 * time.Second} }

var errPending = errors.New("poll: pending")

// Until calls fn until it reports done, returns a non-retryable error, the
// attempts run out or ctx ends. Exhausting attempts while fn keeps reporting
// not-done returns the last value with done=false and a nil error. Retryable
// errors (chessdto.IsRetryable) consume an attempt; if the final attempt still
// fails that way, the error is returned.
func Until[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, bool, error)) (T, bool, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	op := func() (T, error) {
		v, done, err := fn(ctx)
		if err != nil {
			if chessdto.IsRetryable(err) {
				return v, err
			}
			return v, backoff.Permanent(err)
		}
		if !done {
			return v, errPending
		}
		return v, nil
	}
	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			if !errors.Is(err, errPending) {
				obslog.L().Debug("poll_retry", zap.Error(err), zap.Duration("next", next))
			}
		}),
	)
	switch {
	case err == nil:
		return v, true, nil
	case errors.Is(err, errPending):
		return v, false, nil
	}
	return v, false, err
}
