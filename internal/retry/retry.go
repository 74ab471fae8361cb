// Package retry runs an operation a bounded number of times.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrInvalidArgument reports a non-positive attempt budget.
var ErrInvalidArgument = errors.New("retry: invalid argument")

// Run calls fn until it succeeds or maxAttempts calls have failed, with no
// delay between attempts. It returns nil on the first success and the last
// failure otherwise. A cancelled ctx stops further attempts and its error is
// returned.
func Run(ctx context.Context, maxAttempts int, fn func(context.Context) error) error {
	return RunWithDelay(ctx, maxAttempts, 0, fn)
}

// RunWithDelay is Run with a fixed pause between attempts.
func RunWithDelay(ctx context.Context, maxAttempts int, delay time.Duration, fn func(context.Context) error) error {
	if maxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidArgument, maxAttempts)
	}
	if fn == nil {
		return fmt.Errorf("%w: fn must not be nil", ErrInvalidArgument)
	}
	if delay < 0 {
		return fmt.Errorf("%w: delay must not be negative", ErrInvalidArgument)
	}

	backoff := goretry.WithMaxRetries(uint64(maxAttempts-1), constant(delay))
	return goretry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx); err != nil {
			return goretry.RetryableError(err)
		}
		return nil
	})
}

func constant(delay time.Duration) goretry.Backoff {
	if delay > 0 {
		return goretry.NewConstant(delay)
	}
	return goretry.BackoffFunc(func() (time.Duration, bool) {
		return 0, false
	})
}
