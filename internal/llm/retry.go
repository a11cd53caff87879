package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff is swapped in tests to avoid real sleeps.
var newBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	return b
}

// withRetry runs op once plus up to retries more times while it keeps failing.
// Cancellation of ctx stops retrying immediately.
func withRetry(ctx context.Context, retries int, op func(context.Context) error) error {
	if retries <= 0 {
		return op(ctx)
	}

	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(retries)), ctx)
	return backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		slog.Warn("model request failed, retrying", "attempt", attempt, "error", err)
		return err
	}, b)
}

// withTimeout applies the per-request timeout when one is configured.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
