package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// runWithRetry re-runs attempt while it fails with ErrConflict.
func runWithRetry(ctx context.Context, opts Options, attempt func() error) error {
	var err error
	for i := 0; i < opts.MaxAttempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = attempt()
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if i == opts.MaxAttempts-1 {
			break
		}

		wait := backoff(opts.BaseBackoff, i)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", opts.MaxAttempts, err)
}

// backoff returns a full-jitter delay in [0, base*2^attempt), capped at 100ms.
func backoff(base time.Duration, attempt int) time.Duration {
	limit := base << min(attempt, 6)
	if limit > 100*time.Millisecond {
		limit = 100 * time.Millisecond
	}
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(limit)))
}
