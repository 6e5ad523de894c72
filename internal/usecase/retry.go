package usecase

import (
	"context"
	"time"
)

// retry calls fn until it succeeds or r.MaxAttempts is spent, doubling the
// wait after each failure. Cancellation stops it between attempts.
func retry(ctx context.Context, r Retry, fn func(attempt int) error) error {
	attempts := max(r.MaxAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt == attempts {
			break
		}
		wait := r.Backoff << (attempt - 1)
		if wait <= 0 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
