package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn under a deadline. Used to cap index builds so a
// pathological corpus cannot wedge a search request forever. A limit of
// zero or less runs fn with the caller's context unchanged.
func WithTimeout(ctx context.Context, limit time.Duration, op string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}

	dctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- fn(dctx) }()

	select {
	case err := <-errCh:
		return err
	case <-dctx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: parent context cancelled: %w", op, ctx.Err())
		}
		return fmt.Errorf("%s: %w after %v", op, context.DeadlineExceeded, limit)
	}
}
