package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
)

// WithTimeout bounds a backend call. fn gets a context that expires after
// timeout; if fn ignores it, the caller still returns on time and the result
// is discarded. A zero timeout runs fn directly.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeoutCause(ctx, timeout, fmt.Errorf("%s: %w after %v", name, apperrors.ErrTimeout, timeout))
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%w: %w", context.Cause(callCtx), context.DeadlineExceeded)
}
