package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutError reports an operation that did not finish within its limit. It
// matches context.DeadlineExceeded under errors.Is.
type TimeoutError struct {
	Operation string
	Limit     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not finish within %v", e.Operation, e.Limit)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// WithTimeout runs fn under a context that expires after limit and returns
// as soon as fn finishes or the limit passes, whichever comes first. After a
// timeout fn keeps running until it observes its context. A limit of zero or
// less runs fn directly.
//
// Cancellation of the parent context is reported as such, not as a timeout.
func WithTimeout(ctx context.Context, limit time.Duration, operation string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	boundCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(boundCtx)
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) || boundCtx.Err() == nil {
			return err
		}
	case <-boundCtx.Done():
	}
	if parentErr := ctx.Err(); parentErr != nil {
		return fmt.Errorf("%s: %w", operation, parentErr)
	}
	return &TimeoutError{Operation: operation, Limit: limit}
}
