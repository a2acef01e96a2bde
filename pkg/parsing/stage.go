package parsing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type stageOutcome[T any] struct {
	value T
	err   error
}

// runStage races fn against the stage budget. The losing side is cancelled
// through ctx; fn must honour cancellation for its work to stop, otherwise it
// finishes in the background and its result is discarded.
func runStage[T any](parent context.Context, stage string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan stageOutcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- stageOutcome[T]{value: zero, err: fmt.Errorf("%s stage panicked: %v", stage, r)}
			}
		}()
		v, err := fn(ctx)
		done <- stageOutcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			return zero, &StageTimeoutError{Stage: stage, Timeout: timeout}
		}
		return zero, ctx.Err()
	}
}
