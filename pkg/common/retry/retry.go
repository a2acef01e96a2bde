package retry

import (
	"context"
	"time"
)

// Do runs fn until it succeeds, attempts are used up or ctx ends. The delay
// doubles after every failure and is capped at maxDelay.
func Do(ctx context.Context, attempts int, baseDelay, maxDelay time.Duration, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}

	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}

		// no sleep after the last attempt
		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
	}

	return err
}
