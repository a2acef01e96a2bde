package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, 5*time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("broker unavailable")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsLastError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 2, time.Millisecond, 0, func() error {
		calls++
		return errors.New("still down")
	})
	assert.EqualError(t, err, "still down")
	assert.Equal(t, 2, calls)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, 5, time.Millisecond, 0, func() error { return errors.New("x") })
	assert.ErrorIs(t, err, context.Canceled)
}
