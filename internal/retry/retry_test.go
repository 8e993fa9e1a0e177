package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestPolicy_SucceedsAfterRetry(t *testing.T) {
	p := Policy{MaxAttempts: 2, Delay: time.Millisecond, Retryable: isTransient}
	res := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt == 1 {
			return errTransient
		}
		return nil
	})
	assert.NoError(t, res.Err)
	assert.Equal(t, 2, res.Attempts)
}

func TestPolicy_StopsAtMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, Delay: time.Millisecond, Retryable: isTransient}
	res := p.Do(context.Background(), func(context.Context, int) error { return errTransient })
	assert.ErrorIs(t, res.Err, errTransient)
	assert.Equal(t, 3, res.Attempts)
}

func TestPolicy_FatalIsNotRetried(t *testing.T) {
	p := Policy{MaxAttempts: 5, Delay: time.Millisecond, Retryable: isTransient}
	res := p.Do(context.Background(), func(context.Context, int) error { return errFatal })
	assert.ErrorIs(t, res.Err, errFatal)
	assert.Equal(t, 1, res.Attempts)
}

func TestPolicy_ZeroValueRunsOnce(t *testing.T) {
	res := Policy{}.Do(context.Background(), func(context.Context, int) error { return errTransient })
	assert.Equal(t, 1, res.Attempts)
	assert.Error(t, res.Err)
}

func TestPolicy_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, Delay: time.Hour, Retryable: isTransient}

	res := p.Do(ctx, func(context.Context, int) error {
		cancel()
		return errTransient
	})
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, res.Attempts)
}

func TestPolicy_Exponential(t *testing.T) {
	p := Policy{MaxAttempts: 3, Delay: time.Millisecond, Exponential: true, MaxDelay: 2 * time.Millisecond, Retryable: isTransient}
	start := time.Now()
	res := p.Do(context.Background(), func(context.Context, int) error { return errTransient })
	assert.Equal(t, 3, res.Attempts)
	assert.Less(t, time.Since(start), time.Second)
}
