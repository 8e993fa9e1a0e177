// Package retry is the retry policy shared by the transcription and
// synthesis paths: bounded attempts, a retryable/fatal classifier and a
// delay schedule.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts int           // total attempts including the first; default 1
	Delay       time.Duration // wait before each retry
	Exponential bool          // double the delay after every retry
	MaxDelay    time.Duration // cap for exponential delays; zero means none

	// Retryable classifies an error. A nil classifier retries nothing.
	Retryable func(error) bool
}

// Result reports how an execution went.
type Result struct {
	Attempts int
	Err      error
}

// Do runs fn until it succeeds, fails with a non-retryable error, runs out
// of attempts or ctx ends. The returned error is the last error from fn, or
// ctx.Err() when cancelled.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) Result {
	attempts := 0
	err := goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++
		err := fn(ctx, attempts)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && p.Retryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
	return Result{Attempts: attempts, Err: err}
}

func (p Policy) backoff() goretry.Backoff {
	delay := p.Delay
	if delay <= 0 {
		delay = time.Nanosecond
	}
	var b goretry.Backoff
	if p.Exponential {
		b = goretry.NewExponential(delay)
		if p.MaxDelay > 0 {
			b = goretry.WithCappedDuration(p.MaxDelay, b)
		}
	} else {
		b = goretry.NewConstant(delay)
	}
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return goretry.WithMaxRetries(uint64(retries), b)
}
