package common

import (
	"context"
	"errors"
	"time"
)

// ErrPollExhausted is returned by PollPolicy.Run when every attempt reported "not done"
var ErrPollExhausted = errors.New("poll attempts exhausted")

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PollPolicy is a bounded fixed-interval polling policy. The interval is
// waited before every attempt, so MaxAttempts polls take MaxAttempts*Interval.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	Sleep       SleepFunc // nil uses ContextSleep
}

// PollFunc performs one attempt. done=true stops polling successfully; a
// non-nil error stops polling and is returned as-is.
type PollFunc func(ctx context.Context, attempt int) (done bool, err error)

// Run polls until fn reports done, returns an error, or MaxAttempts is
// reached (ErrPollExhausted). It never polls more than MaxAttempts times.
func (p PollPolicy) Run(ctx context.Context, fn PollFunc) (int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := sleep(ctx, p.Interval); err != nil {
			return attempt - 1, err
		}

		done, err := fn(ctx, attempt)
		if err != nil {
			return attempt, err
		}
		if done {
			return attempt, nil
		}
	}

	return p.MaxAttempts, ErrPollExhausted
}
