package chat

import (
	"context"
	"time"
)

// Clock abstracts time so the poll loop is testable without real timers.
type Clock interface {
	Now() time.Time
	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// PollResult carries one poll attempt's outcome.
type PollResult[T any] struct {
	Value T
	Done  bool
}

// Poll runs fn up to maxAttempts times with a fixed interval between
// attempts, returning as soon as fn reports done. The first attempt runs
// after one interval, matching a caller that has just submitted work and has
// nothing to observe yet. A zero value and false are returned when the
// attempt budget is exhausted; the error return is reserved for fn failures
// and context cancellation.
func Poll[T any](ctx context.Context, clock Clock, maxAttempts int, interval time.Duration, fn func(ctx context.Context, attempt int) (PollResult[T], error)) (T, bool, error) {
	var zero T
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, false, ctx.Err()
		case <-clock.After(interval):
		}

		res, err := fn(ctx, attempt)
		if err != nil {
			return zero, false, err
		}
		if res.Done {
			return res.Value, true, nil
		}
	}
	return zero, false, nil
}
