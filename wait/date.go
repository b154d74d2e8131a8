package wait

import (
	"context"
	"time"

	"github.com/luno/workflowcore/clock"
	"github.com/luno/workflowcore/internal/executor"
)

// Infinite is the sentinel "never" deadline for WaitForDate: a Task built
// with this date suspends until its context is cancelled and spontaneously
// never completes (B1). It is deliberately far enough in the future that no
// real workflow will ever reach it, and is excluded from ActivationDateTracker
// registration (an add() of +∞ is specified as a no-op).
var Infinite = time.Date(9999, time.January, 1, 0, 0, 0, 0, time.UTC)

// maxSleepSegment bounds how long a real-clock sleep waits before re-checking,
// so that system clock adjustments (e.g. resuming from sleep) are detected
// in bounded time rather than oversleeping.
const maxSleepSegment = 7 * 24 * time.Hour

// ActivationTracker is the subset of internal/activation.Tracker that
// WaitForDate needs.
type ActivationTracker interface {
	Add(handle any, date time.Time)
	OnCancel(handle any)
}

// WaitForDate builds a Task that resolves once c's clock reaches date, or
// immediately if bypass (when non-nil) already returns true, or immediately
// if date has already passed. date == Infinite suspends until cancellation
// and is not registered with tracker (per the +∞ no-op rule). On
// cancellation the tracker entry is always removed.
func WaitForDate(c clock.Clock, tracker ActivationTracker, date time.Time, bypass func() bool) Task {
	return func(ctx context.Context) (any, error) {
		if bypass != nil && bypass() {
			return nil, nil
		}
		if !date.Equal(Infinite) && !date.After(c.Now()) {
			// Past or current date: resolve immediately, no sleep, no clock
			// advance (B2).
			return nil, nil
		}

		handle := new(struct{})
		if !date.Equal(Infinite) {
			tracker.Add(handle, date)
		}
		defer tracker.OnCancel(handle)

		return executor.Suspend(ctx, func(ctx context.Context) (executor.Func, error) {
			return func(ctx context.Context) (any, error) {
				return waitForDateBlocking(ctx, c, date)
			}, nil
		})
	}
}

func waitForDateBlocking(ctx context.Context, c clock.Clock, date time.Time) (any, error) {
	if tc, ok := c.(clock.TestingClock); ok {
		return waitForDateOnTestingClock(ctx, tc, date)
	}
	return waitForDateOnRealClock(ctx, c, date)
}

func waitForDateOnTestingClock(ctx context.Context, tc clock.TestingClock, date time.Time) (any, error) {
	ch, cancel := tc.Subscribe()
	defer cancel()

	for {
		if !date.Equal(Infinite) && !date.After(tc.Now()) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrCanceled
		case <-ch:
			// Loop around and re-check; the clock moved but maybe not far enough.
		}
	}
}

func waitForDateOnRealClock(ctx context.Context, c clock.Clock, date time.Time) (any, error) {
	for {
		now := c.Now()
		if !date.Equal(Infinite) && !date.After(now) {
			return nil, nil
		}

		segment := maxSleepSegment
		if !date.Equal(Infinite) {
			if remaining := date.Sub(now); remaining < segment {
				segment = remaining
			}
		}

		timer := time.NewTimer(segment)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ErrCanceled
		case <-timer.C:
			// Re-check on the next loop iteration; tolerates system sleep by
			// never oversleeping more than maxSleepSegment past a clock jump.
		}
	}
}
