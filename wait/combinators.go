package wait

import (
	"context"
	"time"
)

// Then builds a Task that runs task, and on its successful completion runs
// after with task's result. Faults and cancellations from task pass through
// without running after.
func Then(task Task, after func(ctx context.Context, result any) (any, error)) Task {
	return func(ctx context.Context) (any, error) {
		val, err := task(ctx)
		if err != nil {
			return nil, err
		}
		return after(ctx, val)
	}
}

// WaitWithTimeout races task against a delay of ms (a time.Duration). If the
// delay wins, it cancels task, waits for it to return, and fails with a
// Timeout(description) error; otherwise it stops the delay's timer and
// returns task's outcome.
func WaitWithTimeout(task Task, ms time.Duration, description string) Task {
	return func(ctx context.Context) (any, error) {
		childCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		type outcome struct {
			val any
			err error
		}
		taskDone := make(chan outcome, 1)
		go func() {
			val, err := task(childCtx)
			taskDone <- outcome{val: val, err: err}
		}()

		timer := time.NewTimer(ms)
		defer timer.Stop()

		select {
		case o := <-taskDone:
			return o.val, o.err
		case <-timer.C:
			cancel()
			<-taskDone
			return nil, Timeout(description)
		case <-ctx.Done():
			cancel()
			<-taskDone
			return nil, ErrCanceled
		}
	}
}
