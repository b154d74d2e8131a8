package wait

import (
	"context"

	"github.com/luno/workflowcore/internal/executor"
)

// WaitForAction builds a Task that resolves on the next action execution
// whose synonym set contains name, with that execution's parameters as the
// result value. It deregisters its subscription on cancellation.
func WaitForAction(source ActionSource, name string) Task {
	return func(ctx context.Context) (any, error) {
		return executor.Suspend(ctx, func(ctx context.Context) (executor.Func, error) {
			type outcome struct {
				params any
			}
			resultCh := make(chan outcome, 1)

			// Subscribing here, while the caller still holds the executor's
			// ticket, is required: subscribing after the ticket is released
			// would let a concurrently queued (or freshly submitted) action
			// execution run and notify before the listener is installed, and
			// the notification would be lost forever.
			unsubscribe := source.SubscribeActionExecuted(func(synonyms map[string]struct{}, params any) {
				if _, ok := synonyms[name]; !ok {
					return
				}
				select {
				case resultCh <- outcome{params: params}:
				default:
				}
			})

			return func(ctx context.Context) (any, error) {
				defer unsubscribe()
				select {
				case <-ctx.Done():
					return nil, ErrCanceled
				case o := <-resultCh:
					return o.params, nil
				}
			}, nil
		})
	}
}

// WaitForActionWithWasExecutedCheck resolves immediately (with a nil result)
// if name has already executed at least once; otherwise it behaves exactly
// like WaitForAction.
func WaitForActionWithWasExecutedCheck(source ActionSource, name string) Task {
	return func(ctx context.Context) (any, error) {
		if source.TimesExecuted(name) > 0 {
			return nil, nil
		}
		return WaitForAction(source, name)(ctx)
	}
}
