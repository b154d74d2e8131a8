package wait

import (
	"context"

	"github.com/luno/workflowcore/internal/executor"
)

// WaitForState builds a Task that resolves on the next state change whose
// new state equals state (or on any change, when matchAny is true). When
// checkInitial is true the current state is evaluated against the predicate
// synchronously before subscribing, resolving immediately on a match.
// Events raised while the workflow is restoring persisted history are
// ignored (Open Question (ii): checkInitial still runs synchronously even
// if the workflow is itself mid-restoration, since it reads current state
// directly rather than observing an event).
func WaitForState(source StateSource, state any, checkInitial bool, matchAny bool) Task {
	return func(ctx context.Context) (any, error) {
		if checkInitial {
			if cur, ok := source.CurrentState(); ok && (matchAny || statesEqual(cur, state)) {
				return cur, nil
			}
		}

		return executor.Suspend(ctx, func(ctx context.Context) (executor.Func, error) {
			resultCh := make(chan any, 1)

			// Subscribing here, while the caller still holds the executor's
			// ticket, is required: subscribing after the ticket is released
			// would let a concurrently queued state transition run and notify
			// before the listener is installed, and the notification would be
			// lost forever.
			unsubscribe := source.SubscribeStateChanged(func(newState any, restoring bool) {
				if restoring {
					return
				}
				if !matchAny && !statesEqual(newState, state) {
					return
				}
				select {
				case resultCh <- newState:
				default:
				}
			})

			return func(ctx context.Context) (any, error) {
				defer unsubscribe()
				select {
				case <-ctx.Done():
					return nil, ErrCanceled
				case s := <-resultCh:
					return s, nil
				}
			}, nil
		})
	}
}

func statesEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}
