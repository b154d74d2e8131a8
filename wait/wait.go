// Package wait implements the composable suspending primitives every
// workflow handler is built from: WaitForDate, WaitForAction, WaitForState,
// WaitForAny, Optional, Then, and WaitWithTimeout.
//
// All of them honor ambient cancellation carried as a plain context.Context
// rather than any goroutine-local or AsyncLocal-style cell: a Task inherits
// the context.Context it is called with, and an operator that needs a
// linked child scope (WaitForAny) derives one with context.WithCancel.
//
// A Task that suspends (actually blocks on an external event, rather than
// resolving immediately) should perform the blocking part via
// internal/executor.Suspend, so that - when running inside a workflow's
// SerializedExecutor - the executor is freed to dispatch other queued work
// for the duration of the wait.
package wait

import "context"

// Task is an awaitable suspending operation: calling it blocks the caller
// until the operation resolves to a value, a cancellation, or a fault.
type Task func(ctx context.Context) (any, error)

// ActionSource is the subset of a workflow instance that WaitForAction and
// WaitForActionWithWasExecutedCheck need. Defined here (rather than
// depending on the workflow package directly) because the workflow package
// depends on wait to build its run loop; this interface breaks the cycle.
type ActionSource interface {
	// SubscribeActionExecuted registers listener to be invoked synchronously,
	// on the owning workflow's executor, every time an action runs. synonyms
	// is the full synonym set of the action that ran (including its
	// canonical name). The returned func unsubscribes.
	SubscribeActionExecuted(listener func(synonyms map[string]struct{}, params any)) (unsubscribe func())
	// TimesExecuted reports how many times the action known by this name (or
	// any of its synonyms) has executed so far.
	TimesExecuted(name string) int
}

// StateSource is the subset of a stateful workflow instance that
// WaitForState needs.
type StateSource interface {
	// SubscribeStateChanged registers listener to be invoked synchronously
	// whenever the named state changes, with restoring true while the
	// workflow is replaying persisted history.
	SubscribeStateChanged(listener func(newState any, restoring bool)) (unsubscribe func())
	// CurrentState returns the current named state, if the workflow has one.
	CurrentState() (state any, ok bool)
	// IsRestoringState reports whether the workflow is currently replaying
	// persisted state history (used to implement the "ignore events raised
	// while restoring" rule).
	IsRestoringState() bool
}
