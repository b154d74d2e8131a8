package wait

import (
	"context"
	"errors"

	"github.com/luno/workflowcore/internal/executor"
)

// Awaitable is one child of a WaitForAny group: a Task plus whether its
// successful completion is allowed to resolve the group.
type Awaitable struct {
	Task     Task
	Optional bool
}

// Required wraps task as a non-optional WaitForAny child (the default; this
// helper exists so factory lists read symmetrically with Optional).
func Required(task Task) Awaitable {
	return Awaitable{Task: task}
}

// Optional marks task as a WaitForAny child whose successful completion does
// not, by itself, resolve the group - but whose fault or cancellation still
// propagates like any other child.
func Optional(task Task) Awaitable {
	return Awaitable{Task: task, Optional: true}
}

// WaitForAny builds a Task that runs each factory's child within a
// cancellation scope linked to the ambient context, and resolves to the
// zero-based index of the first non-optional child to complete
// successfully. On any child fault it cancels the rest, awaits them, and
// propagates the fault (aggregated, if more than one fault is observed
// while draining). On ambient cancellation it cancels every child and
// propagates the cancellation.
func WaitForAny(factories ...func() Awaitable) Task {
	return func(ctx context.Context) (any, error) {
		return executor.Suspend(ctx, func(ctx context.Context) (executor.Func, error) {
			return func(ctx context.Context) (any, error) {
				return waitForAnyBlocking(ctx, factories)
			}, nil
		})
	}
}

func waitForAnyBlocking(ctx context.Context, factories []func() Awaitable) (any, error) {
	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	n := len(factories)
	children := make([]Awaitable, n)
	for i, f := range factories {
		children[i] = f()
	}

	type childResult struct {
		index int
		err   error
	}
	results := make(chan childResult, n)
	for i, c := range children {
		i, c := i, c
		go func() {
			_, err := c.Task(childCtx)
			results <- childResult{index: i, err: err}
		}()
	}

	isExpectedCancel := func(err error) bool {
		return err == nil || errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
	}

	var (
		winner  = -1
		faults  []error
		ambient bool
	)
	decisive := func() bool { return winner >= 0 || len(faults) > 0 || ambient }

	collected := 0
	for collected < n {
		if decisive() {
			r := <-results
			collected++
			if !isExpectedCancel(r.err) {
				faults = append(faults, r.err)
			}
			continue
		}
		select {
		case <-ctx.Done():
			ambient = true
			cancel()
		case r := <-results:
			collected++
			switch {
			case !isExpectedCancel(r.err):
				faults = append(faults, r.err)
				cancel()
			case r.err == nil && !children[r.index].Optional:
				winner = r.index
				cancel()
			}
		}
	}

	switch {
	case ambient:
		return nil, ErrCanceled
	case len(faults) == 1:
		return nil, faults[0]
	case len(faults) > 1:
		return nil, &AggregateError{Errors: faults}
	case winner >= 0:
		return winner, nil
	default:
		// Every child was optional and none faulted: the group never had a
		// non-optional success to resolve on.
		return nil, ErrCanceled
	}
}
