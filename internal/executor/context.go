package executor

import "context"

type contextKey struct{}

// activeCell is stored once per dispatch/suspend chain. It is a pointer so
// that Suspend can update the current ticket in place across a yield/resume
// round trip without needing every caller to thread a fresh context back up
// the stack.
type activeCell struct {
	executor *Executor
	ticket   *ticket
}

func withActive(ctx context.Context, e *Executor, t *ticket) context.Context {
	return context.WithValue(ctx, contextKey{}, &activeCell{executor: e, ticket: t})
}

func fromContext(ctx context.Context) (*Executor, *ticket, bool) {
	cell, ok := ctx.Value(contextKey{}).(*activeCell)
	if !ok {
		return nil, nil, false
	}
	return cell.executor, cell.ticket, true
}

func ctxWithResumedTicket(ctx context.Context, t *ticket) {
	if cell, ok := ctx.Value(contextKey{}).(*activeCell); ok {
		cell.ticket = t
	}
}
