package executor

import "context"

// Future is the result of a Submit/SubmitForced call. It resolves exactly
// once, either when fn returns or when the executor discards the work
// (closed before or during dispatch).
type Future struct {
	done chan struct{}
	val  any
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(val any, err error) {
	f.val, f.err = val, err
	close(f.done)
}

// Wait blocks until the future resolves or ctx is done, whichever comes
// first. A ctx cancellation does not cancel the underlying work; it only
// stops this particular caller from waiting on it.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsReady reports whether the future has already resolved, without blocking.
func (f *Future) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
