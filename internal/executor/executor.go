// Package executor implements the SerializedExecutor: the single logical
// thread of control that every workflow instance runs its handlers on.
//
// Go goroutines are already preemptible, so this package does not need a
// userspace coroutine/dispatcher model (contrast the Cadence-style fiber
// dispatcher some of this runtime's ideas are grounded on). Instead,
// exclusivity is enforced by a fair ticket queue: at most one submitted fn
// holds the ticket at a time, submissions are admitted in FIFO order, and a
// suspending wait releases the ticket (letting other queued work run) and
// re-queues fairly behind whatever was submitted meanwhile before resuming.
package executor

import (
	"context"
	"fmt"
	"sync"
)

// Func is the unit of work the executor dispatches.
type Func func(ctx context.Context) (any, error)

type ticket struct {
	turn chan struct{}
}

func newTicket() *ticket {
	return &ticket{turn: make(chan struct{})}
}

// Executor serializes execution of Func values submitted against one
// workflow instance.
type Executor struct {
	mu      sync.Mutex
	queue   []*ticket
	started bool
	closed  bool
	closeErr error
}

// New constructs an Executor. It starts unstarted: ordinary Submit calls
// fail with ErrNotStarted until MarkStarted is called, which is how cold
// start installs workflow state (via SubmitForced) before any externally
// triggered action is allowed to run.
func New() *Executor {
	return &Executor{}
}

// MarkStarted opens the executor to ordinary Submit calls.
func (e *Executor) MarkStarted() {
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
}

// Closed reports whether CancelAndDrain has run.
func (e *Executor) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Submit enqueues fn for serialized execution, subject to the started gate.
func (e *Executor) Submit(ctx context.Context, fn Func) *Future {
	return e.submit(ctx, fn, true)
}

// SubmitForced enqueues fn bypassing the started gate (but not the closed
// gate). Used for cold-start installation of workflow state and for
// cancellation handlers that must run even on a not-yet-started instance.
func (e *Executor) SubmitForced(ctx context.Context, fn Func) *Future {
	return e.submit(ctx, fn, false)
}

func (e *Executor) submit(ctx context.Context, fn Func, gateOnStarted bool) *Future {
	fut := newFuture()

	e.mu.Lock()
	if e.closed {
		err := e.closeErr
		e.mu.Unlock()
		fut.complete(nil, fmt.Errorf("%w: %v", ErrClosed, err))
		return fut
	}
	if gateOnStarted && !e.started {
		e.mu.Unlock()
		fut.complete(nil, ErrNotStarted)
		return fut
	}
	t := e.enqueueLocked()
	e.mu.Unlock()

	go e.dispatch(ctx, fn, fut, t)
	return fut
}

// enqueueLocked appends a new ticket to the queue, admitting it immediately
// if the queue was empty, and must be called with e.mu held.
func (e *Executor) enqueueLocked() *ticket {
	t := newTicket()
	if len(e.queue) == 0 {
		close(t.turn)
	}
	e.queue = append(e.queue, t)
	return t
}

func (e *Executor) dispatch(ctx context.Context, fn Func, fut *Future, t *ticket) {
	<-t.turn

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.advance(t)
		fut.complete(nil, fmt.Errorf("%w: %w", ErrClosed, ErrCanceled))
		return
	}
	e.mu.Unlock()

	ctx2 := withActive(ctx, e, t)
	val, err := fn(ctx2)
	// fn may have suspended and resumed on a fresh ticket; release whichever
	// ticket it holds now.
	_, held, _ := fromContext(ctx2)
	e.advance(held)
	fut.complete(val, err)
}

// advance pops the front ticket (t) and admits the next one, if any.
func (e *Executor) advance(t *ticket) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 || e.queue[0] != t {
		// Already advanced past (e.g. drained by CancelAndDrain); nothing to do.
		return
	}
	e.queue = e.queue[1:]
	if len(e.queue) > 0 {
		close(e.queue[0].turn)
	}
}

// Inline reports whether ctx is executing inline on e - i.e. the caller is
// already the fn currently holding e's ticket.
func (e *Executor) Inline(ctx context.Context) bool {
	owner, _, ok := fromContext(ctx)
	return ok && owner == e
}

// RunOrInline runs fn synchronously if the caller is already running on e
// (avoiding a deadlock-prone self-submission), otherwise submits it and
// blocks for the result.
func (e *Executor) RunOrInline(ctx context.Context, fn Func) (any, error) {
	if e.Inline(ctx) {
		return fn(ctx)
	}
	return e.Submit(ctx, fn).Wait(ctx)
}

// Suspend is how a wait primitive yields the executor while it blocks on an
// external event. arm runs synchronously while the caller still holds its
// ticket, before any other queued submission can be admitted; this is where
// a subscribe to the awaited event must happen, so that nothing can fire and
// be missed between subscribing and releasing the ticket. arm returns the
// blocking wait func. Suspend then releases the ticket (letting other queued
// work dispatch), runs wait, then re-queues fairly and blocks until
// re-admitted before returning wait's result. Suspend is a no-op passthrough
// (arm, then immediately wait) if ctx is not currently running on any
// executor - this lets wait operators be exercised directly in tests,
// outside a workflow. It is likewise a passthrough when called from inside
// another Suspend's wait on the same context (e.g. a WaitForAny child): the
// ticket is already released there, and only the outermost Suspend
// re-queues for it.
func Suspend(ctx context.Context, arm func(ctx context.Context) (Func, error)) (any, error) {
	wait, err := arm(ctx)
	if err != nil {
		return nil, err
	}

	e, t, ok := fromContext(ctx)
	if !ok || t == nil {
		return wait(ctx)
	}

	e.advance(t)
	ctxWithResumedTicket(ctx, nil)

	val, err := wait(ctx)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrClosed, e.closeErr)
	}
	resumeTicket := e.enqueueLocked()
	e.mu.Unlock()

	<-resumeTicket.turn

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		e.advance(resumeTicket)
		return nil, fmt.Errorf("%w: %v", ErrClosed, e.closeErr)
	}

	ctxWithResumedTicket(ctx, resumeTicket)
	return val, err
}

// CancelAndDrain closes the executor: any currently queued (not yet
// dispatched) work is discarded with ErrCanceled, and every future
// submission or suspend-resume fails with ErrClosed wrapping cause. Work
// already executing synchronously is not interrupted; it observes the
// closed state the next time it yields or finishes.
func (e *Executor) CancelAndDrain(cause error) {
	if cause == nil {
		cause = ErrCanceled
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.closeErr = cause
	pending := e.queue
	e.queue = nil
	e.mu.Unlock()

	for _, t := range pending {
		select {
		case <-t.turn:
		default:
			close(t.turn)
		}
	}
}
