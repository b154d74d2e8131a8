package workflow

import (
	"context"
	"sync"
)

// Signal is a one-shot completion future: the first of Resolve/Reject wins,
// and later calls are no-ops. Used for startedSignal, stateInitializedSignal
// and completedSignal (invariant I4 - only one terminal outcome is ever
// latched).
type Signal struct {
	mu       sync.Mutex
	done     chan struct{}
	val      any
	err      error
	resolved bool
}

// NewSignal constructs an unresolved Signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Resolve completes the signal successfully with val. A no-op if already
// resolved.
func (s *Signal) Resolve(val any) {
	s.complete(val, nil)
}

// Reject completes the signal with an error. A no-op if already resolved.
func (s *Signal) Reject(err error) {
	s.complete(nil, err)
}

func (s *Signal) complete(val any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved {
		return
	}
	s.resolved = true
	s.val, s.err = val, err
	close(s.done)
}

// Wait blocks until the signal resolves or ctx is done.
func (s *Signal) Wait(ctx context.Context) (any, error) {
	select {
	case <-s.done:
		return s.val, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsResolved reports whether the signal has already completed.
func (s *Signal) IsResolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
