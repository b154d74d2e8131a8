package wait

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStateSource struct {
	mu        sync.Mutex
	current   any
	hasState  bool
	restoring bool
	listeners []func(any, bool)
}

func (f *fakeStateSource) SubscribeStateChanged(listener func(any, bool)) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, listener)
	idx := len(f.listeners) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.listeners[idx] = nil
		f.mu.Unlock()
	}
}

func (f *fakeStateSource) CurrentState() (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.hasState
}

func (f *fakeStateSource) IsRestoringState() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restoring
}

func (f *fakeStateSource) setState(s any, restoring bool) {
	f.mu.Lock()
	f.current, f.hasState = s, true
	listeners := append([]func(any, bool){}, f.listeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		if l != nil {
			l(s, restoring)
		}
	}
}

func TestWaitForStateChecksInitialState(t *testing.T) {
	src := &fakeStateSource{current: "Open", hasState: true}
	task := WaitForState(src, "Open", true, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	val, err := task(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Open", val)
}

func TestWaitForStateIgnoresRestoringEvents(t *testing.T) {
	src := &fakeStateSource{}
	task := WaitForState(src, "Closed", false, false)

	done := make(chan any, 1)
	go func() {
		val, err := task(context.Background())
		require.NoError(t, err)
		done <- val
	}()

	time.Sleep(20 * time.Millisecond)
	src.setState("Closed", true) // should be ignored
	select {
	case <-done:
		t.Fatal("a state change raised while restoring must be ignored")
	case <-time.After(50 * time.Millisecond):
	}

	src.setState("Closed", false)
	select {
	case val := <-done:
		assert.Equal(t, "Closed", val)
	case <-time.After(time.Second):
		t.Fatal("WaitForState did not resolve on the live state change")
	}
}
