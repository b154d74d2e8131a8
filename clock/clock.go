// Package clock abstracts wall-clock time so workflow code can be driven
// deterministically in tests. Production code uses RealClock, a thin wrapper
// over k8s.io/utils/clock; tests use NewTestingClock, which publishes a
// timeAdjusted notification whenever the time is moved forward.
package clock

import (
	"sync"
	"time"

	k8sclock "k8s.io/utils/clock"
)

// Clock is the minimal time source every runtime component depends on.
type Clock interface {
	Now() time.Time
	UtcNow() time.Time
}

// TestingClock extends Clock with the ability to move time forward and
// observe those movements. SetCurrentTime never moves time backward: a call
// with t <= current is a no-op and returns false.
type TestingClock interface {
	Clock
	// SetCurrentTime advances the clock to t. Returns false (no-op) if t is
	// not strictly after the current time.
	SetCurrentTime(t time.Time) bool
	// Subscribe registers for timeAdjusted notifications. The returned
	// cancel func must be called to unsubscribe; failing to do so leaks the
	// channel and its goroutine-visible buffer.
	Subscribe() (ch <-chan time.Time, cancel func())
}

// realClock wraps k8s.io/utils/clock.Clock, giving production code a
// Clock implementation with zero behavioral difference from time.Now/time.Time.UTC.
type realClock struct {
	inner k8sclock.Clock
}

// NewRealClock constructs a Clock backed by the real wall clock.
func NewRealClock() Clock {
	return realClock{inner: k8sclock.RealClock{}}
}

func (r realClock) Now() time.Time    { return r.inner.Now() }
func (r realClock) UtcNow() time.Time { return r.inner.Now().UTC() }

// testingClock is a manually-advanced clock for deterministic tests. Moving
// time forward publishes to every live subscriber channel; equal-or-backward
// moves are no-ops (B3 in spec.md §8).
type testingClock struct {
	mu          sync.Mutex
	now         time.Time
	nextID      int
	subscribers map[int]chan time.Time
}

// NewTestingClock constructs a TestingClock starting at the given time.
func NewTestingClock(start time.Time) TestingClock {
	return &testingClock{
		now:         start,
		subscribers: make(map[int]chan time.Time),
	}
}

func (c *testingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testingClock) UtcNow() time.Time {
	return c.Now().UTC()
}

func (c *testingClock) SetCurrentTime(t time.Time) bool {
	c.mu.Lock()
	if !t.After(c.now) {
		c.mu.Unlock()
		return false
	}
	c.now = t
	subs := make([]chan time.Time, 0, len(c.subscribers))
	for _, ch := range c.subscribers {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- t:
		default:
			// Slow subscriber; drop rather than block the clock advance.
		}
	}
	return true
}

func (c *testingClock) Subscribe() (<-chan time.Time, func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	ch := make(chan time.Time, 1)
	c.subscribers[id] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
	return ch, cancel
}
