// Package activation implements the per-workflow ActivationDateTracker: the
// minimum of a set of outstanding (handle, deadline) pairs, which sources the
// persisted nextActivationDate field (spec.md §4.2, invariant I2/P2).
//
// A tracker is owned by exactly one workflow and must only be touched from
// that workflow's SerializedExecutor goroutine; it does no locking of its
// own.
package activation

import "time"

// Handle identifies one outstanding wait so it can later be cancelled. Any
// comparable value works; callers typically use a small counter or a pointer.
type Handle any

// Tracker maintains the minimum of a set of live (handle, date) entries. The
// set is expected to be small (the number of concurrently outstanding
// WaitForDate calls on one workflow), so a linear recompute on every
// mutation is simpler and cheaper in practice than maintaining a heap.
type Tracker struct {
	entries map[Handle]time.Time
	min     time.Time
	hasMin  bool
	onChange func(time.Time, bool)
}

// New constructs an empty Tracker. onChange, if non-nil, is invoked whenever
// the minimum moves, with (newMin, hasMin).
func New(onChange func(time.Time, bool)) *Tracker {
	return &Tracker{
		entries:  make(map[Handle]time.Time),
		onChange: onChange,
	}
}

// Add records date for handle. A date of time.Time{} (zero) or any value
// representing "+∞" in the caller's domain should instead simply not be
// added: per spec.md §4.2, Add with date == +∞ is a no-op. This package
// models +∞ as the caller never calling Add for that handle.
func (t *Tracker) Add(handle Handle, date time.Time) {
	t.entries[handle] = date
	t.recompute()
}

// OnCancel drops handle's entry, recomputing the minimum if it was the
// current one.
func (t *Tracker) OnCancel(handle Handle) {
	if _, ok := t.entries[handle]; !ok {
		return
	}
	delete(t.entries, handle)
	t.recompute()
}

// Next returns the current minimum deadline and whether one exists.
func (t *Tracker) Next() (time.Time, bool) {
	return t.min, t.hasMin
}

// Len reports the number of live entries, mostly useful for tests and
// diagnostics.
func (t *Tracker) Len() int {
	return len(t.entries)
}

func (t *Tracker) recompute() {
	var (
		newMin time.Time
		found  bool
	)
	for _, d := range t.entries {
		if !found || d.Before(newMin) {
			newMin = d
			found = true
		}
	}
	moved := found != t.hasMin || (found && !newMin.Equal(t.min))
	t.min, t.hasMin = newMin, found
	if moved && t.onChange != nil {
		t.onChange(t.min, t.hasMin)
	}
}
