// Package montecarlo implements a gopter-driven property harness for
// stress-testing timing-sensitive wait operators (wait.WaitForAny,
// wait.WaitWithTimeout, wait.WaitForDate and friends): it runs many
// randomized trials, each firing a set of triggers at randomized relative
// offsets against a clock.TestingClock, and asserts that a Task's outcome is
// a deterministic function of trigger ORDER rather than of wall-clock
// scheduling noise. Grounded on the teacher/pack's gopter usage style
// (registry/store/mongo's property tests): gopter generators drive the
// randomization, gopter properties assert the invariant across many trials.
package montecarlo

import (
	"context"
	"sort"
	"time"

	"github.com/luno/workflowcore/clock"
)

// Trigger is one randomized event a Trial fires at a scheduled clock offset.
type Trigger struct {
	Name   string
	Offset time.Duration
	Fire   func()
}

// Trial is one randomized scenario: a Task under test plus the triggers that
// drive it, evaluated against a shared TestingClock.
type Trial struct {
	Clock    clock.TestingClock
	Triggers []Trigger
	Task     func(ctx context.Context) (any, error)
}

// Outcome is what one randomized run of a Trial produced, plus the trigger
// name (if any) whose offset was earliest - the outcome a correct Task
// implementation should have produced.
type Outcome struct {
	Value        any
	Err          error
	EarliestName string
}

// settleDelay is a short real-time pause Run inserts between firing
// consecutive triggers. Offset only orders triggers logically; a Task's
// decision is made by real goroutine scheduling once a trigger fires, so
// without a settle gap two triggers fired back-to-back can race each other
// through that relay regardless of which was "earlier".
const settleDelay = 15 * time.Millisecond

// Run fires every trigger in increasing Offset order (stable on ties, so
// repeated runs with identical offsets are reproducible), advancing Clock to
// each trigger's offset before firing it and pausing settleDelay between
// consecutive firings, then waits for Task to resolve.
func Run(ctx context.Context, trial Trial) Outcome {
	ordered := append([]Trigger{}, trial.Triggers...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Offset < ordered[j].Offset })

	var earliest string
	if len(ordered) > 0 {
		earliest = ordered[0].Name
	}

	type result struct {
		val any
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		v, err := trial.Task(ctx)
		resultCh <- result{val: v, err: err}
	}()

	base := trial.Clock.UtcNow()
	for i, trig := range ordered {
		trial.Clock.SetCurrentTime(base.Add(trig.Offset))
		trig.Fire()
		if i < len(ordered)-1 {
			time.Sleep(settleDelay)
		}
	}

	select {
	case r := <-resultCh:
		return Outcome{Value: r.val, Err: r.err, EarliestName: earliest}
	case <-ctx.Done():
		return Outcome{Err: ctx.Err(), EarliestName: earliest}
	}
}

// RunMany runs n independently-seeded trials built by next (which should
// return a fresh Trial - a fresh clock and fresh trigger closures - on each
// call) and returns every Outcome, for callers that want to fold a gopter
// property over the batch.
func RunMany(ctx context.Context, n int, next func(i int) Trial) []Outcome {
	out := make([]Outcome, n)
	for i := 0; i < n; i++ {
		out[i] = Run(ctx, next(i))
	}
	return out
}
