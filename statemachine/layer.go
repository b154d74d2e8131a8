package statemachine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/luno/workflowcore/wait"
	"github.com/luno/workflowcore/workflow"
)

// StateStats tracks how many times a state has been entered.
// IgnoreSuppressionEnteredCounter mirrors EnteredCounter in this
// implementation: entry suppression (the stateDefinitions suppress-set
// mechanism in the original stateful-workflow data model) is not modeled
// separately from the hierarchical layer here, so every entry counts
// against both counters (see DESIGN.md).
type StateStats struct {
	EnteredCounter                  int
	IgnoreSuppressionEnteredCounter int
}

type histEntry[S comparable] struct {
	State S
	At    time.Time
}

// LayerOption configures a Layer at construction time.
type LayerOption[S comparable] func(*Layer[S])

// WithFullStatesHistoryLimit caps fullStatesHistory's length (FIFO
// eviction). Defaults to 100.
func WithFullStatesHistoryLimit[S comparable](n int) LayerOption[S] {
	return func(l *Layer[S]) { l.fullHistoryLimit = n }
}

// WithOnStateChanged registers a callback invoked after every committed
// transition (after persistence and listener notification).
func WithOnStateChanged[S comparable](fn func(ctx context.Context, state S, restoring bool)) LayerOption[S] {
	return func(l *Layer[S]) { l.onStateChanged = fn }
}

// Layer is the hierarchical state machine runtime for one workflow type. It
// composes onto a workflow.Instance: the concrete workflow's
// Hooks.OnActionsInit calls Attach, and Hooks.RunAsync calls Run.
type Layer[S comparable] struct {
	cfg     *Config[S]
	initial S
	w       *workflow.Instance

	current    S
	hasCurrent bool

	statesHistory     []S
	fullStatesHistory []histEntry[S]
	fullHistoryLimit  int
	statesStats       map[S]*StateStats

	isRestoringState        bool
	transientStatesHistory  []S

	pendingCh chan S

	mu        sync.Mutex
	listeners map[int]func(any, bool)
	nextSub   int

	onStateChanged func(ctx context.Context, state S, restoring bool)
}

// NewLayer constructs a Layer that starts in initial (subject to
// restoration from persisted history, discovered on the first Run call).
func NewLayer[S comparable](cfg *Config[S], initial S, opts ...LayerOption[S]) *Layer[S] {
	l := &Layer[S]{
		cfg:              cfg,
		initial:          initial,
		statesStats:      make(map[S]*StateStats),
		pendingCh:        make(chan S, 1),
		fullHistoryLimit: 100,
		listeners:        make(map[int]func(any, bool)),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Attach wires the layer into w as its action allowance policy. Call from
// the concrete workflow type's OnActionsInit.
func (l *Layer[S]) Attach(w *workflow.Instance) {
	l.w = w
	w.SetActionAllowancePolicy(l)
}

// CurrentState implements wait.StateSource.
func (l *Layer[S]) CurrentState() (any, bool) { return l.current, l.hasCurrent }

// IsRestoringState implements wait.StateSource.
func (l *Layer[S]) IsRestoringState() bool { return l.isRestoringState }

// SubscribeStateChanged implements wait.StateSource.
func (l *Layer[S]) SubscribeStateChanged(fn func(any, bool)) func() {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.listeners[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// IsActionAllowed implements workflow.ActionAllowancePolicy: walk from the
// innermost (leaf) state outward, the first state whose allow/disallow
// lists mention canonical decides; no decision anywhere defaults to allowed.
func (l *Layer[S]) IsActionAllowed(canonical string) bool {
	path := l.currentPath()
	for i := len(path) - 1; i >= 0; i-- {
		sc := l.cfg.states[path[i]]
		if _, disallow := sc.DisallowActions[canonical]; disallow {
			return false
		}
		if _, allow := sc.AllowActions[canonical]; allow {
			return true
		}
	}
	return true
}

// InitiateTransitionTo requests a transition to target. If a transition is
// already pending (not yet observed by the interpreter loop), the request
// is dropped in favor of the one already queued - a deliberate
// simplification of the per-level pending-transition signal described for
// the fully recursive interpreter (see DESIGN.md).
func (l *Layer[S]) InitiateTransitionTo(target S) {
	select {
	case l.pendingCh <- target:
	default:
	}
}

// StatesHistory returns a copy of the last <=2 committed states (I3).
func (l *Layer[S]) StatesHistory() []S {
	out := make([]S, len(l.statesHistory))
	copy(out, l.statesHistory)
	return out
}

// Stats returns a copy of the stats recorded for state.
func (l *Layer[S]) Stats(state S) StateStats {
	if st, ok := l.statesStats[state]; ok {
		return *st
	}
	return StateStats{}
}

// Run is the root suspending function for a stateful workflow: it drives
// the interpreter loop for the life of the workflow, returning only on
// cancellation or a handler fault. Call from the concrete workflow type's
// Hooks.RunAsync.
func (l *Layer[S]) Run(ctx context.Context, w *workflow.Instance) error {
	l.w = w
	l.loadRestorationState()

	// Entering the configured initial state is bootstrap: it is checked
	// against transientStatesHistory only when history's head is initial
	// itself (e.g. a workflow persisted right after its first transition).
	// Otherwise initial is entered without consuming history, since
	// statesHistory keeps only the last two committed states and initial has
	// usually fallen off it.
	checkInitial := l.isRestoringState && len(l.transientStatesHistory) > 0 && l.transientStatesHistory[0] == l.initial
	if err := l.transitionTo(ctx, l.initial, checkInitial); err != nil {
		return err
	}
	if !l.isRestoringState {
		// A fresh start (no persisted history) has nothing to restore.
		l.w.StateInitialized().Resolve(nil)
	}

	for {
		target, err := l.awaitNextTransition(ctx)
		if err != nil {
			return err
		}
		if err := l.transitionTo(ctx, target, true); err != nil {
			return err
		}
	}
}

func (l *Layer[S]) currentPath() []S {
	if !l.hasCurrent {
		return nil
	}
	return l.cfg.pathTo(l.current)
}

// transitionTo runs the exit/enter (or exit/activate) chain from the
// current path to target's and commits it. checkRestore controls whether
// target is checked against transientStatesHistory: Run's bootstrap entry
// into the initial state passes true only when history's head is initial
// (see Run). Every other caller passes true, including
// transitionTo's own redirect recursion, since a redirect is a genuine new
// SetState.
func (l *Layer[S]) transitionTo(ctx context.Context, target S, checkRestore bool) (err error) {
	ctx, span := l.w.Tracer().Start(ctx, "statemachine.transitionTo")
	span.AddEvent("target", "state", fmt.Sprintf("%v", target))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// continuingRestore decides, before any handler runs, both (a) whether
	// this state is entered via OnActivate rather than OnEnter and (b)
	// whether this commit continues replaying transientStatesHistory. For
	// the bootstrap call (checkRestore false) only (a) applies, driven
	// directly by isRestoringState: the initial state's entry is never
	// itself checked against history. For every other transition, a target
	// that doesn't match the next expected history entry runs with
	// ordinary OnEnter semantics and ends restoration right here (P4(b),
	// scenario 4), rather than running OnActivate for a state history never
	// expected.
	continuingRestore := l.isRestoringState
	if checkRestore {
		continuingRestore = l.isRestoringState &&
			len(l.transientStatesHistory) > 0 && l.transientStatesHistory[0] == target
	}

	oldPath := l.currentPath()
	newPath := l.cfg.pathTo(target)

	// When target is the current state itself or one of its ancestors,
	// newPath is a prefix of (or equal to) oldPath: re-exit and re-enter
	// target itself (the "self-transition" case), leaving target's own
	// ancestors untouched.
	lca := commonPrefixLen(oldPath, newPath)
	if l.hasCurrent && isPrefixOrEqual(newPath, oldPath) {
		lca = len(newPath) - 1
	}

	for i := len(oldPath) - 1; i >= lca; i-- {
		sc := l.cfg.states[oldPath[i]]
		redirect, err := l.runChainSync(ctx, sc.OnExit)
		if err != nil {
			return err
		}
		if redirect != nil {
			return l.transitionTo(ctx, *redirect, true)
		}
	}

	for i := lca; i < len(newPath); {
		sc := l.cfg.states[newPath[i]]
		if continuingRestore {
			// Activation handlers replay the decisions the original run
			// made from live triggers, re-derived from persisted data; any
			// transition they request is queued like an onAsync one
			// (checked against transientStatesHistory once that state
			// commits), rather than abandoning this state's entry.
			if err := l.runActivateList(ctx, sc.OnActivate); err != nil {
				return err
			}
			i++
			continue
		}
		redirect, err := l.runChainSync(ctx, sc.OnEnter)
		if err != nil {
			return err
		}
		if redirect != nil {
			if *redirect == newPath[i] {
				continue // in-place restart: redo just this level's entry
			}
			return l.transitionTo(ctx, *redirect, true)
		}
		i++
	}

	l.commit(ctx, target, checkRestore, continuingRestore)
	return nil
}

func (l *Layer[S]) commit(ctx context.Context, target S, checkRestore bool, continuingRestore bool) {
	l.current = target
	l.hasCurrent = true

	l.statesHistory = append(l.statesHistory, target)
	if len(l.statesHistory) > 2 {
		l.statesHistory = l.statesHistory[len(l.statesHistory)-2:]
	}

	limit := l.fullHistoryLimit
	if limit <= 0 {
		limit = 100
	}
	l.fullStatesHistory = append(l.fullStatesHistory, histEntry[S]{State: target, At: l.w.Clock().UtcNow()})
	if len(l.fullStatesHistory) > limit {
		l.fullStatesHistory = l.fullStatesHistory[len(l.fullStatesHistory)-limit:]
	}

	st, ok := l.statesStats[target]
	if !ok {
		st = &StateStats{}
		l.statesStats[target] = st
	}
	st.EnteredCounter++
	st.IgnoreSuppressionEnteredCounter++

	if checkRestore {
		l.applyRestorationCheck(ctx, continuingRestore)
	}

	if !continuingRestore {
		l.persist()
		l.w.SaveWorkflowData(ctx)
	}

	l.notifyStateChanged(target, continuingRestore)
	if l.onStateChanged != nil {
		l.onStateChanged(ctx, target, continuingRestore)
	}
}

// applyRestorationCheck implements the per-SetState restoration check,
// given the match decision already made in transitionTo: continuing pops
// the head of transientStatesHistory; otherwise restoration aborts.
// Either way, exhausting transientStatesHistory ends restoration, firing
// stateInitializedSignal and a save (I7, P4, scenario 4).
func (l *Layer[S]) applyRestorationCheck(ctx context.Context, continuing bool) {
	if !l.isRestoringState {
		return
	}
	if continuing {
		l.transientStatesHistory = l.transientStatesHistory[1:]
	}
	if !continuing || len(l.transientStatesHistory) == 0 {
		l.isRestoringState = false
		l.transientStatesHistory = nil
		l.w.StateInitialized().Resolve(nil)
		l.w.SaveWorkflowData(ctx)
	}
}

func (l *Layer[S]) loadRestorationState() {
	raw, ok := l.w.Data().Get("statesHistory")
	if !ok {
		return
	}
	hist, ok := raw.([]S)
	if !ok || len(hist) == 0 {
		return
	}
	l.transientStatesHistory = append([]S{}, hist...)
	l.isRestoringState = true
}

func (l *Layer[S]) persist() {
	l.w.Data().Set("statesHistory", l.StatesHistory())
	l.w.Data().Set("fullStatesHistory", append([]histEntry[S]{}, l.fullStatesHistory...))
}

func (l *Layer[S]) notifyStateChanged(state S, restoring bool) {
	l.mu.Lock()
	fns := make([]func(any, bool), 0, len(l.listeners))
	for _, f := range l.listeners {
		fns = append(fns, f)
	}
	l.mu.Unlock()
	for _, f := range fns {
		f(state, restoring)
	}
}

func (l *Layer[S]) awaitNextTransition(ctx context.Context) (S, error) {
	var zero S
	var won S

	path := l.currentPath()
	var factories []func() wait.Awaitable
	for _, name := range path {
		sc := l.cfg.states[name]
		for _, op := range sc.OnAsync {
			op := op
			factories = append(factories, func() wait.Awaitable {
				return wait.Optional(l.processOnAsync(op))
			})
		}
	}

	transitionTask := func(ctx context.Context) (any, error) {
		select {
		case s := <-l.pendingCh:
			won = s
			return s, nil
		case <-ctx.Done():
			return nil, wait.ErrCanceled
		}
	}
	factories = append(factories, func() wait.Awaitable { return wait.Required(transitionTask) })

	group := wait.WaitForAny(factories...)
	idx, err := group(ctx)
	if err != nil {
		return zero, err
	}
	if idx.(int) != len(factories)-1 {
		// Defensive: every non-terminal factory is Optional, so only the
		// transition task can resolve the group non-optionally.
		return l.awaitNextTransition(ctx)
	}
	return won, nil
}

func (l *Layer[S]) processOnAsync(op *Op) wait.Task {
	return func(ctx context.Context) (any, error) {
		for {
			if op.Kind != OpInvoke {
				return nil, &InvalidStateConfigurationError{Reason: "onAsync operations must start with Invoke"}
			}
			val, err := op.InvokeProducer(ctx, stateCtx{w: l.w})
			if err != nil {
				return nil, err
			}
			if err := l.runChainAsync(ctx, op.Next, val); err != nil {
				return nil, err
			}
		}
	}
}

func (l *Layer[S]) runChainAsync(ctx context.Context, op *Op, produced any) error {
	sc := stateCtx{w: l.w, produced: produced}
	for op != nil {
		switch op.Kind {
		case OpDo:
			return op.DoHandler(ctx, sc)
		case OpGoTo:
			l.InitiateTransitionTo(op.GoToTarget.(S))
			return nil
		case OpInvoke:
			val, err := op.InvokeProducer(ctx, sc)
			if err != nil {
				return err
			}
			sc = stateCtx{w: l.w, produced: val}
			op = op.Next
		case OpIf:
			if op.IfPredicate(ctx, sc) {
				op = op.Next
			} else {
				return nil
			}
		case OpIfThenGoTo:
			if op.IfThenGoToPredicate(ctx, sc) {
				l.InitiateTransitionTo(op.IfThenGoToTarget.(S))
			}
			return nil
		}
	}
	return nil
}

// runActivateList runs every activation chain in ops (a state's full
// OnActivate list) unconditionally, routing any transition request through
// InitiateTransitionTo rather than short-circuiting - replay must not skip
// committing the state being activated (see transitionTo).
func (l *Layer[S]) runActivateList(ctx context.Context, ops []*Op) error {
	for _, op := range ops {
		if err := l.runChainAsync(ctx, op, nil); err != nil {
			return err
		}
	}
	return nil
}

// runChainSync runs ops (an OnEnter/OnActivate/OnExit list) in order,
// stopping at the first one that requests a transition.
func (l *Layer[S]) runChainSync(ctx context.Context, ops []*Op) (*S, error) {
	for _, op := range ops {
		target, err := l.runOneSync(ctx, op, nil)
		if err != nil {
			return nil, err
		}
		if target != nil {
			return target, nil
		}
	}
	return nil, nil
}

func (l *Layer[S]) runOneSync(ctx context.Context, op *Op, produced any) (*S, error) {
	sc := stateCtx{w: l.w, produced: produced}
	switch op.Kind {
	case OpDo:
		return nil, op.DoHandler(ctx, sc)
	case OpGoTo:
		t := op.GoToTarget.(S)
		return &t, nil
	case OpInvoke:
		val, err := op.InvokeProducer(ctx, sc)
		if err != nil {
			return nil, err
		}
		if op.Next == nil {
			return nil, nil
		}
		return l.runOneSync(ctx, op.Next, val)
	case OpIf:
		if !op.IfPredicate(ctx, sc) {
			return nil, nil
		}
		if op.Next == nil {
			return nil, nil
		}
		return l.runOneSync(ctx, op.Next, produced)
	case OpIfThenGoTo:
		if op.IfThenGoToPredicate(ctx, sc) {
			t := op.IfThenGoToTarget.(S)
			return &t, nil
		}
		return nil, nil
	}
	return nil, nil
}

func commonPrefixLen[S comparable](a, b []S) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func isPrefixOrEqual[S comparable](prefix, full []S) bool {
	if len(prefix) > len(full) {
		return false
	}
	for i := range prefix {
		if prefix[i] != full[i] {
			return false
		}
	}
	return true
}
