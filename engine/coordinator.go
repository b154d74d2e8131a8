package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/luno/workflowcore/wait"
	"github.com/luno/workflowcore/workflow"
)

type triggerKind int

const (
	triggerAction triggerKind = iota
	triggerState
)

// Trigger selects what event on a dependency's source workflow fires it:
// either an action execution or a named state being entered.
type Trigger struct {
	kind        triggerKind
	actionName  string
	stateSource wait.StateSource
	state       any
}

// OnAction builds a Trigger that fires when actionName (or one of its
// synonyms) executes on the dependency's source workflow.
func OnAction(actionName string) Trigger {
	return Trigger{kind: triggerAction, actionName: actionName}
}

// OnState builds a Trigger that fires when source's state machine commits
// to state (a live, non-restoring transition). source is the
// statemachine.Layer backing the src workflow, since *workflow.Instance
// alone carries no state-machine notion.
func OnState(source wait.StateSource, state any) Trigger {
	return Trigger{kind: triggerState, stateSource: source, state: state}
}

// UnhandledExceptionEvent is published when a dependency callback panics.
// Per spec.md §7, coordinator-level handler faults surface this way rather
// than tearing down the engine.
type UnhandledExceptionEvent struct {
	SourceSlot string
	Err        error
}

type dependency struct {
	srcName       string
	trigger       Trigger
	dstName       string
	onFired       func(src, dst *workflow.Instance)
	onSrcCanceled func(src, dst *workflow.Instance)
	bound         bool
	unsubscribe   func()
}

// Coordinator wires cross-workflow dependencies (action-trigger,
// state-trigger, cancellation propagation) over a set of named workflow
// slots, per spec.md §4.7. Grounded on the same registry style as Engine;
// the extra indirection through named slots (rather than direct *Instance
// references) exists because RegisterWorkflowDependency may be called
// before the workflows it references are resolved - SetWorkflows is what
// populates the slots and binds any dependencies recorded so far.
type Coordinator struct {
	mu    sync.Mutex
	slots map[string]*workflow.Instance
	deps  []*dependency

	listeners map[int]func(UnhandledExceptionEvent)
	nextSub   int
}

// NewCoordinator constructs an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		slots:     make(map[string]*workflow.Instance),
		listeners: make(map[int]func(UnhandledExceptionEvent)),
	}
}

// RegisterWorkflowDependency records a dependency from the slot srcName to
// the slot dstName: once both are bound (via SetWorkflows), every
// observation of trigger on src invokes onFired(src, dst); if src's
// workflow is cancelled, onSrcCanceled (if non-nil) runs once dst is bound.
func (c *Coordinator) RegisterWorkflowDependency(srcName string, trigger Trigger, dstName string, onFired, onSrcCanceled func(src, dst *workflow.Instance)) {
	c.mu.Lock()
	c.deps = append(c.deps, &dependency{
		srcName:       srcName,
		trigger:       trigger,
		dstName:       dstName,
		onFired:       onFired,
		onSrcCanceled: onSrcCanceled,
	})
	c.mu.Unlock()
}

// SetWorkflows resolves every name -> id mapping via eng.GetActiveWorkflowByID
// and stores the result in the corresponding named slot. When initDeps is
// true, every dependency recorded so far whose source slot is now bound is
// subscribed, in registration order.
func (c *Coordinator) SetWorkflows(ctx context.Context, eng *Engine, mapping map[string]any, initDeps bool) error {
	for name, id := range mapping {
		w, err := eng.GetActiveWorkflowByID(ctx, id)
		if err != nil {
			return fmt.Errorf("engine: coordinator resolve slot %q: %w", name, err)
		}
		c.mu.Lock()
		c.slots[name] = w
		c.mu.Unlock()
	}
	if initDeps {
		return c.bindPending()
	}
	return nil
}

func (c *Coordinator) bindPending() error {
	c.mu.Lock()
	deps := append([]*dependency{}, c.deps...)
	c.mu.Unlock()

	for _, d := range deps {
		c.mu.Lock()
		_, srcBound := c.slots[d.srcName]
		c.mu.Unlock()
		if d.bound || !srcBound {
			continue
		}
		if err := c.bind(d); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) bind(d *dependency) error {
	c.mu.Lock()
	src, ok := c.slots[d.srcName]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: coordinator dependency source slot %q not bound", d.srcName)
	}

	lookupDst := func() *workflow.Instance {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.slots[d.dstName]
	}

	var unsubTrigger func()
	switch d.trigger.kind {
	case triggerAction:
		unsubTrigger = src.SubscribeActionExecuted(func(synonyms map[string]struct{}, _ any) {
			if _, ok := synonyms[d.trigger.actionName]; !ok {
				return
			}
			if dst := lookupDst(); dst != nil {
				c.safeCall(d.srcName, func() { d.onFired(src, dst) })
			}
		})
	case triggerState:
		unsubTrigger = d.trigger.stateSource.SubscribeStateChanged(func(newState any, restoring bool) {
			if restoring || newState != d.trigger.state {
				return
			}
			if dst := lookupDst(); dst != nil {
				c.safeCall(d.srcName, func() { d.onFired(src, dst) })
			}
		})
	}

	var stopCancelWatch func()
	if d.onSrcCanceled != nil {
		stop := context.AfterFunc(src.Context(), func() {
			if dst := lookupDst(); dst != nil {
				c.safeCall(d.srcName, func() { d.onSrcCanceled(src, dst) })
			}
		})
		stopCancelWatch = func() { stop() }
	}

	d.unsubscribe = func() {
		if unsubTrigger != nil {
			unsubTrigger()
		}
		if stopCancelWatch != nil {
			stopCancelWatch()
		}
	}
	d.bound = true
	return nil
}

// DependencyEdge describes one registered dependency for external
// introspection (e.g. the graph renderer), without exposing the Trigger's
// internal kind/state fields.
type DependencyEdge struct {
	SrcSlot     string
	DstSlot     string
	TriggerDesc string
	Bound       bool
}

// DependencyEdges returns a snapshot of every registered dependency, in
// registration order.
func (c *Coordinator) DependencyEdges() []DependencyEdge {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DependencyEdge, 0, len(c.deps))
	for _, d := range c.deps {
		out = append(out, DependencyEdge{
			SrcSlot:     d.srcName,
			DstSlot:     d.dstName,
			TriggerDesc: d.trigger.describe(),
			Bound:       d.bound,
		})
	}
	return out
}

// describe renders a short human-readable label for a Trigger, used only by
// diagnostic tooling.
func (t Trigger) describe() string {
	switch t.kind {
	case triggerAction:
		return fmt.Sprintf("action:%s", t.actionName)
	case triggerState:
		return fmt.Sprintf("state:%v", t.state)
	default:
		return "unknown"
	}
}

// OnUnhandledException subscribes to dependency-callback panics. The
// returned func unsubscribes.
func (c *Coordinator) OnUnhandledException(fn func(UnhandledExceptionEvent)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) emit(ev UnhandledExceptionEvent) {
	c.mu.Lock()
	fns := make([]func(UnhandledExceptionEvent), 0, len(c.listeners))
	for _, f := range c.listeners {
		fns = append(fns, f)
	}
	c.mu.Unlock()
	for _, f := range fns {
		f(ev)
	}
}

func (c *Coordinator) safeCall(slot string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.emit(UnhandledExceptionEvent{SourceSlot: slot, Err: fmt.Errorf("engine: dependency callback panic: %v", r)})
		}
	}()
	fn()
}
