// Package statemachine implements the hierarchical state machine layer:
// nested states with enter/activate/async/exit handlers, a transition
// planner that computes the path between states via their lowest common
// ancestor, self-transition semantics, and replay ("restoring state") after
// reload from storage.
//
// A Layer composes onto a workflow.Instance rather than subclassing it - the
// concrete workflow type's Hooks.RunAsync simply delegates to Layer.Run, and
// Hooks.OnActionsInit calls Layer.Attach once the instance exists (see the
// design notes on polymorphism: composition over a class hierarchy).
package statemachine

import "context"

// OpKind tags one step of an async-operation chain. The interpreter walks a
// list of *Op and dispatches on Kind, per the data-driven representation
// favored over typed builder chains.
type OpKind int

const (
	OpDo OpKind = iota
	OpGoTo
	OpInvoke
	OpIf
	OpIfThenGoTo
)

// Handler is a side-effecting step; it may read/write the workflow's data
// through w.
type Handler func(ctx context.Context, w StateContext) error

// Producer runs as the child of Invoke, producing a value consumed by its
// Next chain.
type Producer func(ctx context.Context, w StateContext) (any, error)

// Predicate gates If/IfThenGoTo.
type Predicate func(ctx context.Context, w StateContext) bool

// Op is one node of an async-operation chain: Do and GoTo terminate the
// chain; Invoke and If each carry a child chain (Next); IfThenGoTo
// terminates conditionally with a transition.
type Op struct {
	Kind OpKind

	DoHandler Handler

	GoToTarget any

	InvokeProducer Producer
	Next           *Op

	IfPredicate Predicate

	IfThenGoToPredicate Predicate
	IfThenGoToTarget    any
}

// Do builds a terminal side-effecting step.
func Do(h Handler) *Op { return &Op{Kind: OpDo, DoHandler: h} }

// GoTo builds a terminal transition step.
func GoTo(target any) *Op { return &Op{Kind: OpGoTo, GoToTarget: target} }

// Invoke runs producer, then continues into next with its result available
// via StateContext.LastProduced.
func Invoke(producer Producer, next *Op) *Op {
	return &Op{Kind: OpInvoke, InvokeProducer: producer, Next: next}
}

// If continues into next only when predicate holds; otherwise the chain
// ends without effect.
func If(predicate Predicate, next *Op) *Op {
	return &Op{Kind: OpIf, IfPredicate: predicate, Next: next}
}

// IfThenGoTo transitions to target only when predicate holds.
func IfThenGoTo(predicate Predicate, target any) *Op {
	return &Op{Kind: OpIfThenGoTo, IfThenGoToPredicate: predicate, IfThenGoToTarget: target}
}
