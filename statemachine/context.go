package statemachine

import "github.com/luno/workflowcore/workflow"

// StateContext is handed to every Handler/Producer/Predicate. LastProduced
// carries the result of the nearest enclosing Invoke in the chain (nil
// outside one).
type StateContext interface {
	Workflow() *workflow.Instance
	LastProduced() any
}

type stateCtx struct {
	w        *workflow.Instance
	produced any
}

func (c stateCtx) Workflow() *workflow.Instance { return c.w }
func (c stateCtx) LastProduced() any            { return c.produced }
