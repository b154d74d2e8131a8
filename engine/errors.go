package engine

import "errors"

// ErrWorkflowNotFound is returned by GetActiveWorkflowByID when no running
// or persisted-active entry exists for the given id.
var ErrWorkflowNotFound = errors.New("engine: workflow not found")
