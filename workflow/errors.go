package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateAction is returned by ConfigureAction when name or any of
	// its synonyms is already registered.
	ErrDuplicateAction = errors.New("workflow: action already registered")
	// ErrCanceled marks a workflow that completed because cancellation was
	// requested.
	ErrCanceled = errors.New("workflow: canceled")
	// ErrUnexpectedChildCancellation is the fault recorded when RunAsync's
	// root task observes cancellation without CancelWorkflow/StopWorkflow
	// having been called first.
	ErrUnexpectedChildCancellation = errors.New("workflow: unexpected child cancellation")
)

// ActionNotConfiguredError is returned by ExecuteAction when name (or any of
// its synonyms) was never registered via ConfigureAction.
type ActionNotConfiguredError struct {
	Name string
}

func (e *ActionNotConfiguredError) Error() string {
	return fmt.Sprintf("workflow: action %q not configured", e.Name)
}

// ActionNotAllowedError is returned by ExecuteAction (when throwNotAllowed
// is true) when the workflow's current state disallows the action.
type ActionNotAllowedError struct {
	Name string
}

func (e *ActionNotAllowedError) Error() string {
	return fmt.Sprintf("workflow: action %q not allowed in the current state", e.Name)
}
