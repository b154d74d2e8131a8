package statemachine

import (
	"errors"
	"fmt"
)

// ErrRestoreMismatch signals divergence between an enter handler's chosen
// transition and the persisted statesHistory during restoration. It is
// internal: observing it aborts restoration gracefully rather than
// propagating as a workflow fault.
var ErrRestoreMismatch = errors.New("statemachine: restore mismatch")

// InvalidStateConfigurationError reports a missing referenced parent state
// (from Config.Validate) or an onAsync operation that does not start with
// Invoke (at run time). Duplicate states and unknown action categories are
// not reported.
type InvalidStateConfigurationError struct {
	Reason string
}

func (e *InvalidStateConfigurationError) Error() string {
	return fmt.Sprintf("statemachine: invalid configuration: %s", e.Reason)
}
