package wait

import (
	"errors"
	"fmt"
)

// ErrCanceled is returned by a Task whose ambient context was cancelled
// before it resolved.
var ErrCanceled = errors.New("wait: canceled")

// TimeoutError is returned by WaitWithTimeout when its delay wins the race.
type TimeoutError struct {
	Description string
}

func (e *TimeoutError) Error() string {
	if e.Description == "" {
		return "wait: timeout"
	}
	return fmt.Sprintf("wait: timeout: %s", e.Description)
}

// Timeout builds a TimeoutError with the given description.
func Timeout(description string) error {
	return &TimeoutError{Description: description}
}

// AggregateError collects more than one fault observed while draining the
// children of a WaitForAny group.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	s := "wait: multiple faults:"
	for _, err := range e.Errors {
		s += " " + err.Error() + ";"
	}
	return s
}

func (e *AggregateError) Unwrap() []error {
	return e.Errors
}
