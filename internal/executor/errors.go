package executor

import "errors"

// ErrClosed is returned (wrapped) when a submission is made to a closed
// executor, or when queued/suspended work is drained by CancelAndDrain.
var ErrClosed = errors.New("executor: closed")

// ErrNotStarted is returned when Submit is called before the executor has
// been marked started. SubmitForced bypasses this gate; it exists so cold
// start can install workflow state via SubmitForced before any ordinary
// caller-submitted work is allowed to run.
var ErrNotStarted = errors.New("executor: not started")

// ErrCanceled is the completion error given to work that was still queued
// (not yet dispatched) when CancelAndDrain ran.
var ErrCanceled = errors.New("executor: canceled")
