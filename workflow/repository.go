package workflow

import (
	"context"
	"time"
)

// Persisted is the wire shape of one workflow instance as the repository
// sees it. Type round-trip of Data's values is the repository's concern
// (e.g. the redis and mongo backends under storage/ each pick their own
// encoding).
type Persisted struct {
	ID                any
	WorkflowTypeName  string
	Status            Status
	NextActivationDate *time.Time
	Data               map[string]any
}

// Repository is the external collaborator that durably stores workflow
// instances. Every method is invoked on the owning workflow's executor.
type Repository interface {
	SaveWorkflowData(ctx context.Context, p Persisted) error
	MarkWorkflowAsCompleted(ctx context.Context, id any) error
	MarkWorkflowAsFailed(ctx context.Context, id any, cause error) error
	MarkWorkflowAsCanceled(ctx context.Context, id any, cause error) error
	// GetActiveWorkflows returns InProgress/Failed entries whose
	// NextActivationDate is at or before maxActivationDate, excluding ids in
	// ignoreIDs (the engine's hot set of already-running workflows).
	GetActiveWorkflows(ctx context.Context, maxActivationDate time.Time, ignoreIDs map[any]struct{}) ([]Persisted, error)
	// GetActiveWorkflowByID returns any InProgress/Failed entry for id, or
	// (Persisted{}, false, nil) if none exists.
	GetActiveWorkflowByID(ctx context.Context, id any) (Persisted, bool, error)
}
