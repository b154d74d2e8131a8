// Package memory provides an in-memory implementation of workflow.Repository.
//
// This implementation is suitable for development, testing, and the
// bundled demo, where persistence across restarts is not required. Grounded
// on the teacher's registry/store/memory package: a mutex-guarded map, a
// compile-time interface assertion, context-cancellation checks at the top
// of every method.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luno/workflowcore/workflow"
)

// RecordStore is an in-memory workflow.Repository. Safe for concurrent use.
type RecordStore struct {
	mu      sync.RWMutex
	records map[any]workflow.Persisted
}

var _ workflow.Repository = (*RecordStore)(nil)

// New creates a new in-memory RecordStore.
func New() *RecordStore {
	return &RecordStore{records: make(map[any]workflow.Persisted)}
}

func isActive(status workflow.Status) bool {
	return status == workflow.StatusInProgress || status == workflow.StatusFailed
}

func (s *RecordStore) SaveWorkflowData(ctx context.Context, p workflow.Persisted) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[p.ID] = p
	return nil
}

func (s *RecordStore) markTerminal(ctx context.Context, id any, status workflow.Status, cause error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[id]
	if !ok {
		return fmt.Errorf("storage/memory: mark workflow %v: %w", id, errNotFound)
	}
	p.Status = status
	if cause != nil {
		if p.Data == nil {
			p.Data = make(map[string]any)
		}
		p.Data["finalError"] = cause.Error()
	}
	s.records[id] = p
	return nil
}

var errNotFound = fmt.Errorf("no such workflow")

func (s *RecordStore) MarkWorkflowAsCompleted(ctx context.Context, id any) error {
	return s.markTerminal(ctx, id, workflow.StatusCompleted, nil)
}

func (s *RecordStore) MarkWorkflowAsFailed(ctx context.Context, id any, cause error) error {
	return s.markTerminal(ctx, id, workflow.StatusFailed, cause)
}

func (s *RecordStore) MarkWorkflowAsCanceled(ctx context.Context, id any, cause error) error {
	return s.markTerminal(ctx, id, workflow.StatusCanceled, cause)
}

// GetActiveWorkflows returns InProgress/Failed entries due at or before
// maxActivationDate, excluding ignoreIDs.
func (s *RecordStore) GetActiveWorkflows(ctx context.Context, maxActivationDate time.Time, ignoreIDs map[any]struct{}) ([]workflow.Persisted, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []workflow.Persisted
	for id, p := range s.records {
		if _, skip := ignoreIDs[id]; skip {
			continue
		}
		if !isActive(p.Status) {
			continue
		}
		if p.NextActivationDate != nil && p.NextActivationDate.After(maxActivationDate) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RecordStore) GetActiveWorkflowByID(ctx context.Context, id any) (workflow.Persisted, bool, error) {
	select {
	case <-ctx.Done():
		return workflow.Persisted{}, false, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.records[id]
	if !ok || !isActive(p.Status) {
		return workflow.Persisted{}, false, nil
	}
	return p, true, nil
}
