// Package redis implements workflow.Repository over go-redis: each workflow
// instance is one JSON-encoded string key, with a sorted set tracking which
// ids are due for activation so GetActiveWorkflows is a single range query
// rather than a table scan. Grounded on the teacher's store/mongo shape
// (one record per entity, a typed document, explicit error wrapping) and on
// the registry's health_tracker_integration_test.go for the real-Redis test
// harness pattern.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luno/workflowcore/workflow"
)

const (
	keyPrefix   = "workflowcore:wf:"
	horizonZSet = "workflowcore:horizon"
)

// RecordStore is a workflow.Repository backed by a redis.Client.
type RecordStore struct {
	client *redis.Client
}

// NewRecordStore constructs a RecordStore over an already-connected client.
func NewRecordStore(client *redis.Client) *RecordStore {
	return &RecordStore{client: client}
}

var _ workflow.Repository = (*RecordStore)(nil)

// record is the JSON document stored at each workflow's key. Ids are
// expected to be string-like: the horizon sorted set can only carry string
// members, so GetActiveWorkflows compares ignoreIDs against fmt.Sprint(id).
type record struct {
	ID                 any             `json:"id"`
	WorkflowTypeName   string          `json:"workflowTypeName"`
	Status             workflow.Status `json:"status"`
	NextActivationDate *time.Time      `json:"nextActivationDate,omitempty"`
	Data               map[string]any  `json:"data"`
}

func recordKey(id any) string {
	return keyPrefix + fmt.Sprint(id)
}

func isActive(status workflow.Status) bool {
	return status == workflow.StatusInProgress || status == workflow.StatusFailed
}

func activationScore(t *time.Time) float64 {
	if t == nil {
		return 0
	}
	return float64(t.UnixNano())
}

func toPersisted(r record) workflow.Persisted {
	return workflow.Persisted{
		ID:                 r.ID,
		WorkflowTypeName:   r.WorkflowTypeName,
		Status:             r.Status,
		NextActivationDate: r.NextActivationDate,
		Data:               r.Data,
	}
}

// SaveWorkflowData upserts the workflow's record and keeps the horizon
// sorted set consistent with its status: active entries get a score equal
// to their activation date (nanoseconds since epoch), terminal entries are
// dropped from the set entirely.
func (s *RecordStore) SaveWorkflowData(ctx context.Context, p workflow.Persisted) error {
	blob, err := json.Marshal(record{
		ID:                 p.ID,
		WorkflowTypeName:   p.WorkflowTypeName,
		Status:             p.Status,
		NextActivationDate: p.NextActivationDate,
		Data:               p.Data,
	})
	if err != nil {
		return fmt.Errorf("storage/redis: marshal workflow %v: %w", p.ID, err)
	}

	member := fmt.Sprint(p.ID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKey(p.ID), blob, 0)
	if isActive(p.Status) {
		pipe.ZAdd(ctx, horizonZSet, redis.Z{Score: activationScore(p.NextActivationDate), Member: member})
	} else {
		pipe.ZRem(ctx, horizonZSet, member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storage/redis: save workflow %v: %w", p.ID, err)
	}
	return nil
}

func (s *RecordStore) markTerminal(ctx context.Context, id any, status workflow.Status, cause error) error {
	blob, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("storage/redis: load workflow %v: %w", id, err)
	}
	var rec record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return fmt.Errorf("storage/redis: unmarshal workflow %v: %w", id, err)
	}
	rec.Status = status
	if cause != nil {
		if rec.Data == nil {
			rec.Data = make(map[string]any)
		}
		rec.Data["finalError"] = cause.Error()
	}

	newBlob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage/redis: marshal workflow %v: %w", id, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKey(id), newBlob, 0)
	pipe.ZRem(ctx, horizonZSet, fmt.Sprint(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storage/redis: mark workflow %v: %w", id, err)
	}
	return nil
}

func (s *RecordStore) MarkWorkflowAsCompleted(ctx context.Context, id any) error {
	return s.markTerminal(ctx, id, workflow.StatusCompleted, nil)
}

func (s *RecordStore) MarkWorkflowAsFailed(ctx context.Context, id any, cause error) error {
	return s.markTerminal(ctx, id, workflow.StatusFailed, cause)
}

func (s *RecordStore) MarkWorkflowAsCanceled(ctx context.Context, id any, cause error) error {
	return s.markTerminal(ctx, id, workflow.StatusCanceled, cause)
}

// GetActiveWorkflows range-queries the horizon sorted set for members due at
// or before maxActivationDate, then loads each surviving record.
func (s *RecordStore) GetActiveWorkflows(ctx context.Context, maxActivationDate time.Time, ignoreIDs map[any]struct{}) ([]workflow.Persisted, error) {
	members, err := s.client.ZRangeByScore(ctx, horizonZSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(float64(maxActivationDate.UnixNano()), 'f', -1, 64),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("storage/redis: range horizon: %w", err)
	}

	out := make([]workflow.Persisted, 0, len(members))
	for _, member := range members {
		if _, skip := ignoreIDs[member]; skip {
			continue
		}
		p, found, err := s.GetActiveWorkflowByID(ctx, member)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetActiveWorkflowByID returns the record for id if it exists and is not in
// a terminal status.
func (s *RecordStore) GetActiveWorkflowByID(ctx context.Context, id any) (workflow.Persisted, bool, error) {
	blob, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return workflow.Persisted{}, false, nil
		}
		return workflow.Persisted{}, false, fmt.Errorf("storage/redis: load workflow %v: %w", id, err)
	}
	var rec record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return workflow.Persisted{}, false, fmt.Errorf("storage/redis: unmarshal workflow %v: %w", id, err)
	}
	if !isActive(rec.Status) {
		return workflow.Persisted{}, false, nil
	}
	return toPersisted(rec), true, nil
}
