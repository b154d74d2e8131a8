// Package mongo implements workflow.Repository over the MongoDB driver: one
// document per workflow instance, with nextActivationDate indexed so
// GetActiveWorkflows is a single range query. Grounded directly on the
// teacher's registry/store/mongo package (typed document struct,
// ReplaceOne-with-upsert save, bson.M filters, explicit error wrapping),
// adapted from toolset documents to workflow-instance documents.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/luno/workflowcore/workflow"
)

// RecordStore is a workflow.Repository backed by a MongoDB collection.
type RecordStore struct {
	collection *mongo.Collection
}

// NewRecordStore constructs a RecordStore over an already-connected
// collection. EnsureIndexes should be called once at startup.
func NewRecordStore(collection *mongo.Collection) *RecordStore {
	return &RecordStore{collection: collection}
}

var _ workflow.Repository = (*RecordStore)(nil)

// document is the Mongo representation of workflow.Persisted. ID is stored
// as _id so ReplaceOne-with-upsert and FindOne both key off Mongo's native
// primary index.
type document struct {
	ID                 any            `bson:"_id"`
	WorkflowTypeName   string         `bson:"workflowTypeName"`
	Status             int            `bson:"status"`
	NextActivationDate *time.Time     `bson:"nextActivationDate,omitempty"`
	Data               map[string]any `bson:"data"`
}

// EnsureIndexes creates the index GetActiveWorkflows relies on: a compound
// index on status and nextActivationDate.
func (s *RecordStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "nextActivationDate", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("storage/mongo: ensure indexes: %w", err)
	}
	return nil
}

func toDocument(p workflow.Persisted) document {
	return document{
		ID:                 p.ID,
		WorkflowTypeName:   p.WorkflowTypeName,
		Status:             int(p.Status),
		NextActivationDate: p.NextActivationDate,
		Data:               p.Data,
	}
}

func fromDocument(d document) workflow.Persisted {
	return workflow.Persisted{
		ID:                 d.ID,
		WorkflowTypeName:   d.WorkflowTypeName,
		Status:             workflow.Status(d.Status),
		NextActivationDate: d.NextActivationDate,
		Data:               d.Data,
	}
}

func isActive(status int) bool {
	return workflow.Status(status) == workflow.StatusInProgress || workflow.Status(status) == workflow.StatusFailed
}

// SaveWorkflowData upserts p's document.
func (s *RecordStore) SaveWorkflowData(ctx context.Context, p workflow.Persisted) error {
	doc := toDocument(p)
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": p.ID}, doc, opts)
	if err != nil {
		return fmt.Errorf("storage/mongo: save workflow %v: %w", p.ID, err)
	}
	return nil
}

func (s *RecordStore) markTerminal(ctx context.Context, id any, status workflow.Status, cause error) error {
	update := bson.M{"status": int(status)}
	if cause != nil {
		update["data.finalError"] = cause.Error()
	}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": update})
	if err != nil {
		return fmt.Errorf("storage/mongo: mark workflow %v: %w", id, err)
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

// GetActiveWorkflows returns InProgress/Failed documents due at or before
// maxActivationDate, excluding ignoreIDs.
func (s *RecordStore) GetActiveWorkflows(ctx context.Context, maxActivationDate time.Time, ignoreIDs map[any]struct{}) ([]workflow.Persisted, error) {
	exclude := make([]any, 0, len(ignoreIDs))
	for id := range ignoreIDs {
		exclude = append(exclude, id)
	}

	filter := bson.M{
		"status":             bson.M{"$in": []int{int(workflow.StatusInProgress), int(workflow.StatusFailed)}},
		"nextActivationDate": bson.M{"$lte": maxActivationDate},
	}
	if len(exclude) > 0 {
		filter["_id"] = bson.M{"$nin": exclude}
	}

	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("storage/mongo: find active workflows: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("storage/mongo: decode active workflows: %w", err)
	}

	out := make([]workflow.Persisted, len(docs))
	for i, d := range docs {
		out[i] = fromDocument(d)
	}
	return out, nil
}

// GetActiveWorkflowByID returns the document for id if present and not in a
// terminal status.
func (s *RecordStore) GetActiveWorkflowByID(ctx context.Context, id any) (workflow.Persisted, bool, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return workflow.Persisted{}, false, nil
		}
		return workflow.Persisted{}, false, fmt.Errorf("storage/mongo: load workflow %v: %w", id, err)
	}
	if !isActive(doc.Status) {
		return workflow.Persisted{}, false, nil
	}
	return fromDocument(doc), true, nil
}
