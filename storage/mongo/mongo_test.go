package mongo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcwait "github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/luno/workflowcore/workflow"
)

var (
	testClient    *mongo.Client
	testContainer testcontainers.Container
	skipTests     bool
)

func setupMongo() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   tcwait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, mongo storage tests will be skipped: %v\n", containerErr)
		skipTests = true
		return
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		skipTests = true
		return
	}
	port, err := testContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testClient, err = mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		// mongo-driver/v2's Connect takes no context (unlike v1); connection
		// establishment happens lazily on first operation.
		skipTests = true
		return
	}
	if err := testClient.Ping(ctx, nil); err != nil {
		skipTests = true
	}
}

func getStore(t *testing.T) *RecordStore {
	t.Helper()
	if testClient == nil && !skipTests {
		setupMongo()
	}
	if skipTests {
		t.Skip("Docker not available, skipping mongo storage test")
	}
	collection := testClient.Database("workflowcore_test").Collection(t.Name())
	require.NoError(t, collection.Drop(context.Background()))
	store := NewRecordStore(collection)
	require.NoError(t, store.EnsureIndexes(context.Background()))
	return store
}

func TestSaveAndLoadWorkflowRoundTrips(t *testing.T) {
	store := getStore(t)
	ctx := context.Background()

	due := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
	p := workflow.Persisted{
		ID:                 "wf-1",
		WorkflowTypeName:   "order.Workflow",
		Status:             workflow.StatusInProgress,
		NextActivationDate: &due,
		Data:               map[string]any{"step": "working"},
	}
	require.NoError(t, store.SaveWorkflowData(ctx, p))

	got, found, err := store.GetActiveWorkflowByID(ctx, "wf-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, p.WorkflowTypeName, got.WorkflowTypeName)
	assert.Equal(t, p.Status, got.Status)
	assert.Equal(t, "working", got.Data["step"])
}

func TestGetActiveWorkflowsFiltersByHorizonAndIgnoreSet(t *testing.T) {
	store := getStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	soon := now.Add(time.Hour)
	later := now.Add(48 * time.Hour)

	require.NoError(t, store.SaveWorkflowData(ctx, workflow.Persisted{
		ID: "due-soon", WorkflowTypeName: "t", Status: workflow.StatusInProgress, NextActivationDate: &soon,
	}))
	require.NoError(t, store.SaveWorkflowData(ctx, workflow.Persisted{
		ID: "due-later", WorkflowTypeName: "t", Status: workflow.StatusInProgress, NextActivationDate: &later,
	}))
	require.NoError(t, store.SaveWorkflowData(ctx, workflow.Persisted{
		ID: "already-running", WorkflowTypeName: "t", Status: workflow.StatusInProgress, NextActivationDate: &soon,
	}))

	entries, err := store.GetActiveWorkflows(ctx, now.Add(6*time.Hour), map[any]struct{}{"already-running": {}})
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, e := range entries {
		ids[fmt.Sprint(e.ID)] = true
	}
	assert.True(t, ids["due-soon"])
	assert.False(t, ids["due-later"])
	assert.False(t, ids["already-running"])
}

func TestMarkWorkflowAsFailedStaysActiveForRetry(t *testing.T) {
	store := getStore(t)
	ctx := context.Background()

	soon := time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)
	require.NoError(t, store.SaveWorkflowData(ctx, workflow.Persisted{
		ID: "wf-failed", WorkflowTypeName: "t", Status: workflow.StatusInProgress, NextActivationDate: &soon,
	}))
	require.NoError(t, store.MarkWorkflowAsFailed(ctx, "wf-failed", fmt.Errorf("boom")))

	got, found, err := store.GetActiveWorkflowByID(ctx, "wf-failed")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, workflow.StatusFailed, got.Status)
}

func TestMarkWorkflowAsCompletedExcludesFromActiveScan(t *testing.T) {
	store := getStore(t)
	ctx := context.Background()

	soon := time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)
	require.NoError(t, store.SaveWorkflowData(ctx, workflow.Persisted{
		ID: "wf-done", WorkflowTypeName: "t", Status: workflow.StatusInProgress, NextActivationDate: &soon,
	}))
	require.NoError(t, store.MarkWorkflowAsCompleted(ctx, "wf-done"))

	_, found, err := store.GetActiveWorkflowByID(ctx, "wf-done")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetActiveWorkflowByIDMissingReturnsNotFound(t *testing.T) {
	store := getStore(t)
	_, found, err := store.GetActiveWorkflowByID(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, found)
}
