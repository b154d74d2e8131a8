package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luno/workflowcore/workflow"
)

func mustCreate(t *testing.T, eng *Engine, typeName string) (*workflow.Instance, any) {
	t.Helper()
	w, err := eng.CreateWorkflow(context.Background(), typeName, nil, nil)
	require.NoError(t, err)
	id, ok := w.ID()
	require.True(t, ok)
	return w, id
}

func newEngineForCoordinator(t *testing.T) (*Engine, *fakeRepo) {
	t.Helper()
	repo := &fakeRepo{}
	return New(newResolver(t), repo), repo
}

func TestRegisterWorkflowDependencyFiresOnActionAfterSetWorkflows(t *testing.T) {
	eng, repo := newEngineForCoordinator(t)
	defer eng.Dispose()

	src, srcID := mustCreate(t, eng, "blocking.Workflow")
	dst, dstID := mustCreate(t, eng, "blocking.Workflow")
	repo.mu.Lock()
	repo.active = append(repo.active,
		workflow.Persisted{ID: srcID, WorkflowTypeName: "blocking.Workflow", Status: workflow.StatusInProgress},
		workflow.Persisted{ID: dstID, WorkflowTypeName: "blocking.Workflow", Status: workflow.StatusInProgress},
	)
	repo.mu.Unlock()

	c := NewCoordinator()
	fired := make(chan struct{}, 1)
	c.RegisterWorkflowDependency("src", OnAction("approve"), "dst", func(s, d *workflow.Instance) {
		fired <- struct{}{}
	}, nil)

	require.NoError(t, c.SetWorkflows(context.Background(), eng, map[string]any{
		"src": srcID,
		"dst": dstID,
	}, true))

	require.NoError(t, src.ConfigureAction("approve", func(context.Context, any) (any, error) {
		return nil, nil
	}, nil, nil, false))
	_, err := src.ExecuteAction(context.Background(), "approve", nil, true)
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("onFired was not invoked")
	}

	_ = dst
}

func TestRegisterWorkflowDependencyRunsOnSrcCanceled(t *testing.T) {
	eng, repo := newEngineForCoordinator(t)
	defer eng.Dispose()

	src, srcID := mustCreate(t, eng, "blocking.Workflow")
	dst, dstID := mustCreate(t, eng, "blocking.Workflow")
	repo.mu.Lock()
	repo.active = append(repo.active,
		workflow.Persisted{ID: srcID, WorkflowTypeName: "blocking.Workflow", Status: workflow.StatusInProgress},
		workflow.Persisted{ID: dstID, WorkflowTypeName: "blocking.Workflow", Status: workflow.StatusInProgress},
	)
	repo.mu.Unlock()

	c := NewCoordinator()
	canceled := make(chan struct{}, 1)
	c.RegisterWorkflowDependency("src", OnAction("never-fires"), "dst",
		func(s, d *workflow.Instance) {},
		func(s, d *workflow.Instance) { canceled <- struct{}{} },
	)

	require.NoError(t, c.SetWorkflows(context.Background(), eng, map[string]any{
		"src": srcID,
		"dst": dstID,
	}, true))

	src.CancelWorkflow()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("onSrcCanceled was not invoked")
	}

	dst.CancelWorkflow()
	_, _ = src.Completed().Wait(context.Background())
	_, _ = dst.Completed().Wait(context.Background())
}

func TestSetWorkflowsUnknownSlotErrors(t *testing.T) {
	eng, _ := newEngineForCoordinator(t)
	defer eng.Dispose()

	c := NewCoordinator()
	err := c.SetWorkflows(context.Background(), eng, map[string]any{"src": "missing-id"}, true)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestUnhandledExceptionSurfacesOnFiredHandlerPanic(t *testing.T) {
	eng, repo := newEngineForCoordinator(t)
	defer eng.Dispose()

	src, srcID := mustCreate(t, eng, "blocking.Workflow")
	dst, dstID := mustCreate(t, eng, "blocking.Workflow")
	defer dst.CancelWorkflow()
	repo.mu.Lock()
	repo.active = append(repo.active,
		workflow.Persisted{ID: srcID, WorkflowTypeName: "blocking.Workflow", Status: workflow.StatusInProgress},
		workflow.Persisted{ID: dstID, WorkflowTypeName: "blocking.Workflow", Status: workflow.StatusInProgress},
	)
	repo.mu.Unlock()

	c := NewCoordinator()
	events := make(chan UnhandledExceptionEvent, 1)
	c.OnUnhandledException(func(ev UnhandledExceptionEvent) { events <- ev })

	c.RegisterWorkflowDependency("src", OnAction("boom"), "dst", func(s, d *workflow.Instance) {
		panic("handler exploded")
	}, nil)

	require.NoError(t, c.SetWorkflows(context.Background(), eng, map[string]any{
		"src": srcID,
		"dst": dstID,
	}, true))

	require.NoError(t, src.ConfigureAction("boom", func(context.Context, any) (any, error) {
		return nil, nil
	}, nil, nil, false))
	_, err := src.ExecuteAction(context.Background(), "boom", nil, true)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "src", ev.SourceSlot)
		assert.Error(t, ev.Err)
	case <-time.After(time.Second):
		t.Fatal("UnhandledExceptionEvent was not published")
	}

	src.CancelWorkflow()
	_, _ = src.Completed().Wait(context.Background())
}
