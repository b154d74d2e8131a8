package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luno/workflowcore/internal/executor"
)

type echoHooks struct {
	NopHooks
	runErr  error
	blockCh chan struct{}
}

func (h *echoHooks) OnActionsInit(w *Instance) {
	_ = w.ConfigureAction("pay", func(ctx context.Context, params any) (any, error) {
		return params, nil
	}, nil, []string{"charge", "bill"}, false)
}

func (h *echoHooks) RunAsync(ctx context.Context, w *Instance) error {
	if h.blockCh != nil {
		// Block through executor.Suspend, as a wait operator does, so the
		// executor is free to run actions meanwhile.
		_, _ = executor.Suspend(ctx, func(context.Context) (executor.Func, error) {
			return func(context.Context) (any, error) {
				<-h.blockCh
				return nil, nil
			}, nil
		})
	}
	return h.runErr
}

func startTestInstance(t *testing.T, hooks *echoHooks) *Instance {
	t.Helper()
	w := New("echo.Workflow", hooks)
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(context.Background(), StartRequest{ID: "wf-1"}) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := w.Started().Wait(ctx)
	require.NoError(t, err)
	return w
}

func TestExecuteActionRunsHandlerAndIncrementsStats(t *testing.T) {
	hooks := &echoHooks{blockCh: make(chan struct{})}
	w := startTestInstance(t, hooks)
	defer close(hooks.blockCh)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	val, err := w.ExecuteAction(ctx, "pay", "params-1", true)
	require.NoError(t, err)
	assert.Equal(t, "params-1", val)
	assert.Equal(t, 1, w.TimesExecuted("pay"))
}

func TestSynonymsShareOneStatsBucket(t *testing.T) {
	hooks := &echoHooks{blockCh: make(chan struct{})}
	w := startTestInstance(t, hooks)
	defer close(hooks.blockCh)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := w.ExecuteAction(ctx, "charge", 1, true)
	require.NoError(t, err)
	_, err = w.ExecuteAction(ctx, "bill", 2, true)
	require.NoError(t, err)

	assert.Equal(t, 2, w.TimesExecuted("pay"))
	assert.Equal(t, 2, w.TimesExecuted("charge"))
}

func TestExecuteActionNotConfigured(t *testing.T) {
	hooks := &echoHooks{blockCh: make(chan struct{})}
	w := startTestInstance(t, hooks)
	defer close(hooks.blockCh)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := w.ExecuteAction(ctx, "nope", nil, true)
	var notConfigured *ActionNotConfiguredError
	assert.ErrorAs(t, err, &notConfigured)
}

func TestCompletesWhenRunAsyncReturnsNil(t *testing.T) {
	hooks := &echoHooks{blockCh: make(chan struct{})}
	w := New("echo.Workflow", hooks)

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background(), StartRequest{ID: "wf-2"}) }()
	close(hooks.blockCh)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return")
	}
	assert.Equal(t, StatusCompleted, w.Status())
}

func TestCancelWorkflowIsIdempotentAndEndsCanceled(t *testing.T) {
	hooks := &echoHooks{blockCh: make(chan struct{})}
	w := New("echo.Workflow", hooks)

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background(), StartRequest{ID: "wf-3"}) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := w.Started().Wait(ctx)
	require.NoError(t, err)

	w.CancelWorkflow()
	w.CancelWorkflow() // second call must be a no-op (R2)
	close(hooks.blockCh)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	assert.Equal(t, StatusCanceled, w.Status())
}

func TestDuplicateActionRegistrationErrors(t *testing.T) {
	c := newActionCatalog()
	require.NoError(t, c.configure("pay", nil, nil, nil, false))
	err := c.configure("pay", nil, nil, nil, false)
	assert.ErrorIs(t, err, ErrDuplicateAction)
}
