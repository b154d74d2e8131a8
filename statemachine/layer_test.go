package statemachine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luno/workflowcore/wait"
	"github.com/luno/workflowcore/workflow"
)

type order string

const (
	orderIdle    order = "Idle"
	orderWorking order = "Working"
	orderPacking order = "Packing"
	orderDone    order = "Done"
)

func buildOrderConfig() *Config[order] {
	cfg := NewConfig[order]()
	cfg.ConfigureState(orderIdle).
		OnActivate(IfThenGoTo(func(ctx context.Context, sc StateContext) bool {
			v, _ := sc.Workflow().Data().Get("started")
			done, _ := v.(bool)
			return done
		}, orderWorking)).
		OnAsync(Invoke(func(ctx context.Context, sc StateContext) (any, error) {
			return wait.WaitForAction(sc.Workflow(), "start")(ctx)
		}, GoTo(orderWorking)))

	cfg.ConfigureState(orderWorking).
		AllowActions("pause").
		OnEnter(Do(func(ctx context.Context, sc StateContext) error {
			sc.Workflow().TransientData().IncrInt("enteredWorking", 1)
			return nil
		})).
		OnAsync(Invoke(func(ctx context.Context, sc StateContext) (any, error) {
			return wait.WaitForAction(sc.Workflow(), "finish")(ctx)
		}, GoTo(orderDone)))

	cfg.ConfigureState(orderPacking).
		SubstateOf(orderWorking).
		OnEnter(Do(func(ctx context.Context, sc StateContext) error {
			sc.Workflow().TransientData().IncrInt("enteredPacking", 1)
			return nil
		})).
		OnAsync(Invoke(func(ctx context.Context, sc StateContext) (any, error) {
			return wait.WaitForAction(sc.Workflow(), "repack")(ctx)
		}, GoTo(orderPacking)))

	cfg.ConfigureState(orderDone).
		DisallowActions("pause").
		OnEnter(Do(func(ctx context.Context, sc StateContext) error {
			sc.Workflow().StopWorkflow(nil)
			return nil
		}))

	return cfg
}

type orderHooks struct {
	workflow.NopHooks
	layer *Layer[order]
}

func (h *orderHooks) OnActionsInit(w *workflow.Instance) {
	h.layer.Attach(w)
	_ = w.ConfigureAction("start", func(ctx context.Context, params any) (any, error) {
		w.Data().Set("started", true)
		return params, nil
	}, nil, nil, false)
	_ = w.ConfigureAction("finish", noopAction, nil, nil, false)
	_ = w.ConfigureAction("repack", noopAction, nil, nil, false)
	_ = w.ConfigureAction("pause", noopAction, nil, nil, false)
}

func (h *orderHooks) RunAsync(ctx context.Context, w *workflow.Instance) error {
	return h.layer.Run(ctx, w)
}

func noopAction(ctx context.Context, params any) (any, error) { return params, nil }

func startOrderWorkflow(t *testing.T, initial order) (*workflow.Instance, *Layer[order]) {
	t.Helper()
	layer := NewLayer(buildOrderConfig(), initial)
	hooks := &orderHooks{layer: layer}
	w := workflow.New("order.Workflow", hooks)

	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(context.Background(), workflow.StartRequest{ID: "order-1"}) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := w.Started().Wait(ctx)
	require.NoError(t, err)
	_, err = w.StateInitialized().Wait(ctx)
	require.NoError(t, err)

	return w, layer
}

func TestFreshStartEntersInitialState(t *testing.T) {
	w, layer := startOrderWorkflow(t, orderIdle)
	state, ok := layer.CurrentState()
	assert.True(t, ok)
	assert.Equal(t, orderIdle, state)
	assert.False(t, layer.IsRestoringState())
	_ = w
}

func TestActionTriggersTransitionAndRunsEnterHandlers(t *testing.T) {
	w, layer := startOrderWorkflow(t, orderIdle)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := w.ExecuteAction(ctx, "start", nil, true)
	require.NoError(t, err)

	deadline := time.After(time.Second)
	for {
		if s, _ := layer.CurrentState(); s == orderWorking {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for transition to Working")
		case <-time.After(time.Millisecond):
		}
	}

	v, _ := w.TransientData().Get("enteredWorking")
	assert.Equal(t, 1, v)
	assert.Equal(t, []order{orderIdle, orderWorking}, layer.StatesHistory())
}

func TestActionAllowanceIsHierarchicalAndStateScoped(t *testing.T) {
	w, layer := startOrderWorkflow(t, orderWorking)

	assert.True(t, layer.IsActionAllowed("pause"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := w.ExecuteAction(ctx, "finish", nil, true)
	require.NoError(t, err)

	deadline := time.After(time.Second)
	for {
		if s, _ := layer.CurrentState(); s == orderDone {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for transition to Done")
		case <-time.After(time.Millisecond):
		}
	}

	assert.False(t, layer.IsActionAllowed("pause"))
}

func TestSelfTransitionReentersLeafWithoutTouchingAncestor(t *testing.T) {
	w, layer := startOrderWorkflow(t, orderPacking)

	deadline := time.After(time.Second)
	for {
		if s, _ := layer.CurrentState(); s == orderPacking {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out entering Packing")
		case <-time.After(time.Millisecond):
		}
	}

	v, _ := w.TransientData().Get("enteredWorking")
	assert.Equal(t, 1, v)
	v, _ = w.TransientData().Get("enteredPacking")
	assert.Equal(t, 1, v)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := w.ExecuteAction(ctx, "repack", nil, true)
	require.NoError(t, err)

	deadline = time.After(time.Second)
	for {
		st := layer.Stats(orderPacking)
		if st.EnteredCounter == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for self-transition re-entry")
		case <-time.After(time.Millisecond):
		}
	}

	// Working's own enter handler must not have re-run: the self-transition
	// only touches Packing, not its ancestor.
	v, _ = w.TransientData().Get("enteredWorking")
	assert.Equal(t, 1, v)
}

type stage string

const (
	stageA stage = "A"
	stageB stage = "B"
	stageC stage = "C"
	stageD stage = "D"
)

// buildDivergingStageConfig builds A -> B -> C as the configured topology,
// but B's activation redirects to D instead of the expected C - the shape
// restoration must detect as a divergence and abort out of.
func buildDivergingStageConfig(activated map[stage]int) *Config[stage] {
	cfg := NewConfig[stage]()
	cfg.ConfigureState(stageA).
		OnActivate(Do(func(ctx context.Context, sc StateContext) error {
			activated[stageA]++
			return nil
		}), GoTo(stageB))

	cfg.ConfigureState(stageB).
		OnActivate(Do(func(ctx context.Context, sc StateContext) error {
			activated[stageB]++
			return nil
		}), GoTo(stageD))

	cfg.ConfigureState(stageC).
		OnEnter(Do(func(ctx context.Context, sc StateContext) error {
			sc.Workflow().TransientData().IncrInt("enteredC", 1)
			return nil
		}))

	cfg.ConfigureState(stageD).
		OnEnter(Do(func(ctx context.Context, sc StateContext) error {
			sc.Workflow().TransientData().IncrInt("enteredD", 1)
			return nil
		}))

	return cfg
}

type stageHooks struct {
	workflow.NopHooks
	layer *Layer[stage]
}

func (h *stageHooks) OnActionsInit(w *workflow.Instance) { h.layer.Attach(w) }

func (h *stageHooks) RunAsync(ctx context.Context, w *workflow.Instance) error {
	return h.layer.Run(ctx, w)
}

// TestRestorationAbortsOnDivergentActivationRedirect matches scenario 4: the
// configured initial state (A) isn't history's head (persisted statesHistory
// is [B, C], since StatesHistory only ever keeps the last two committed
// states - A, entered first, already fell off). A's activation replays fine
// into B. But B's activation redirects to D instead of matching the expected
// next history entry, C: restoration must abort right there, D must be
// entered via ordinary OnEnter (not OnActivate), and A and B must both have
// been visited through activation handlers before the abort (P4(b)).
func TestRestorationAbortsOnDivergentActivationRedirect(t *testing.T) {
	activated := make(map[stage]int)
	layer := NewLayer(buildDivergingStageConfig(activated), stageA)
	hooks := &stageHooks{layer: layer}
	w := workflow.New("stage.Workflow", hooks)

	go func() {
		_ = w.Start(context.Background(), workflow.StartRequest{
			ID: "stage-1",
			LoadedData: map[string]any{
				"statesHistory": []stage{stageB, stageC},
			},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := w.StateInitialized().Wait(ctx)
	require.NoError(t, err)

	state, ok := layer.CurrentState()
	assert.True(t, ok)
	assert.Equal(t, stageD, state)
	assert.False(t, layer.IsRestoringState())

	assert.Equal(t, 1, activated[stageA])
	assert.Equal(t, 1, activated[stageB])

	v, _ := w.TransientData().Get("enteredC")
	assert.Nil(t, v)
	v, _ = w.TransientData().Get("enteredD")
	assert.Equal(t, 1, v)
}

func TestRestorationReplaysHistoryThenResolvesStateInitialized(t *testing.T) {
	layer := NewLayer(buildOrderConfig(), orderIdle)
	hooks := &orderHooks{layer: layer}
	w := workflow.New("order.Workflow", hooks)

	go func() {
		_ = w.Start(context.Background(), workflow.StartRequest{
			ID: "order-2",
			LoadedData: map[string]any{
				"statesHistory": []order{orderIdle, orderWorking},
				"started":       true,
			},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := w.StateInitialized().Wait(ctx)
	require.NoError(t, err)

	state, ok := layer.CurrentState()
	assert.True(t, ok)
	assert.Equal(t, orderWorking, state)
	assert.False(t, layer.IsRestoringState())
}
