// Command workflowdemo wires the runtime's core pieces together end to end:
// a hierarchical state machine workflow, a second workflow it triggers via
// the coordinator, an in-memory repository, and the graph-renderer's
// diagnostic output for both. Grounded on the teacher's cmd/demo/main.go
// shape: plain package main, direct wiring, panic on setup error.
package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/luno/workflowcore/di"
	"github.com/luno/workflowcore/engine"
	"github.com/luno/workflowcore/graphviz"
	"github.com/luno/workflowcore/statemachine"
	"github.com/luno/workflowcore/storage/memory"
	"github.com/luno/workflowcore/telemetry"
	"github.com/luno/workflowcore/wait"
	"github.com/luno/workflowcore/workflow"
)

type orderState int

const (
	orderIdle orderState = iota
	orderWorking
	orderDone
)

// orderConfig is package-level rather than carried in orderHooks because
// di.ReflectResolver builds each instance via reflect.New, which always
// produces a zero-valued orderHooks - any per-instance configuration must
// either be looked up from a shared package value (as here) or constructed
// lazily in OnActionsInit.
var orderConfig = buildOrderConfig()

func buildOrderConfig() *statemachine.Config[orderState] {
	cfg := statemachine.NewConfig[orderState]()
	cfg.ConfigureState(orderIdle).
		Describe("waiting for the order to be started").
		OnAsync(statemachine.Invoke(func(ctx context.Context, sc statemachine.StateContext) (any, error) {
			return wait.WaitForAction(sc.Workflow(), "start")(ctx)
		}, statemachine.GoTo(orderWorking)))

	cfg.ConfigureState(orderWorking).
		Describe("fulfilling the order").
		AllowActions("finish").
		OnAsync(statemachine.Invoke(func(ctx context.Context, sc statemachine.StateContext) (any, error) {
			return wait.WaitForAction(sc.Workflow(), "finish")(ctx)
		}, statemachine.GoTo(orderDone)))

	cfg.ConfigureState(orderDone).
		Describe("terminal: order fulfilled").
		OnEnter(statemachine.Do(func(ctx context.Context, sc statemachine.StateContext) error {
			sc.Workflow().StopWorkflow(nil)
			return nil
		}))

	return cfg
}

// orderHooks runs the order fulfillment state machine.
type orderHooks struct {
	workflow.NopHooks
	layer *statemachine.Layer[orderState]
}

func (h *orderHooks) OnActionsInit(w *workflow.Instance) {
	if h.layer == nil {
		h.layer = statemachine.NewLayer(orderConfig, orderIdle)
	}
	h.layer.Attach(w)
	_ = w.ConfigureAction("start", noopAction, nil, nil, false)
	_ = w.ConfigureAction("finish", noopAction, nil, nil, false)
}

func (h *orderHooks) RunAsync(ctx context.Context, w *workflow.Instance) error {
	return h.layer.Run(ctx, w)
}

// notifierHooks waits for a single "notify" action - fired by the
// coordinator once the order workflow executes "finish" - then completes.
type notifierHooks struct{ workflow.NopHooks }

func (notifierHooks) OnActionsInit(w *workflow.Instance) {
	_ = w.ConfigureAction("notify", noopAction, nil, nil, false)
}

func (notifierHooks) RunAsync(ctx context.Context, w *workflow.Instance) error {
	_, err := wait.WaitForAction(w, "notify")(ctx)
	return err
}

func noopAction(_ context.Context, params any) (any, error) { return params, nil }

func main() {
	ctx := context.Background()

	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	logger := telemetry.NewZapLogger(zapLogger)

	resolver := di.NewReflectResolver()
	if err := resolver.RegisterType("order.Workflow", &orderHooks{}); err != nil {
		panic(err)
	}
	if err := resolver.RegisterType("notifier.Workflow", &notifierHooks{}); err != nil {
		panic(err)
	}

	repo := memory.New()
	eng := engine.New(resolver, repo, engine.WithLogger(logger))
	defer eng.Dispose()

	orderWF, err := eng.CreateWorkflow(ctx, "order.Workflow", nil, nil)
	if err != nil {
		panic(err)
	}
	notifierWF, err := eng.CreateWorkflow(ctx, "notifier.Workflow", nil, nil)
	if err != nil {
		panic(err)
	}

	orderID, _ := orderWF.ID()
	notifierID, _ := notifierWF.ID()

	coord := engine.NewCoordinator()
	coord.OnUnhandledException(func(ev engine.UnhandledExceptionEvent) {
		fmt.Println("coordinator dependency panic on", ev.SourceSlot, ":", ev.Err)
	})
	coord.RegisterWorkflowDependency("order", engine.OnAction("finish"), "notifier",
		func(_, dst *workflow.Instance) {
			if _, err := dst.ExecuteAction(ctx, "notify", nil, false); err != nil {
				fmt.Println("notify failed:", err)
			}
		}, nil)

	if err := coord.SetWorkflows(ctx, eng, map[string]any{
		"order":    orderID,
		"notifier": notifierID,
	}, true); err != nil {
		panic(err)
	}

	fmt.Println("--- order state machine (DOT) ---")
	fmt.Println(graphviz.RenderStateMachine("order", orderConfig))

	yamlDump, err := graphviz.DumpStateMachineYAML(orderConfig)
	if err != nil {
		panic(err)
	}
	fmt.Println("--- order state machine (YAML) ---")
	fmt.Println(yamlDump)

	fmt.Println("--- coordinator dependencies (DOT) ---")
	fmt.Println(graphviz.RenderCoordinator("demo", coord))

	if _, err := orderWF.ExecuteAction(ctx, "start", nil, false); err != nil {
		panic(err)
	}
	if _, err := orderWF.ExecuteAction(ctx, "finish", nil, false); err != nil {
		panic(err)
	}

	if _, err := orderWF.Completed().Wait(ctx); err != nil {
		panic(err)
	}
	if _, err := notifierWF.Completed().Wait(ctx); err != nil {
		panic(err)
	}

	fmt.Println("order workflow status:", orderWF.Status())
	fmt.Println("notifier workflow status:", notifierWF.Status())
}
