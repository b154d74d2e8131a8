package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/luno/workflowcore/clock"
	"github.com/luno/workflowcore/internal/activation"
	"github.com/luno/workflowcore/internal/executor"
	"github.com/luno/workflowcore/telemetry"
	"github.com/luno/workflowcore/values"
	"github.com/luno/workflowcore/wait"
)

// Hooks are the lifecycle methods a concrete workflow type implements.
// NopHooks gives every method a no-op default so a type only needs to
// override what it cares about.
type Hooks interface {
	// OnActionsInit configures the action catalog via w.ConfigureAction. Runs
	// once, before OnInit, on the executor's cold-start task.
	OnActionsInit(w *Instance)
	OnInit(ctx context.Context, w *Instance) error
	OnCreated(ctx context.Context, w *Instance) error
	OnLoaded(ctx context.Context, w *Instance) error
	// RunAsync is the root suspending function: the workflow's entire
	// program counter lives inside this call for the life of the instance,
	// yielding at wait.Task suspension points.
	RunAsync(ctx context.Context, w *Instance) error
	OnCanceled(ctx context.Context, w *Instance)
}

// NopHooks implements Hooks with no-op defaults; embed it in a concrete
// workflow type and override only the methods needed.
type NopHooks struct{}

func (NopHooks) OnActionsInit(*Instance)                {}
func (NopHooks) OnInit(context.Context, *Instance) error { return nil }
func (NopHooks) OnCreated(context.Context, *Instance) error { return nil }
func (NopHooks) OnLoaded(context.Context, *Instance) error  { return nil }
func (NopHooks) OnCanceled(context.Context, *Instance)      {}

// ActionAllowancePolicy lets a layered-on extension (statemachine.Layer)
// decide IsActionAllowed hierarchically. A base Instance with no policy
// installed allows every configured action.
type ActionAllowancePolicy interface {
	IsActionAllowed(canonical string) bool
}

// StartRequest carries everything the engine supplies when starting an
// instance.
type StartRequest struct {
	ID               any
	InitialData      map[string]any
	LoadedData       map[string]any // non-nil means this is a reload, not a fresh create
	InitialTransient map[string]any
	BeforeStarted    func(*Instance)
	AfterFinished    func(*Instance, Status, error)
}

// Instance is the base WorkflowInstance: lifecycle, action dispatch,
// data/transient storage, and SerializedExecutor plumbing. It owns no
// notion of named state; that is layered on by the statemachine package.
type Instance struct {
	typeName string
	hooks    Hooks

	clock      clock.Clock
	repo       Repository
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	tracer     telemetry.Tracer
	fullHistoryLimit int

	exec       *executor.Executor
	activation *activation.Tracker
	data       *values.Store
	transient  *values.Store
	stats      *values.Store
	actions    *actionCatalog

	allowancePolicy ActionAllowancePolicy

	id        any
	idSet     bool
	isLoaded  bool
	status    Status
	finalErr  error
	nextActivationDate *time.Time

	startedSignal          *Signal
	stateInitializedSignal *Signal
	completedSignal        *Signal

	rootCtx    context.Context
	rootCancel context.CancelCauseFunc

	cancelMu        chan struct{} // guards the small cancel-state block below via a 1-buffered token
	cancelRequested bool
	stopFault       error
}

// Option configures an Instance at construction time.
type Option func(*Instance)

func WithClock(c clock.Clock) Option           { return func(w *Instance) { w.clock = c } }
func WithRepository(r Repository) Option       { return func(w *Instance) { w.repo = r } }
func WithLogger(l telemetry.Logger) Option     { return func(w *Instance) { w.logger = l } }
func WithMetrics(m telemetry.Metrics) Option   { return func(w *Instance) { w.metrics = m } }
func WithTracer(t telemetry.Tracer) Option     { return func(w *Instance) { w.tracer = t } }
func WithFullStatesHistoryLimit(n int) Option  { return func(w *Instance) { w.fullHistoryLimit = n } }

// New constructs an Instance. Call Start to begin its lifecycle.
func New(typeName string, hooks Hooks, opts ...Option) *Instance {
	w := &Instance{
		typeName:  typeName,
		hooks:     hooks,
		clock:     clock.NewRealClock(),
		logger:    telemetry.NewNoopLogger(),
		metrics:   telemetry.NewNoopMetrics(),
		tracer:    telemetry.NewNoopTracer(),
		exec:      executor.New(),
		data:      values.NewStore(),
		transient: values.NewStore(),
		stats:     values.NewStore(),
		actions:   newActionCatalog(),

		startedSignal:          NewSignal(),
		stateInitializedSignal: NewSignal(),
		completedSignal:        NewSignal(),
		cancelMu:               make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.activation = activation.New(func(min time.Time, has bool) {
		if has {
			t := min
			w.nextActivationDate = &t
		} else {
			w.nextActivationDate = nil
		}
	})
	w.rootCtx, w.rootCancel = context.WithCancelCause(context.Background())
	w.cancelMu <- struct{}{}

	context.AfterFunc(w.rootCtx, func() {
		cause := context.Cause(w.rootCtx)
		w.startedSignal.Reject(cause)
		w.stateInitializedSignal.Reject(cause)
	})

	return w
}

// ID returns the workflow's assigned id, or (nil, false) before Start runs.
func (w *Instance) ID() (any, bool) { return w.id, w.idSet }

// TypeName returns the fully-qualified workflow type name used to
// reconstitute this instance via the DI resolver.
func (w *Instance) TypeName() string { return w.typeName }

// Status returns the current persisted status.
func (w *Instance) Status() Status { return w.status }

// Data exposes the persistent data store.
func (w *Instance) Data() *values.Store { return w.data }

// TransientData exposes the ephemeral (non-persisted) data store.
func (w *Instance) TransientData() *values.Store { return w.transient }

// IsLoaded reports whether this instance started from persisted data
// (a reload) rather than a fresh OnCreated.
func (w *Instance) IsLoaded() bool { return w.isLoaded }

// FinalError returns the fault/cancellation cause recorded once the
// workflow reaches a terminal status, or nil for a clean Completed.
func (w *Instance) FinalError() error { return w.finalErr }

// Activation exposes the ActivationDateTracker, satisfying wait.ActivationTracker.
func (w *Instance) Activation() *activation.Tracker { return w.activation }

// Clock exposes the configured clock.
func (w *Instance) Clock() clock.Clock { return w.clock }

// FullStatesHistoryLimit returns the configured cap on fullStatesHistory, or
// 0 if unset (statemachine.Layer treats 0 as "use its own default").
func (w *Instance) FullStatesHistoryLimit() int { return w.fullHistoryLimit }

// Logger exposes the configured logger.
func (w *Instance) Logger() telemetry.Logger { return w.logger }

// Metrics exposes the configured metrics recorder.
func (w *Instance) Metrics() telemetry.Metrics { return w.metrics }

// Tracer exposes the configured tracer.
func (w *Instance) Tracer() telemetry.Tracer { return w.tracer }

// Context returns the workflow's root (ambient-cancellation) context.
func (w *Instance) Context() context.Context { return w.rootCtx }

// Completed returns the signal that resolves with the terminal Status once
// the workflow reaches a terminal state; FinalError holds the cause.
func (w *Instance) Completed() *Signal { return w.completedSignal }

// Started returns the signal that resolves once cold start has finished.
func (w *Instance) Started() *Signal { return w.startedSignal }

// StateInitialized returns the signal statemachine.Layer resolves once
// restoration (or a state-free fresh start) has finished.
func (w *Instance) StateInitialized() *Signal { return w.stateInitializedSignal }

// SetActionAllowancePolicy installs the hierarchical allowance rule used by
// statemachine.Layer; a base Instance with none installed always allows.
func (w *Instance) SetActionAllowancePolicy(p ActionAllowancePolicy) { w.allowancePolicy = p }

// Executor exposes the SerializedExecutor so layered extensions (e.g.
// statemachine.Layer) can submit/suspend work on the same thread of control.
func (w *Instance) Executor() *executor.Executor { return w.exec }

// ConfigureAction registers name (canonical) and its synonyms against
// handler. Must be called from OnActionsInit.
func (w *Instance) ConfigureAction(name string, handler ActionHandler, metadata map[string]any, synonyms []string, hidden bool) error {
	return w.actions.configure(name, handler, metadata, synonyms, hidden)
}

// SubscribeActionExecuted implements wait.ActionSource.
func (w *Instance) SubscribeActionExecuted(listener func(map[string]struct{}, any)) func() {
	return w.actions.SubscribeActionExecuted(listener)
}

// TimesExecuted implements wait.ActionSource.
func (w *Instance) TimesExecuted(name string) int {
	def, ok := w.actions.lookup(name)
	if !ok {
		return 0
	}
	v, _ := w.stats.Get(def.Canonical)
	n, _ := v.(int)
	return n
}

// ExecuteAction enqueues name's handler on the executor and blocks for its
// result. throwNotAllowed controls whether a disallowed action returns
// ActionNotAllowedError or a nil/nil sentinel.
func (w *Instance) ExecuteAction(ctx context.Context, name string, params any, throwNotAllowed bool) (any, error) {
	fut := w.exec.Submit(ctx, func(ctx context.Context) (any, error) {
		ctx, span := w.tracer.Start(ctx, "workflow.ExecuteAction")
		defer span.End()
		span.AddEvent("action", "name", name)

		def, ok := w.actions.lookup(name)
		if !ok {
			err := &ActionNotConfiguredError{Name: name}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if w.allowancePolicy != nil && !w.allowancePolicy.IsActionAllowed(def.Canonical) {
			if throwNotAllowed {
				err := &ActionNotAllowedError{Name: name}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			return nil, nil
		}

		result, err := def.Handler(ctx, params)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		w.stats.IncrInt(def.Canonical, 1)
		w.SaveWorkflowData(ctx)
		w.metrics.IncCounter("workflow_action_executed", 1, "action", def.Canonical, "workflow_type", w.typeName)
		w.actions.notify(def.Synonyms, params)
		return result, nil
	})
	return fut.Wait(ctx)
}

// SaveWorkflowData commits the current data snapshot and nextActivationDate
// via the repository. Must only be called from the executor.
func (w *Instance) SaveWorkflowData(ctx context.Context) {
	if w.repo == nil {
		return
	}
	id, _ := w.ID()
	if err := w.repo.SaveWorkflowData(ctx, Persisted{
		ID:                 id,
		WorkflowTypeName:   w.typeName,
		Status:             w.status,
		NextActivationDate: w.nextActivationDate,
		Data:               w.data.Snapshot(),
	}); err != nil {
		w.logger.Error(ctx, "save workflow data failed", "id", id, "err", err)
	}
}

// CancelWorkflow requests graceful cancellation (no fault attached). Safe
// from any goroutine; idempotent.
func (w *Instance) CancelWorkflow() {
	w.requestCancel(nil)
}

// StopWorkflow requests cancellation attributing cause as the reason. Safe
// from any goroutine; idempotent, but every call's cause is recorded even
// after the first latches the cancellation.
func (w *Instance) StopWorkflow(cause error) {
	if cause == nil {
		cause = ErrCanceled
	}
	w.requestCancel(cause)
}

func (w *Instance) requestCancel(fault error) {
	<-w.cancelMu
	first := !w.cancelRequested
	w.cancelRequested = true
	if fault != nil {
		w.stopFault = errors.Join(w.stopFault, fault)
	}
	w.cancelMu <- struct{}{}

	if first {
		cause := fault
		if cause == nil {
			cause = ErrCanceled
		}
		w.rootCancel(cause)
	}
}

func (w *Instance) cancelState() (requested bool, stopFault error) {
	<-w.cancelMu
	requested, stopFault = w.cancelRequested, w.stopFault
	w.cancelMu <- struct{}{}
	return
}

// Start runs the cold-start sequence (OnActionsInit, OnInit, OnCreated/
// OnLoaded, startedSignal) and then RunAsync, all as one SubmitForced task
// so ordinary ExecuteAction calls (gated on "started") cannot race the
// bootstrap. Callable at most once.
func (w *Instance) Start(ctx context.Context, req StartRequest) error {
	if w.idSet {
		return errors.New("workflow: Start called more than once")
	}
	w.id = req.ID
	w.idSet = true

	if req.BeforeStarted != nil {
		req.BeforeStarted(w)
	}

	fut := w.exec.SubmitForced(w.rootCtx, func(ctx context.Context) (any, error) {
		w.hooks.OnActionsInit(w)

		if err := w.hooks.OnInit(ctx, w); err != nil {
			w.startedSignal.Reject(err)
			return nil, err
		}

		for k, v := range req.InitialData {
			w.data.Set(k, v)
		}
		for k, v := range req.InitialTransient {
			w.transient.Set(k, v)
		}

		if req.LoadedData != nil {
			w.data.Replace(req.LoadedData)
			w.isLoaded = true
			if err := w.hooks.OnLoaded(ctx, w); err != nil {
				w.startedSignal.Reject(err)
				return nil, err
			}
		} else {
			if err := w.hooks.OnCreated(ctx, w); err != nil {
				w.startedSignal.Reject(err)
				return nil, err
			}
			w.SaveWorkflowData(ctx)
		}

		w.exec.MarkStarted()
		w.startedSignal.Resolve(nil)

		runErr := w.hooks.RunAsync(ctx, w)
		w.finish(ctx, runErr, req.AfterFinished)
		return nil, nil
	})

	_, err := fut.Wait(ctx)
	return err
}

func (w *Instance) finish(ctx context.Context, runErr error, afterFinished func(*Instance, Status, error)) {
	cancelRequested, stopFault := w.cancelState()
	cancellationShaped := runErr != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, wait.ErrCanceled) || errors.Is(runErr, ErrCanceled))

	var status Status
	var finalErr error

	switch {
	case stopFault != nil && runErr == nil:
		status, finalErr = StatusFailed, stopFault
	case runErr == nil:
		if cancelRequested {
			status = StatusCanceled
		} else {
			status = StatusCompleted
		}
	case cancellationShaped && !cancelRequested:
		status, finalErr = StatusFailed, fmt.Errorf("%w: %v", ErrUnexpectedChildCancellation, runErr)
	default:
		status, finalErr = StatusFailed, runErr
		if cancelRequested {
			status = StatusCanceled
		}
	}

	w.status = status
	w.finalErr = finalErr
	if status == StatusCanceled {
		w.hooks.OnCanceled(ctx, w)
	}

	id, _ := w.ID()
	if w.repo != nil {
		switch status {
		case StatusCompleted:
			_ = w.repo.MarkWorkflowAsCompleted(ctx, id)
		case StatusCanceled:
			_ = w.repo.MarkWorkflowAsCanceled(ctx, id, finalErr)
		case StatusFailed:
			_ = w.repo.MarkWorkflowAsFailed(ctx, id, finalErr)
		}
	}

	w.completedSignal.Resolve(status)
	if afterFinished != nil {
		afterFinished(w, status, finalErr)
	}
}
