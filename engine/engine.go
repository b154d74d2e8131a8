// Package engine implements the workflow creation/preload/lookup
// collaborator described in spec.md §4.6, grounded on the teacher's
// registry-plus-adapter shape (goadesign-goa-ai's engine.Engine /
// engine/temporal's mutex-protected runningWorkflows bookkeeping), adapted
// from "register workflow/activity definitions, start via a backend" to
// "resolve a type name via di.Resolver, track the live set, preload the
// repository's active horizon."
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/luno/workflowcore/clock"
	"github.com/luno/workflowcore/di"
	"github.com/luno/workflowcore/telemetry"
	"github.com/luno/workflowcore/workflow"
)

// DefaultPreloadHorizon is the window LoadAndExecuteActiveWorkflows scans
// ahead of now when no horizon is given, per spec.md §4.6.
const DefaultPreloadHorizon = 6 * time.Hour

// preloadLeadTime is how far before each horizon boundary the recurring
// self-preload re-fires.
const preloadLeadTime = 30 * time.Minute

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithClock(c clock.Clock) Option         { return func(e *Engine) { e.clock = c } }
func WithLogger(l telemetry.Logger) Option   { return func(e *Engine) { e.logger = l } }
func WithMetrics(m telemetry.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// Engine creates, preloads, and indexes workflow instances by id. Its
// bookkeeping (the running map) is a mutex-protected map per spec.md §5's
// "locked maps" resource policy, mirroring the teacher's
// runningWorkflows/workflowsById registries.
type Engine struct {
	resolver di.Resolver
	repo     workflow.Repository
	clock    clock.Clock
	logger   telemetry.Logger
	metrics  telemetry.Metrics

	mu      sync.RWMutex
	running map[any]*workflow.Instance

	preloadMu     sync.Mutex
	preloadCancel context.CancelFunc
}

// New constructs an Engine over resolver and repo.
func New(resolver di.Resolver, repo workflow.Repository, opts ...Option) *Engine {
	e := &Engine{
		resolver: resolver,
		repo:     repo,
		clock:    clock.NewRealClock(),
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
		running:  make(map[any]*workflow.Instance),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateWorkflow resolves typeName via the DI resolver, assigns a fresh id,
// and starts it, blocking until cold start completes (or fails).
func (e *Engine) CreateWorkflow(ctx context.Context, typeName string, initialData, initialTransient map[string]any) (*workflow.Instance, error) {
	w, err := e.resolver.Resolve(typeName)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	e.register(id, w)

	go func() {
		_ = w.Start(ctx, workflow.StartRequest{
			ID:               id,
			InitialData:      initialData,
			InitialTransient: initialTransient,
			AfterFinished:    e.afterFinished,
		})
	}()

	if _, err := w.Started().Wait(ctx); err != nil {
		e.unregister(id)
		return nil, err
	}
	e.metrics.IncCounter("engine_workflow_created", 1, "workflow_type", typeName)
	return w, nil
}

// LoadAndExecuteActiveWorkflows is a one-shot call: it loads every
// repository entry due within horizon (DefaultPreloadHorizon if horizon is
// zero), skipping ids already running, then schedules a recurring
// self-preload that re-fires preloadLeadTime before each horizon boundary.
func (e *Engine) LoadAndExecuteActiveWorkflows(ctx context.Context, horizon time.Duration) error {
	if horizon <= 0 {
		horizon = DefaultPreloadHorizon
	}
	if err := e.preloadOnce(ctx, horizon); err != nil {
		return err
	}
	e.schedulePreload(ctx, horizon)
	return nil
}

func (e *Engine) preloadOnce(ctx context.Context, horizon time.Duration) error {
	maxDate := e.clock.UtcNow().Add(horizon)
	entries, err := e.repo.GetActiveWorkflows(ctx, maxDate, e.runningIDs())
	if err != nil {
		return err
	}
	for _, p := range entries {
		if _, err := e.loadWorkflow(ctx, p); err != nil {
			e.logger.Error(ctx, "preload workflow failed", "id", p.ID, "err", err)
		}
	}
	return nil
}

func (e *Engine) schedulePreload(ctx context.Context, horizon time.Duration) {
	interval := horizon - preloadLeadTime
	if interval <= 0 {
		interval = horizon
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	limiter.Allow() // consume the initial burst so the first Wait actually blocks one interval

	preloadCtx, cancel := context.WithCancel(ctx)
	e.preloadMu.Lock()
	if e.preloadCancel != nil {
		e.preloadCancel()
	}
	e.preloadCancel = cancel
	e.preloadMu.Unlock()

	go func() {
		for {
			if err := limiter.Wait(preloadCtx); err != nil {
				return
			}
			if err := e.preloadOnce(preloadCtx, horizon); err != nil {
				e.logger.Error(preloadCtx, "recurring preload failed", "err", err)
			}
		}
	}()
}

// GetActiveWorkflowByID returns the running instance for id, loading it
// from the repository on demand if it is persisted but not yet live.
func (e *Engine) GetActiveWorkflowByID(ctx context.Context, id any) (*workflow.Instance, error) {
	e.mu.RLock()
	w, ok := e.running[id]
	e.mu.RUnlock()
	if ok {
		return w, nil
	}

	p, found, err := e.repo.GetActiveWorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrWorkflowNotFound
	}
	return e.loadWorkflow(ctx, p)
}

func (e *Engine) loadWorkflow(ctx context.Context, p workflow.Persisted) (*workflow.Instance, error) {
	w, err := e.resolver.Resolve(p.WorkflowTypeName)
	if err != nil {
		return nil, err
	}
	e.register(p.ID, w)

	go func() {
		_ = w.Start(ctx, workflow.StartRequest{
			ID:            p.ID,
			LoadedData:    p.Data,
			AfterFinished: e.afterFinished,
		})
	}()

	if _, err := w.Started().Wait(ctx); err != nil {
		e.unregister(p.ID)
		return nil, err
	}
	return w, nil
}

// Dispose cancels the recurring preloader, if one is running.
func (e *Engine) Dispose() {
	e.preloadMu.Lock()
	cancel := e.preloadCancel
	e.preloadCancel = nil
	e.preloadMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) register(id any, w *workflow.Instance) {
	e.mu.Lock()
	e.running[id] = w
	e.mu.Unlock()
}

func (e *Engine) unregister(id any) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}

func (e *Engine) runningIDs() map[any]struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[any]struct{}, len(e.running))
	for id := range e.running {
		out[id] = struct{}{}
	}
	return out
}

func (e *Engine) afterFinished(w *workflow.Instance, _ workflow.Status, _ error) {
	id, ok := w.ID()
	if !ok {
		return
	}
	e.unregister(id)
}
