package workflow

import (
	"context"
	"sync"
)

// ActionHandler is the user-supplied logic run when an action executes.
type ActionHandler func(ctx context.Context, params any) (any, error)

// ActionDefinition describes one registered action and every name it can be
// invoked by.
type ActionDefinition struct {
	Canonical string
	Synonyms  map[string]struct{} // includes Canonical
	Handler   ActionHandler
	Metadata  map[string]any
	Hidden    bool
}

// actionCatalog is the ordered list + name index described in §3: each
// synonym maps to the same *ActionDefinition, and the stats bucket is keyed
// by the canonical (first-registered) name (invariant I6).
type actionCatalog struct {
	mu        sync.Mutex
	order     []string // canonical names in registration order
	byName    map[string]*ActionDefinition
	listeners map[int]func(synonyms map[string]struct{}, params any)
	nextSub   int
}

func newActionCatalog() *actionCatalog {
	return &actionCatalog{
		byName:    make(map[string]*ActionDefinition),
		listeners: make(map[int]func(map[string]struct{}, any)),
	}
}

// configure registers name (canonical) plus synonyms, all pointing at the
// same ActionDefinition. Returns ErrDuplicateAction if any of the names is
// already taken.
func (c *actionCatalog) configure(name string, handler ActionHandler, metadata map[string]any, synonyms []string, hidden bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := append([]string{name}, synonyms...)
	for _, n := range all {
		if _, exists := c.byName[n]; exists {
			return ErrDuplicateAction
		}
	}

	synonymSet := make(map[string]struct{}, len(all))
	for _, n := range all {
		synonymSet[n] = struct{}{}
	}
	def := &ActionDefinition{
		Canonical: name,
		Synonyms:  synonymSet,
		Handler:   handler,
		Metadata:  metadata,
		Hidden:    hidden,
	}
	for _, n := range all {
		c.byName[n] = def
	}
	c.order = append(c.order, name)
	return nil
}

func (c *actionCatalog) lookup(name string) (*ActionDefinition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.byName[name]
	return def, ok
}

func (c *actionCatalog) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// SubscribeActionExecuted implements wait.ActionSource.
func (c *actionCatalog) SubscribeActionExecuted(listener func(map[string]struct{}, any)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = listener
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// notify fires every live listener synchronously (O2: raised right after
// stats/save, on the same executor as the ExecuteAction that caused it).
func (c *actionCatalog) notify(synonyms map[string]struct{}, params any) {
	c.mu.Lock()
	listeners := make([]func(map[string]struct{}, any), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()
	for _, l := range listeners {
		l(synonyms, params)
	}
}
