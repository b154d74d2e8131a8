// Package di implements the dependency-injection resolver the engine uses
// to turn a workflow type name into a fresh, unstarted instance.
package di

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/luno/workflowcore/workflow"
)

// Resolver is the contract engine.Engine depends on: construct a fresh
// workflow.Instance given the type name under which it was registered.
type Resolver interface {
	Resolve(typeName string) (*workflow.Instance, error)
}

// ReflectResolver is the default Resolver. Workflow types register a
// prototype value (a pointer to their Hooks-implementing struct) via
// RegisterType; Resolve builds a fresh instance by reflect.New-ing a new
// zero value of that type on every call, so the prototype itself is never
// mutated or shared across concurrent instances. Registration stays
// explicit (a typeName plus a prototype, no struct-tag scanning); reflection
// is used only for the one thing it is suited to here, instantiation.
type ReflectResolver struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
	opts  map[string][]workflow.Option
}

// NewReflectResolver constructs an empty ReflectResolver.
func NewReflectResolver() *ReflectResolver {
	return &ReflectResolver{
		types: make(map[string]reflect.Type),
		opts:  make(map[string][]workflow.Option),
	}
}

// RegisterType associates typeName with prototype's concrete type. opts are
// applied to every instance Resolve produces for this type (e.g. a shared
// Repository or Clock).
func (r *ReflectResolver) RegisterType(typeName string, prototype workflow.Hooks, opts ...workflow.Option) error {
	t := reflect.TypeOf(prototype)
	if t == nil || t.Kind() != reflect.Ptr {
		return fmt.Errorf("di: prototype for %q must be a non-nil pointer", typeName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[typeName]; exists {
		return fmt.Errorf("di: workflow type %q already registered", typeName)
	}
	r.types[typeName] = t.Elem()
	r.opts[typeName] = opts
	return nil
}

// Resolve constructs a fresh workflow.Instance for typeName.
func (r *ReflectResolver) Resolve(typeName string) (*workflow.Instance, error) {
	r.mu.RLock()
	elem, ok := r.types[typeName]
	opts := r.opts[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("di: workflow type %q not registered", typeName)
	}

	hooksVal := reflect.New(elem).Interface()
	hooks, ok := hooksVal.(workflow.Hooks)
	if !ok {
		return nil, fmt.Errorf("di: registered type %q does not implement workflow.Hooks", typeName)
	}
	return workflow.New(typeName, hooks, opts...), nil
}
