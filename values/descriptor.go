package values

import "fmt"

// Binding is one named field of a workflow type bound into a Store (or any
// other get/set pair). Persistent bindings round-trip through the
// repository; transient ones never do.
type Binding struct {
	Name       string
	Persistent bool
	Get        func() any
	Set        func(any)
}

// Descriptor is a workflow type's explicit field registry: the "reflection
// substitute" described in spec.md's design notes. Each named field
// registers its own getter/setter pair (typically closing over a struct
// field or a Store entry) at configuration time, rather than being
// discovered via struct tags.
type Descriptor struct {
	order    []string
	bindings map[string]Binding
}

// NewDescriptor constructs an empty Descriptor.
func NewDescriptor() *Descriptor {
	return &Descriptor{bindings: make(map[string]Binding)}
}

// Register binds name to get/set. Registering the same name twice is a
// configuration error (returned, not panicked, since registration may run
// conditionally at runtime during OnInit).
func (d *Descriptor) Register(name string, persistent bool, get func() any, set func(any)) error {
	if _, exists := d.bindings[name]; exists {
		return fmt.Errorf("values: field %q already registered", name)
	}
	d.bindings[name] = Binding{Name: name, Persistent: persistent, Get: get, Set: set}
	d.order = append(d.order, name)
	return nil
}

// Names returns every registered field name in registration order.
func (d *Descriptor) Names() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// PersistentNames returns the registered field names marked persistent, in
// registration order.
func (d *Descriptor) PersistentNames() []string {
	var out []string
	for _, name := range d.order {
		if d.bindings[name].Persistent {
			out = append(out, name)
		}
	}
	return out
}

// Get reads the current value of a registered field.
func (d *Descriptor) Get(name string) (any, bool) {
	b, ok := d.bindings[name]
	if !ok {
		return nil, false
	}
	return b.Get(), true
}

// Set writes value into a registered field, returning false if name was
// never registered.
func (d *Descriptor) Set(name string, value any) bool {
	b, ok := d.bindings[name]
	if !ok {
		return false
	}
	b.Set(value)
	return true
}

// Snapshot reads every persistent field into a plain map, suitable for
// handing to a repository's SaveWorkflowData alongside the raw data Store.
func (d *Descriptor) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, name := range d.order {
		b := d.bindings[name]
		if b.Persistent {
			out[name] = b.Get()
		}
	}
	return out
}

// Load applies persisted values back onto their bound fields. Unknown keys
// in data are ignored; missing keys leave the field at its zero/default
// value untouched.
func (d *Descriptor) Load(data map[string]any) {
	for name, value := range data {
		if b, ok := d.bindings[name]; ok && b.Persistent {
			b.Set(value)
		}
	}
}
