package statemachine

// StateConfig is one configured state: its parent (for SubstateOf nesting),
// its handler lists, and its per-state action allowance lists.
type StateConfig[S comparable] struct {
	Name   S
	Parent *S

	OnEnter    []*Op
	OnActivate []*Op
	OnAsync    []*Op
	OnExit     []*Op

	AllowActions    map[string]struct{}
	DisallowActions map[string]struct{}
	Hidden          bool
	Description     string
}

// Config is the state configuration DSL's registry: every state a
// statemachine.Layer[S] interprets must be registered here first.
type Config[S comparable] struct {
	states     map[S]*StateConfig[S]
	order      []S
	categories map[string]map[string]struct{} // category name -> allowed action names
}

// NewConfig constructs an empty Config.
func NewConfig[S comparable]() *Config[S] {
	return &Config[S]{
		states:     make(map[S]*StateConfig[S]),
		categories: make(map[string]map[string]struct{}),
	}
}

// ConfigureState registers name and returns a builder to chain further
// configuration. Re-registering an already-configured name replaces its
// earlier configuration (keeping its original position in States()); it is
// not reported as an error, here or by Validate.
func (c *Config[S]) ConfigureState(name S) *StateBuilder[S] {
	sc := &StateConfig[S]{
		Name:            name,
		AllowActions:    make(map[string]struct{}),
		DisallowActions: make(map[string]struct{}),
	}
	if _, exists := c.states[name]; !exists {
		c.order = append(c.order, name)
	}
	c.states[name] = sc
	return &StateBuilder[S]{cfg: c, state: sc}
}

// Category defines a named bundle of allowed actions, composable into a
// state's AllowActions via AllowCategory.
func (c *Config[S]) Category(name string, actions ...string) {
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	c.categories[name] = set
}

// States returns every configured state, in registration order. Exists for
// external tooling (e.g. the graph renderer) that needs to walk the
// hierarchy and op chains without reaching into Config's internal maps.
func (c *Config[S]) States() []*StateConfig[S] {
	out := make([]*StateConfig[S], 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.states[name])
	}
	return out
}

// Validate checks that every Parent reference resolves to a configured
// state. It does not check category references or repeated registrations.
func (c *Config[S]) Validate() error {
	for _, name := range c.order {
		sc := c.states[name]
		if sc.Parent != nil {
			if _, ok := c.states[*sc.Parent]; !ok {
				return &InvalidStateConfigurationError{Reason: "missing parent state"}
			}
		}
	}
	return nil
}

// StateBuilder is the fluent configuration surface for one state.
type StateBuilder[S comparable] struct {
	cfg   *Config[S]
	state *StateConfig[S]
}

func (b *StateBuilder[S]) SubstateOf(parent S) *StateBuilder[S] {
	b.state.Parent = &parent
	return b
}

func (b *StateBuilder[S]) OnEnter(ops ...*Op) *StateBuilder[S] {
	b.state.OnEnter = append(b.state.OnEnter, ops...)
	return b
}

func (b *StateBuilder[S]) OnActivate(ops ...*Op) *StateBuilder[S] {
	b.state.OnActivate = append(b.state.OnActivate, ops...)
	return b
}

func (b *StateBuilder[S]) OnAsync(ops ...*Op) *StateBuilder[S] {
	b.state.OnAsync = append(b.state.OnAsync, ops...)
	return b
}

func (b *StateBuilder[S]) OnExit(ops ...*Op) *StateBuilder[S] {
	b.state.OnExit = append(b.state.OnExit, ops...)
	return b
}

func (b *StateBuilder[S]) AllowActions(names ...string) *StateBuilder[S] {
	for _, n := range names {
		b.state.AllowActions[n] = struct{}{}
	}
	return b
}

func (b *StateBuilder[S]) AllowCategory(name string) *StateBuilder[S] {
	for action := range b.cfg.categories[name] {
		b.state.AllowActions[action] = struct{}{}
	}
	return b
}

func (b *StateBuilder[S]) DisallowActions(names ...string) *StateBuilder[S] {
	for _, n := range names {
		b.state.DisallowActions[n] = struct{}{}
	}
	return b
}

func (b *StateBuilder[S]) Hide(flag bool) *StateBuilder[S] {
	b.state.Hidden = flag
	return b
}

func (b *StateBuilder[S]) Describe(s string) *StateBuilder[S] {
	b.state.Description = s
	return b
}

// pathTo returns the chain from the root ancestor down to name (leaf-last),
// i.e. [root, ..., parent, name].
func (c *Config[S]) pathTo(name S) []S {
	var reversed []S
	cur := name
	for {
		reversed = append(reversed, cur)
		sc, ok := c.states[cur]
		if !ok || sc.Parent == nil {
			break
		}
		cur = *sc.Parent
	}
	path := make([]S, len(reversed))
	for i, s := range reversed {
		path[len(reversed)-1-i] = s
	}
	return path
}
