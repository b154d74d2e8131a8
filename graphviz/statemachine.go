// Package graphviz renders diagnostic Graphviz DOT graphs for the two
// relational structures that are otherwise hard to see from code alone: a
// statemachine.Config's state hierarchy and transition edges, and an
// engine.Coordinator's cross-workflow dependency wiring. Grounded on the
// teacher/pack's diagnostic-export style (the statechart visualizer
// interface in the pack's comalice-statechartx reference, which exposes an
// ExportDOT(config, current) string method) - this package follows the same
// shape but as free functions over this repo's own Config/Coordinator types,
// since there is no single "current state" to highlight across many
// concurrent workflow instances.
package graphviz

import (
	"fmt"
	"strings"

	"github.com/luno/workflowcore/statemachine"
)

// RenderStateMachine emits a DOT digraph of cfg: one node per configured
// state, a dotted containment edge from each state to its SubstateOf parent,
// and a solid edge for every GoTo/IfThenGoTo transition target reachable
// from that state's OnEnter/OnActivate/OnAsync/OnExit op chains.
func RenderStateMachine[S comparable](name string, cfg *statemachine.Config[S]) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %s {\n", dotID(name))
	b.WriteString("  rankdir=LR;\n")

	states := cfg.States()
	for _, sc := range states {
		label := fmt.Sprint(sc.Name)
		if sc.Description != "" {
			label = fmt.Sprintf("%s\\n%s", label, sc.Description)
		}
		style := "solid"
		if sc.Hidden {
			style = "dashed"
		}
		fmt.Fprintf(&b, "  %s [label=%q, shape=box, style=%s];\n", dotID(fmt.Sprint(sc.Name)), label, style)
		if sc.Parent != nil {
			fmt.Fprintf(&b, "  %s -> %s [style=dotted, arrowhead=none, label=\"substate\"];\n",
				dotID(fmt.Sprint(*sc.Parent)), dotID(fmt.Sprint(sc.Name)))
		}
	}

	seen := make(map[[2]string]struct{})
	for _, sc := range states {
		from := dotID(fmt.Sprint(sc.Name))
		var chains [][]*statemachine.Op
		chains = append(chains, sc.OnEnter, sc.OnActivate, sc.OnAsync, sc.OnExit)
		for _, chain := range chains {
			for _, target := range transitionTargets(chain) {
				to := dotID(fmt.Sprint(target))
				key := [2]string{from, to}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				fmt.Fprintf(&b, "  %s -> %s;\n", from, to)
			}
		}
	}

	b.WriteString("}\n")
	return b.String()
}

// transitionTargets walks every op chain's root (and Invoke/If's nested
// Next), collecting every GoTo/IfThenGoTo target it reaches. Do has no
// target; Invoke/If only continue into Next.
func transitionTargets(ops []*statemachine.Op) []any {
	var out []any
	for _, op := range ops {
		out = append(out, walkOpTargets(op)...)
	}
	return out
}

func walkOpTargets(op *statemachine.Op) []any {
	if op == nil {
		return nil
	}
	switch op.Kind {
	case statemachine.OpGoTo:
		return []any{op.GoToTarget}
	case statemachine.OpIfThenGoTo:
		return []any{op.IfThenGoToTarget}
	case statemachine.OpInvoke, statemachine.OpIf:
		return walkOpTargets(op.Next)
	default:
		return nil
	}
}

// dotID quotes s as a DOT identifier.
func dotID(s string) string {
	return fmt.Sprintf("%q", s)
}
