package graphviz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/luno/workflowcore/engine"
)

// RenderCoordinator emits a DOT digraph of c's registered dependencies: one
// node per named slot that appears as either a dependency source or
// destination, and one labelled edge per dependency, styled dashed while
// still unbound (i.e. before SetWorkflows has resolved its source slot).
func RenderCoordinator(name string, c *engine.Coordinator) string {
	edges := c.DependencyEdges()

	var b strings.Builder
	fmt.Fprintf(&b, "digraph %s {\n", dotID(name))
	b.WriteString("  rankdir=LR;\n")

	nodes := make(map[string]struct{})
	for _, e := range edges {
		nodes[e.SrcSlot] = struct{}{}
		nodes[e.DstSlot] = struct{}{}
	}
	names := make([]string, 0, len(nodes))
	for n := range nodes {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(&b, "  %s [label=%q, shape=box];\n", dotID(n), n)
	}

	for _, e := range edges {
		style := "solid"
		if !e.Bound {
			style = "dashed"
		}
		fmt.Fprintf(&b, "  %s -> %s [label=%q, style=%s];\n",
			dotID(e.SrcSlot), dotID(e.DstSlot), e.TriggerDesc, style)
	}

	b.WriteString("}\n")
	return b.String()
}
