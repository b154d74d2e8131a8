package graphviz

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/luno/workflowcore/statemachine"
)

// stateDump is the YAML companion to RenderStateMachine: the same state
// configuration, without DOT's layout noise, for diffing or piping into
// other tooling. Grounded on the pack's yaml.v3 usage style (framework's
// scenario config structs - plain tagged fields, no custom marshalers).
type stateDump struct {
	Name        string   `yaml:"name"`
	Parent      string   `yaml:"parent,omitempty"`
	Hidden      bool     `yaml:"hidden,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Transitions []string `yaml:"transitions,omitempty"`
}

type configDump struct {
	States []stateDump `yaml:"states"`
}

// DumpStateMachineYAML renders cfg as a YAML document listing every state,
// its parent (if any), and the deduplicated set of transition targets its
// op chains can reach - a compact companion to RenderStateMachine's DOT
// output for tooling that would rather parse YAML than a graph.
func DumpStateMachineYAML[S comparable](cfg *statemachine.Config[S]) (string, error) {
	dump := configDump{}
	for _, sc := range cfg.States() {
		var parent string
		if sc.Parent != nil {
			parent = fmt.Sprint(*sc.Parent)
		}

		seen := make(map[string]struct{})
		var transitions []string
		for _, chain := range [][]*statemachine.Op{sc.OnEnter, sc.OnActivate, sc.OnAsync, sc.OnExit} {
			for _, target := range transitionTargets(chain) {
				t := fmt.Sprint(target)
				if _, dup := seen[t]; dup {
					continue
				}
				seen[t] = struct{}{}
				transitions = append(transitions, t)
			}
		}

		dump.States = append(dump.States, stateDump{
			Name:        fmt.Sprint(sc.Name),
			Parent:      parent,
			Hidden:      sc.Hidden,
			Description: sc.Description,
			Transitions: transitions,
		})
	}

	out, err := yaml.Marshal(dump)
	if err != nil {
		return "", fmt.Errorf("graphviz: marshal state dump: %w", err)
	}
	return string(out), nil
}
