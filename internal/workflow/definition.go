package workflow

import (
	"fmt"
	"sort"
)

// DependencyGraph maps artifact names to the artifact names they depend on.
// Every key is a node; dependency entries must name another key.
type DependencyGraph map[string][]string

// Clone returns a deep copy of the graph.
func (g DependencyGraph) Clone() DependencyGraph {
	if len(g) == 0 {
		return nil
	}
	out := make(DependencyGraph, len(g))
	for key, deps := range g {
		if len(deps) == 0 {
			out[key] = nil
			continue
		}
		clone := make([]string, len(deps))
		copy(clone, deps)
		out[key] = clone
	}
	return out
}

// Nodes returns the graph's artifact names sorted lexically.
func (g DependencyGraph) Nodes() []string {
	out := make([]string, 0, len(g))
	for key := range g {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Validate ensures every dependency names a node of the graph.
func (g DependencyGraph) Validate() error {
	for _, key := range g.Nodes() {
		if key == "" {
			return fmt.Errorf("workflow: artifact name is required")
		}
		for _, dep := range g[key] {
			if _, ok := g[dep]; !ok {
				return &UnknownDependencyError{Artifact: key, Dependency: dep}
			}
		}
	}
	return nil
}

// Transitive reports whether name depends, directly or through other
// artifacts, on any member of set.
func (g DependencyGraph) Transitive(name string, set map[string]struct{}) bool {
	if len(set) == 0 {
		return false
	}
	visited := map[string]struct{}{}
	stack := append([]string(nil), g[name]...)
	for len(stack) > 0 {
		dep := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[dep]; seen {
			continue
		}
		visited[dep] = struct{}{}
		if _, hit := set[dep]; hit {
			return true
		}
		stack = append(stack, g[dep]...)
	}
	return false
}

func mergeDependencies(existing, adds []string) []string {
	if len(adds) == 0 && len(existing) == 0 {
		return nil
	}
	set := map[string]struct{}{}
	for _, id := range existing {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	for _, id := range adds {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
