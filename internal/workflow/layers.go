package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports artifacts that could not be placed into any layer
// because they sit on, or depend on, a dependency cycle.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow: dependency cycle among %s", strings.Join(e.Remaining, ", "))
}

// UnknownDependencyError reports a dependency on an artifact that is not part
// of the graph.
type UnknownDependencyError struct {
	Artifact   string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("workflow: artifact %s depends on unknown artifact %s", e.Artifact, e.Dependency)
}

// Layers partitions the graph into sequential layers using Kahn's algorithm
// run in waves. Every dependency of an artifact in layer i sits in a layer
// before i, and each artifact lands in the earliest layer that allows it.
// Artifacts inside a layer are sorted by name so the result is deterministic.
func Layers(graph DependencyGraph) ([][]string, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	if len(graph) == 0 {
		return [][]string{}, nil
	}
	indegree := make(map[string]int, len(graph))
	dependents := make(map[string][]string, len(graph))
	for name, deps := range graph {
		unique := mergeDependencies(nil, deps)
		indegree[name] = len(unique)
		for _, dep := range unique {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var current []string
	for name, degree := range indegree {
		if degree == 0 {
			current = append(current, name)
		}
	}

	layers := [][]string{}
	placed := 0
	for len(current) > 0 {
		sort.Strings(current)
		layers = append(layers, current)
		placed += len(current)
		var next []string
		for _, name := range current {
			for _, dependent := range dependents[name] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if placed != len(graph) {
		remaining := make([]string, 0, len(graph)-placed)
		for name, degree := range indegree {
			if degree > 0 {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, &CycleError{Remaining: remaining}
	}
	return layers, nil
}

// FilterLayers keeps only the artifacts present in targets, dropping layers
// that end up empty. A nil or empty targets set returns the layers unchanged.
func FilterLayers(layers [][]string, targets []string) [][]string {
	if len(targets) == 0 {
		return layers
	}
	keep := make(map[string]struct{}, len(targets))
	for _, name := range targets {
		keep[name] = struct{}{}
	}
	out := make([][]string, 0, len(layers))
	for _, layer := range layers {
		var filtered []string
		for _, name := range layer {
			if _, ok := keep[name]; ok {
				filtered = append(filtered, name)
			}
		}
		if len(filtered) > 0 {
			out = append(out, filtered)
		}
	}
	return out
}

// Flatten returns the artifacts of all layers in execution order.
func Flatten(layers [][]string) []string {
	var out []string
	for _, layer := range layers {
		out = append(out, layer...)
	}
	return out
}
