package graph

import (
	"fmt"
)

// Declarative description of a stage pipeline, as produced by a spec loader.
type Spec struct {
	Stages []Stage // Stages in declaration order.
}

// Validated stage pipeline with a fixed topological order.
//
// A Graph owns its stages. Parent references are name-based and resolved
// once, at construction time, into an index-based order; there are no live
// parent pointers between stages. The graph is immutable after Build and
// safe for concurrent reads.
type Graph struct {
	stages []Stage        // Stages in declaration order.
	byName map[string]int // Stage name to declaration index.
	order  []int          // Topological order as declaration indices.
}

// Builds and validates a graph from a spec.
//
// Stage names must be unique and non-empty, parent references must name a
// stage in the spec, and parent chains must not form a cycle. Stages with
// no dependency relation keep their declaration order in the topological
// order, so repeated builds of the same spec walk stages identically.
func Build(spec Spec) (*Graph, error) {
	if len(spec.Stages) == 0 {
		return nil, ErrEmptySpec
	}

	byName := make(map[string]int, len(spec.Stages))
	for i, stage := range spec.Stages {
		if stage.Name == "" {
			return nil, fmt.Errorf("stage %d: %w", i+1, ErrUnnamedStage)
		}
		if _, exists := byName[stage.Name]; exists {
			return nil, fmt.Errorf("stage %q: %w", stage.Name, ErrDuplicateStage)
		}
		byName[stage.Name] = i
	}

	for _, stage := range spec.Stages {
		if stage.Parent == "" {
			continue
		}
		if _, ok := byName[stage.Parent]; !ok {
			return nil, fmt.Errorf("stage %q references parent %q: %w", stage.Name, stage.Parent, ErrUnknownParent)
		}
		if stage.Parent == stage.Name {
			return nil, fmt.Errorf("stage %q: %w", stage.Name, ErrCycle)
		}
	}

	g := &Graph{
		stages: spec.Stages,
		byName: byName,
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order

	return g, nil
}

// Returns the number of stages in the graph.
func (g *Graph) Len() int {
	return len(g.stages)
}

// Returns a stage by name.
func (g *Graph) Stage(name string) (*Stage, bool) {
	i, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return &g.stages[i], true
}

// Returns the stages in topological order.
//
// The order is deterministic: every stage appears after its parent, and
// stages with no dependency relation between them appear in declaration
// order. The returned slice is freshly allocated on each call.
func (g *Graph) TopologicalOrder() []*Stage {
	stages := make([]*Stage, 0, len(g.order))
	for _, i := range g.order {
		stages = append(stages, &g.stages[i])
	}
	return stages
}

// Returns the names of the stages that declare the given stage as parent,
// in declaration order.
func (g *Graph) Children(name string) []string {
	var children []string
	for _, stage := range g.stages {
		if stage.Parent == name {
			children = append(children, stage.Name)
		}
	}
	return children
}

// Computes a stable topological order over the stages.
//
// Kahn's algorithm with a declaration-ordered ready set: on every round the
// lowest-index stage whose parent has been placed is emitted next. A parent
// chain that never becomes ready indicates a cycle.
func (g *Graph) topoSort() ([]int, error) {
	placed := make([]bool, len(g.stages))
	order := make([]int, 0, len(g.stages))

	for len(order) < len(g.stages) {
		next := -1
		for i, stage := range g.stages {
			if placed[i] {
				continue
			}
			if stage.Parent == "" || placed[g.byName[stage.Parent]] {
				next = i
				break
			}
		}
		if next == -1 {
			return nil, fmt.Errorf("%w: %s", ErrCycle, g.cycleChain(placed))
		}
		placed[next] = true
		order = append(order, next)
	}

	return order, nil
}

// Traces a parent chain among the unplaced stages for error reporting.
func (g *Graph) cycleChain(placed []bool) string {
	start := -1
	for i := range g.stages {
		if !placed[i] {
			start = i
			break
		}
	}
	if start == -1 {
		return "(none)"
	}

	chain := g.stages[start].Name
	seen := map[int]bool{start: true}
	for i := start; ; {
		parent := g.stages[i].Parent
		if parent == "" {
			break
		}
		p := g.byName[parent]
		chain += " -> " + parent
		if seen[p] {
			break
		}
		seen[p] = true
		i = p
	}
	return chain
}
