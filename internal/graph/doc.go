// Package graph models a build as a directed acyclic graph of stages.
//
// A [Spec] lists stages in declaration order; each stage names at most one
// parent stage it extends. [Build] validates the spec (unique names, known
// parents, no cycles) and resolves the name-based parent references into a
// fixed topological order. Ties between unrelated stages are broken by
// declaration order so that every build of the same spec walks the stages
// in the same sequence.
//
// Example usage:
//
//	g, err := graph.Build(graph.Spec{Stages: []graph.Stage{
//	    {Name: "deps", Command: "install deps"},
//	    {Name: "compile", Parent: "deps", Command: "compile"},
//	}})
//	if err != nil {
//	    return err
//	}
//
//	for _, stage := range g.TopologicalOrder() {
//	    // stage.Parent has already been placed
//	}
package graph
