// Package pipeline executes stage graphs against a cache store.
//
// The [Executor] walks a validated graph in topological order. For each
// stage it computes a fingerprint (chaining the parent's fingerprint),
// consults the cache store, and either serves the committed artifact or
// invokes the stage [Runner] and commits what it produces. Total build
// cost is proportional to the number of cache misses, not the number of
// stages. A failed stage skips its descendants while independent branches
// complete; nothing committed is rolled back, so a later invocation
// resumes from the failure.
//
// The [Controller] wraps one invocation end-to-end: it builds the graph,
// drives the executor, streams a [Result] per stage to a [Reporter], and
// returns a [Summary] carrying the final stage's artifact.
//
// Example usage:
//
//	controller := pipeline.NewController(store, runner, resolver, pipeline.LogReporter{})
//
//	summary, err := controller.Build(ctx, pipeline.Options{
//	    Spec:    spec,
//	    Workers: 4,
//	})
//	if err != nil {
//	    return err
//	}
//	os.WriteFile("out.tar", summary.Output.Payload, 0o644)
package pipeline
