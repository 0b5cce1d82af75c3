// Package metrics exposes build observability as Prometheus metrics.
//
// The [Reporter] plugs into the pipeline's result stream and counts stage
// outcomes and durations. The CLI serves the handler on an opt-in
// listener during long builds.
package metrics
