package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/fingerprint"
	"github.com/cruciblehq/kiln/internal/graph"
)

// Controls a build invocation.
type Options struct {
	Spec    graph.Spec // Stages to build.
	Workers int        // Parallel worker count. Values below two mean sequential execution.
}

// Outcome of a build invocation.
type Summary struct {
	ID       string          // Unique identifier of this invocation.
	Results  []Result        // Per-stage results in completion order.
	Duration time.Duration   // Total wall time of the invocation.
	Output   *cache.Artifact // Final stage's artifact when the build succeeded.
}

// Reports whether every attempted stage concluded without failure and no
// stage was left unattempted.
func (s *Summary) Success() bool {
	if s.FirstFailure() != nil {
		return false
	}
	return true
}

// Returns the first failed result, or nil.
func (s *Summary) FirstFailure() *Result {
	for i := range s.Results {
		if s.Results[i].Outcome == OutcomeFailed {
			return &s.Results[i]
		}
	}
	return nil
}

// Orchestrates builds: graph construction, execution, and reporting.
type Controller struct {
	store    cache.Store          // Cache consulted and fed by the executor.
	runner   Runner               // Produces artifacts on cache misses.
	resolver fingerprint.Resolver // Resolves file-reference inputs.
	reporter Reporter             // Receives results as stages finish.
}

// Creates a controller. A nil reporter discards results.
func NewController(store cache.Store, runner Runner, resolver fingerprint.Resolver, reporter Reporter) *Controller {
	if reporter == nil {
		reporter = ReporterFunc(func(Result) {})
	}
	return &Controller{
		store:    store,
		runner:   runner,
		resolver: resolver,
		reporter: reporter,
	}
}

// Runs one build end-to-end.
//
// The graph is validated first; construction errors abort before any stage
// executes. Results stream to the reporter as stages finish. A failed
// stage fails the build but the summary still carries every result
// produced before and alongside the failure. Re-invoking after a failure
// recomputes only the failed stage and its descendants; everything already
// committed is served from cache.
func (c *Controller) Build(ctx context.Context, opts Options) (*Summary, error) {
	id := uuid.NewString()
	start := time.Now()

	g, err := graph.Build(opts.Spec)
	if err != nil {
		return nil, fmt.Errorf("building stage graph: %w", err)
	}

	order := g.TopologicalOrder()
	final := order[len(order)-1]

	slog.Info("starting build",
		"build", id,
		"stages", g.Len(),
		"workers", opts.Workers,
	)

	executor := NewExecutor(fingerprint.New(c.resolver), c.store, c.runner, opts.Workers)

	results, err := executor.Execute(ctx, g, c.reporter.Report)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", id, err)
	}

	summary := &Summary{
		ID:       id,
		Results:  results,
		Duration: time.Since(start),
	}

	if len(results) < g.Len() {
		// Skipped descendants of a failed stage produce no results.
		slog.Warn("build incomplete",
			"build", id,
			"attempted", len(results),
			"stages", g.Len(),
		)
	}

	if failure := summary.FirstFailure(); failure != nil {
		slog.Error("build failed",
			"build", id,
			"stage", failure.Stage,
			"duration", summary.Duration,
		)
		return summary, fmt.Errorf("%w: stage %q: %w", ErrBuild, failure.Stage, failure.Err)
	}

	output, err := c.store.Get(ctx, finalFingerprint(results, final.Name))
	if err != nil {
		return nil, fmt.Errorf("build %s: fetching output artifact: %w", id, err)
	}
	summary.Output = output

	slog.Info("build succeeded",
		"build", id,
		"stages", len(results),
		"duration", summary.Duration,
	)
	return summary, nil
}

// Returns the fingerprint the named stage resolved to.
func finalFingerprint(results []Result, name string) (fp digest.Digest) {
	for _, r := range results {
		if r.Stage == name {
			return r.Fingerprint
		}
	}
	return ""
}
