package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/fingerprint"
	"github.com/cruciblehq/kiln/internal/graph"
)

// Produces a stage's artifact when it cannot be served from cache.
//
// Implemented by the external stage-runner collaborator; the executor never
// runs commands itself. The parent artifact is nil for root stages. A
// returned error marks the stage failed without aborting independent
// branches of the build.
type Runner interface {
	Run(ctx context.Context, stage *graph.Stage, parent *cache.Artifact) (*cache.Artifact, error)
}

// Walks a stage graph, serving stages from the cache store where possible
// and delegating the rest to the runner.
//
// With one worker, stages execute strictly in topological order. With more
// workers, independent branches run concurrently; the only cross-stage
// synchronization is that a stage never starts before its parent's
// artifact is committed.
type Executor struct {
	fingerprinter *fingerprint.Fingerprinter
	store         cache.Store
	runner        Runner
	workers       int
}

// Creates an executor. A workers value below one means sequential
// execution.
func NewExecutor(fp *fingerprint.Fingerprinter, store cache.Store, runner Runner, workers int) *Executor {
	if workers < 1 {
		workers = 1
	}
	return &Executor{
		fingerprinter: fp,
		store:         store,
		runner:        runner,
		workers:       workers,
	}
}

// Tracks one stage through a build invocation.
type stageRun struct {
	stage    *graph.Stage
	state    stageState
	done     chan struct{}   // Closed once the stage reaches a terminal state (parallel mode).
	fp       digest.Digest   // Resolved fingerprint.
	artifact *cache.Artifact // Artifact for descendants to consume.
	ok       bool            // Whether the artifact is committed and usable.
}

// Executes every stage of the graph, streaming a result per attempted
// stage to report.
//
// Stage failures are recorded as failed results and skip the failed
// stage's descendants; they do not abort the invocation. A returned error
// means the invocation itself aborted: the context was cancelled, the
// cache store failed, or a determinism violation was detected. Cache
// entries committed before an abort are retained.
func (e *Executor) Execute(ctx context.Context, g *graph.Graph, report func(Result)) ([]Result, error) {
	if e.workers > 1 {
		return e.runParallel(ctx, g, report)
	}
	return e.runSequential(ctx, g, report)
}

// Executes stages one at a time in topological order.
func (e *Executor) runSequential(ctx context.Context, g *graph.Graph, report func(Result)) ([]Result, error) {
	runs := make(map[string]*stageRun, g.Len())
	var results []Result

	for _, stage := range g.TopologicalOrder() {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		run := &stageRun{stage: stage}
		runs[stage.Name] = run

		var parent *stageRun
		if stage.HasParent() {
			parent = runs[stage.Parent]
		}

		if parent != nil && !parent.ok {
			if err := run.state.to(statusSkipped); err != nil {
				return results, err
			}
			slog.Debug("stage skipped", "stage", stage.Name, "parent", stage.Parent)
			continue
		}

		result, err := e.processStage(ctx, run, parent)
		if err != nil {
			return results, err
		}

		results = append(results, result)
		report(result)
	}

	return results, nil
}

// Executes independent branches on parallel workers.
//
// Every stage gets a goroutine that first waits for its parent to reach a
// terminal state, then takes a worker slot. Taking the slot after the
// parent wait keeps waiting stages from starving runnable ones.
func (e *Executor) runParallel(ctx context.Context, g *graph.Graph, report func(Result)) ([]Result, error) {
	order := g.TopologicalOrder()

	runs := make(map[string]*stageRun, len(order))
	for _, stage := range order {
		runs[stage.Name] = &stageRun{stage: stage, done: make(chan struct{})}
	}

	var mu sync.Mutex
	var results []Result
	slots := make(chan struct{}, e.workers)

	eg, ctx := errgroup.WithContext(ctx)

	for _, stage := range order {
		run := runs[stage.Name]

		var parent *stageRun
		if stage.HasParent() {
			parent = runs[stage.Parent]
		}

		eg.Go(func() error {
			defer close(run.done)

			if parent != nil {
				select {
				case <-parent.done:
				case <-ctx.Done():
					return ctx.Err()
				}
				if !parent.ok {
					if err := run.state.to(statusSkipped); err != nil {
						return err
					}
					slog.Debug("stage skipped", "stage", run.stage.Name, "parent", run.stage.Parent)
					return nil
				}
			}

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			defer func() { <-slots }()

			result, err := e.processStage(ctx, run, parent)
			if err != nil {
				return err
			}

			mu.Lock()
			results = append(results, result)
			mu.Unlock()

			report(result)
			return nil
		})
	}

	err := eg.Wait()
	return results, err
}

// Drives a single stage through the state machine.
//
// Returns the stage's result, or an error when the invocation itself must
// abort. A runner failure is a result with [OutcomeFailed], not an error.
func (e *Executor) processStage(ctx context.Context, run *stageRun, parent *stageRun) (Result, error) {
	start := time.Now()
	name := run.stage.Name

	if err := run.state.to(statusFingerprinting); err != nil {
		return Result{}, err
	}

	var parentFP digest.Digest
	var parentArtifact *cache.Artifact
	if parent != nil {
		parentFP = parent.fp
		parentArtifact = parent.artifact
	}

	fp, err := e.fingerprinter.Stage(run.stage, parentFP)
	if err != nil {
		if terr := run.state.to(statusFailed); terr != nil {
			return Result{}, terr
		}
		return Result{
			Stage:    name,
			Outcome:  OutcomeFailed,
			Duration: time.Since(start),
			Err:      err,
		}, nil
	}
	run.fp = fp

	if err := run.state.to(statusCacheCheck); err != nil {
		return Result{}, err
	}

	hit, err := e.store.Has(ctx, fp)
	if err != nil {
		return Result{}, fmt.Errorf("stage %q: cache check: %w", name, err)
	}

	if hit {
		artifact, err := e.store.Get(ctx, fp)
		switch {
		case err == nil:
			if terr := run.state.to(statusDone); terr != nil {
				return Result{}, terr
			}
			run.artifact = artifact
			run.ok = true
			return Result{
				Stage:       name,
				Fingerprint: fp,
				Outcome:     OutcomeCacheHit,
				Duration:    time.Since(start),
			}, nil

		case errors.Is(err, cache.ErrMiss):
			// Evicted between the check and the read; rebuild.

		default:
			return Result{}, fmt.Errorf("stage %q: cache read: %w", name, err)
		}
	}

	if err := run.state.to(statusRunning); err != nil {
		return Result{}, err
	}
	slog.Debug("running stage", "stage", name, "fingerprint", fp)

	artifact, err := e.runner.Run(ctx, run.stage, parentArtifact)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if terr := run.state.to(statusFailed); terr != nil {
			return Result{}, terr
		}
		return Result{
			Stage:       name,
			Fingerprint: fp,
			Outcome:     OutcomeFailed,
			Duration:    time.Since(start),
			Err:         fmt.Errorf("%w: %w", ErrRunner, err),
		}, nil
	}

	artifact.Stage = name
	if artifact.Created.IsZero() {
		artifact.Created = time.Now()
	}

	if err := run.state.to(statusCommitting); err != nil {
		return Result{}, err
	}

	if err := e.store.Put(ctx, fp, artifact); err != nil {
		return Result{}, fmt.Errorf("stage %q: cache commit: %w", name, err)
	}

	if err := run.state.to(statusDone); err != nil {
		return Result{}, err
	}
	run.artifact = artifact
	run.ok = true

	return Result{
		Stage:       name,
		Fingerprint: fp,
		Outcome:     OutcomeBuilt,
		Duration:    time.Since(start),
	}, nil
}
