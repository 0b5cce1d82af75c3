package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/graph"
)

func buildSpec() graph.Spec {
	return graph.Spec{Stages: []graph.Stage{
		{
			Name:    "deps",
			Command: "fetch deps",
			Inputs: []graph.Input{
				{Kind: graph.InputFile, Value: "go.mod"},
			},
		},
		{
			Name:    "compile",
			Parent:  "deps",
			Command: "compile",
			Inputs: []graph.Input{
				{Kind: graph.InputArtifact},
				{Kind: graph.InputFile, Value: "main.go"},
			},
		},
		{
			Name:    "package",
			Parent:  "compile",
			Command: "package",
			Inputs: []graph.Input{
				{Kind: graph.InputArtifact},
			},
		},
	}}
}

func newTestController(t *testing.T, runner Runner, resolver fakeResolver, reporter Reporter) (*Controller, cache.Store) {
	t.Helper()
	store, err := cache.NewMemStore(0)
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	return NewController(store, runner, resolver, reporter), store
}

func sources() fakeResolver {
	return fakeResolver{
		"go.mod":  []byte("module example.com/app"),
		"main.go": []byte("package main"),
	}
}

func TestBuildEndToEnd(t *testing.T) {
	runner := &fakeRunner{}
	controller, _ := newTestController(t, runner, sources(), nil)

	summary, err := controller.Build(context.Background(), Options{Spec: buildSpec()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if summary.ID == "" {
		t.Fatal("summary has no build ID")
	}
	if !summary.Success() {
		t.Fatal("summary reports failure for a clean build")
	}
	if len(summary.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(summary.Results))
	}
	if summary.Output == nil {
		t.Fatal("summary has no output artifact")
	}
	if summary.Output.Stage != "package" {
		t.Fatalf("output from stage %q, want package", summary.Output.Stage)
	}
}

func TestBuildSecondInvocationAllCached(t *testing.T) {
	runner := &fakeRunner{}
	controller, _ := newTestController(t, runner, sources(), nil)
	ctx := context.Background()

	if _, err := controller.Build(ctx, Options{Spec: buildSpec()}); err != nil {
		t.Fatalf("first Build: %v", err)
	}

	summary, err := controller.Build(ctx, Options{Spec: buildSpec()})
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}

	for _, r := range summary.Results {
		if r.Outcome != OutcomeCacheHit {
			t.Fatalf("stage %s outcome = %s, want cache-hit", r.Stage, r.Outcome)
		}
	}
	if runner.count() != 3 {
		t.Fatalf("runner invoked %d times total, want 3", runner.count())
	}
	if summary.Output == nil {
		t.Fatal("fully cached build has no output artifact")
	}
}

func TestBuildSourceChangeRebuildsSuffix(t *testing.T) {
	runner := &fakeRunner{}
	store, err := cache.NewMemStore(0)
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	ctx := context.Background()

	controller := NewController(store, runner, sources(), nil)
	if _, err := controller.Build(ctx, Options{Spec: buildSpec()}); err != nil {
		t.Fatalf("first Build: %v", err)
	}

	// Edit main.go; go.mod is untouched, so deps stays cached.
	edited := sources()
	edited["main.go"] = []byte("package main // edited")
	controller = NewController(store, runner, edited, nil)

	summary, err := controller.Build(ctx, Options{Spec: buildSpec()})
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}

	got := outcomes(summary.Results)
	if got["deps"] != OutcomeCacheHit {
		t.Fatalf("deps outcome = %s, want cache-hit", got["deps"])
	}
	if got["compile"] != OutcomeBuilt {
		t.Fatalf("compile outcome = %s, want built", got["compile"])
	}
	if got["package"] != OutcomeBuilt {
		t.Fatalf("package outcome = %s, want built", got["package"])
	}
}

func TestBuildInvalidSpecAbortsBeforeStages(t *testing.T) {
	runner := &fakeRunner{}
	controller, _ := newTestController(t, runner, sources(), nil)

	spec := graph.Spec{Stages: []graph.Stage{
		{Name: "compile", Parent: "missing"},
	}}

	_, err := controller.Build(context.Background(), Options{Spec: spec})
	if !errors.Is(err, graph.ErrUnknownParent) {
		t.Fatalf("Build err = %v, want ErrUnknownParent", err)
	}
	if runner.count() != 0 {
		t.Fatal("runner invoked despite an invalid spec")
	}
}

func TestBuildFailureReturnsSummaryAndError(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{"compile": errors.New("exit 2")}}
	controller, _ := newTestController(t, runner, sources(), nil)

	summary, err := controller.Build(context.Background(), Options{Spec: buildSpec()})
	if !errors.Is(err, ErrBuild) {
		t.Fatalf("Build err = %v, want ErrBuild", err)
	}
	if summary == nil {
		t.Fatal("failed build returned no summary")
	}
	if summary.Success() {
		t.Fatal("summary reports success for a failed build")
	}

	failure := summary.FirstFailure()
	if failure == nil || failure.Stage != "compile" {
		t.Fatalf("FirstFailure = %+v, want the compile stage", failure)
	}
	if summary.Output != nil {
		t.Fatal("failed build carries an output artifact")
	}
}

func TestBuildRecoversAfterFailure(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{"compile": errors.New("exit 2")}}
	store, err := cache.NewMemStore(0)
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	ctx := context.Background()

	controller := NewController(store, runner, sources(), nil)
	if _, err := controller.Build(ctx, Options{Spec: buildSpec()}); err == nil {
		t.Fatal("first Build succeeded despite a failing stage")
	}

	// The flake clears; deps is already committed and is not re-run.
	runner.fail = nil
	summary, err := controller.Build(ctx, Options{Spec: buildSpec()})
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}

	got := outcomes(summary.Results)
	if got["deps"] != OutcomeCacheHit {
		t.Fatalf("deps outcome = %s, want cache-hit", got["deps"])
	}
	if got["compile"] != OutcomeBuilt {
		t.Fatalf("compile outcome = %s, want built", got["compile"])
	}
}

func TestBuildStreamsResultsToReporter(t *testing.T) {
	runner := &fakeRunner{}

	var streamed []string
	reporter := ReporterFunc(func(r Result) { streamed = append(streamed, r.Stage) })

	controller, _ := newTestController(t, runner, sources(), reporter)
	if _, err := controller.Build(context.Background(), Options{Spec: buildSpec()}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := []string{"deps", "compile", "package"}
	if len(streamed) != len(want) {
		t.Fatalf("streamed %v, want %v", streamed, want)
	}
	for i := range want {
		if streamed[i] != want[i] {
			t.Fatalf("streamed %v, want %v", streamed, want)
		}
	}
}

func TestBuildParallelWorkers(t *testing.T) {
	runner := &fakeRunner{}
	controller, _ := newTestController(t, runner, sources(), nil)

	summary, err := controller.Build(context.Background(), Options{
		Spec:    buildSpec(),
		Workers: 4,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !summary.Success() {
		t.Fatal("parallel build failed")
	}
	if summary.Output == nil {
		t.Fatal("parallel build has no output artifact")
	}
}
