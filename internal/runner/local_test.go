package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/graph"
)

func extract(t *testing.T, artifact *cache.Artifact) string {
	t.Helper()
	dir := t.TempDir()
	if err := untar(artifact.Payload, dir); err != nil {
		t.Fatalf("extracting artifact: %v", err)
	}
	return dir
}

func TestLocalRunCapturesOutput(t *testing.T) {
	r := &Local{Work: t.TempDir()}
	stage := &graph.Stage{
		Name:    "emit",
		Command: "echo hello > out/result.txt",
	}

	artifact, err := r.Run(context.Background(), stage, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	dir := extract(t, artifact)
	got, err := os.ReadFile(filepath.Join(dir, "result.txt"))
	if err != nil {
		t.Fatalf("reading result: %v", err)
	}
	if strings.TrimSpace(string(got)) != "hello" {
		t.Fatalf("result = %q, want hello", got)
	}
}

func TestLocalRunSeesParentArtifact(t *testing.T) {
	parentPayload, err := tarBytes([]byte("from-parent"), "inherited.txt")
	if err != nil {
		t.Fatalf("tarBytes: %v", err)
	}
	parent := &cache.Artifact{Payload: parentPayload, Stage: "deps"}

	r := &Local{Work: t.TempDir()}
	stage := &graph.Stage{
		Name:    "consume",
		Parent:  "deps",
		Command: "cp parent/inherited.txt out/",
	}

	artifact, err := r.Run(context.Background(), stage, parent)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	dir := extract(t, artifact)
	got, err := os.ReadFile(filepath.Join(dir, "inherited.txt"))
	if err != nil {
		t.Fatalf("reading inherited file: %v", err)
	}
	if string(got) != "from-parent" {
		t.Fatalf("inherited = %q, want from-parent", got)
	}
}

func TestLocalRunStagesFileInputs(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "main.c"), []byte("int main(){}"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := &Local{Root: root, Work: t.TempDir()}
	stage := &graph.Stage{
		Name:    "compile",
		Command: "cp main.c out/",
		Inputs: []graph.Input{
			{Kind: graph.InputFile, Value: "src/main.c"},
		},
	}

	artifact, err := r.Run(context.Background(), stage, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	dir := extract(t, artifact)
	got, err := os.ReadFile(filepath.Join(dir, "main.c"))
	if err != nil {
		t.Fatalf("reading staged input: %v", err)
	}
	if string(got) != "int main(){}" {
		t.Fatalf("staged input = %q", got)
	}
}

func TestLocalRunExportsOutputEnv(t *testing.T) {
	r := &Local{Work: t.TempDir()}
	stage := &graph.Stage{
		Name:    "env",
		Command: `echo "$KILN_OUTPUT" > out/env.txt`,
	}

	artifact, err := r.Run(context.Background(), stage, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	dir := extract(t, artifact)
	got, err := os.ReadFile(filepath.Join(dir, "env.txt"))
	if err != nil {
		t.Fatalf("reading env file: %v", err)
	}
	if strings.TrimSpace(string(got)) != "out" {
		t.Fatalf("KILN_OUTPUT = %q, want out", strings.TrimSpace(string(got)))
	}
}

func TestLocalRunCommandFailure(t *testing.T) {
	r := &Local{Work: t.TempDir()}
	stage := &graph.Stage{
		Name:    "boom",
		Command: "echo oops >&2; exit 3",
	}

	_, err := r.Run(context.Background(), stage, nil)
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("err = %v, want ErrCommandFailed", err)
	}
	if !strings.Contains(err.Error(), "exit code 3") {
		t.Fatalf("err = %v, want the exit code", err)
	}
	if !strings.Contains(err.Error(), "oops") {
		t.Fatalf("err = %v, want captured stderr", err)
	}
}

func TestLocalRunMissingInput(t *testing.T) {
	r := &Local{Root: t.TempDir(), Work: t.TempDir()}
	stage := &graph.Stage{
		Name:    "compile",
		Command: "true",
		Inputs: []graph.Input{
			{Kind: graph.InputFile, Value: "missing.c"},
		},
	}

	if _, err := r.Run(context.Background(), stage, nil); err == nil {
		t.Fatal("Run succeeded with a missing file input")
	}
}

func TestLocalRunEmptyOutput(t *testing.T) {
	r := &Local{Work: t.TempDir()}
	stage := &graph.Stage{
		Name:    "quiet",
		Command: "true",
	}

	artifact, err := r.Run(context.Background(), stage, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if artifact.Size() == 0 {
		// An empty out directory still archives to a valid, empty tar.
		t.Log("empty artifact payload")
	}
	if err := untar(artifact.Payload, t.TempDir()); err != nil {
		t.Fatalf("artifact is not a valid tar stream: %v", err)
	}
}

func TestLocalRunCleansWorkspace(t *testing.T) {
	work := t.TempDir()
	r := &Local{Work: work}
	stage := &graph.Stage{Name: "tidy", Command: "true"}

	if _, err := r.Run(context.Background(), stage, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := os.ReadDir(work)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace left behind: %v", entries)
	}
}
