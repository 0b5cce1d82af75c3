package fingerprint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/kiln/internal/graph"
)

// Resolves references from an in-memory map.
type mapResolver map[string][]byte

func (r mapResolver) ReadInput(ref string) ([]byte, error) {
	content, ok := r[ref]
	if !ok {
		return nil, fmt.Errorf("no such input: %s", ref)
	}
	return content, nil
}

func TestStageDeterministic(t *testing.T) {
	f := New(mapResolver{"main.c": []byte("int main() {}")})
	stage := &graph.Stage{
		Name:    "compile",
		Command: "cc main.c",
		Inputs: []graph.Input{
			{Kind: graph.InputCommand, Value: "cc main.c"},
			{Kind: graph.InputFile, Value: "main.c"},
		},
	}

	first, err := f.Stage(stage, "")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	for i := 0; i < 5; i++ {
		fp, err := f.Stage(stage, "")
		if err != nil {
			t.Fatalf("Stage: %v", err)
		}
		if fp != first {
			t.Fatalf("fingerprint changed between calls: %s vs %s", fp, first)
		}
	}

	if err := first.Validate(); err != nil {
		t.Fatalf("fingerprint %q not a valid digest: %v", first, err)
	}
}

func TestStageContentSensitive(t *testing.T) {
	stage := &graph.Stage{
		Name:    "compile",
		Command: "cc main.c",
		Inputs:  []graph.Input{{Kind: graph.InputFile, Value: "main.c"}},
	}

	before, err := New(mapResolver{"main.c": []byte("int main() {}")}).Stage(stage, "")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	after, err := New(mapResolver{"main.c": []byte("int main() { return 1; }")}).Stage(stage, "")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if before == after {
		t.Fatal("changing input content did not change the fingerprint")
	}
}

func TestStageCommandSensitive(t *testing.T) {
	f := New(mapResolver{})

	a, err := f.Stage(&graph.Stage{Name: "deps", Command: "make deps"}, "")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	b, err := f.Stage(&graph.Stage{Name: "deps", Command: "make all"}, "")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if a == b {
		t.Fatal("changing the command did not change the fingerprint")
	}
}

func TestStageInputOrderSensitive(t *testing.T) {
	f := New(mapResolver{})

	forward := &graph.Stage{Name: "s", Inputs: []graph.Input{
		{Kind: graph.InputCommand, Value: "a"},
		{Kind: graph.InputCommand, Value: "b"},
	}}
	reversed := &graph.Stage{Name: "s", Inputs: []graph.Input{
		{Kind: graph.InputCommand, Value: "b"},
		{Kind: graph.InputCommand, Value: "a"},
	}}

	a, err := f.Stage(forward, "")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	b, err := f.Stage(reversed, "")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if a == b {
		t.Fatal("reordering inputs did not change the fingerprint")
	}
}

func TestStageFieldBoundaries(t *testing.T) {
	f := New(mapResolver{})

	// Shifting a byte across the name/command boundary must not collide.
	a, err := f.Stage(&graph.Stage{Name: "ab", Command: "c"}, "")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	b, err := f.Stage(&graph.Stage{Name: "a", Command: "bc"}, "")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if a == b {
		t.Fatal("adjacent fields collided")
	}
}

func TestStageParentChaining(t *testing.T) {
	f := New(mapResolver{})
	stage := &graph.Stage{Name: "compile", Command: "make"}

	root, err := f.Stage(stage, "")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	parentA := digest.FromString("parent-a")
	parentB := digest.FromString("parent-b")

	withA, err := f.Stage(stage, parentA)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	withB, err := f.Stage(stage, parentB)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if withA == withB {
		t.Fatal("different parent fingerprints produced the same stage fingerprint")
	}
	if root == withA || root == withB {
		t.Fatal("root fingerprint collided with a chained fingerprint")
	}
}

func TestStageUnreadableInput(t *testing.T) {
	f := New(mapResolver{})
	stage := &graph.Stage{
		Name:   "compile",
		Inputs: []graph.Input{{Kind: graph.InputFile, Value: "gone.c"}},
	}

	_, err := f.Stage(stage, "")
	if !errors.Is(err, ErrUnreadableInput) {
		t.Fatalf("err = %v, want ErrUnreadableInput", err)
	}
}

func TestDirResolver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := DirResolver{Root: dir}

	got, err := r.ReadInput("input.txt")
	if err != nil {
		t.Fatalf("ReadInput(relative): %v", err)
	}
	if string(got) != "content" {
		t.Fatalf("content = %q, want content", got)
	}

	got, err = r.ReadInput(path)
	if err != nil {
		t.Fatalf("ReadInput(absolute): %v", err)
	}
	if string(got) != "content" {
		t.Fatalf("content = %q, want content", got)
	}

	if _, err := r.ReadInput("missing.txt"); err == nil {
		t.Fatal("ReadInput(missing) succeeded")
	}
}
