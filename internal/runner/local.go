package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/graph"
	"github.com/cruciblehq/kiln/internal/paths"
)

// Shell used when none is configured.
const defaultShell = "/bin/sh"

// Directory name inside a stage workspace that the command writes its
// output to. Archived as the stage artifact.
const outputDirname = "out"

// Stage runner that executes commands as local processes.
//
// Each stage gets a throwaway workspace: the parent artifact is extracted
// into it, file inputs are copied alongside, and the command runs with the
// workspace as its working directory. Whatever the command leaves in the
// "out" subdirectory becomes the stage artifact, archived as a tar stream.
type Local struct {
	Shell string // Shell for running commands. Defaults to /bin/sh.
	Root  string // Directory file-reference inputs are resolved against.
	Work  string // Parent directory for stage workspaces. Defaults to the system temp dir.
}

// Runs the stage command in a throwaway workspace.
//
// The command sees the parent artifact's contents under "parent/", its
// file inputs at their base names, and must write its output under "out/".
// A non-zero exit reports an error carrying the captured stderr.
func (r *Local) Run(ctx context.Context, stage *graph.Stage, parent *cache.Artifact) (*cache.Artifact, error) {
	work := r.Work
	if work == "" {
		work = os.TempDir()
	}
	if err := os.MkdirAll(work, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("creating work root: %w", err)
	}

	workspace, err := os.MkdirTemp(work, "stage-"+stage.Name+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating stage workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	if err := r.populate(workspace, stage, parent); err != nil {
		return nil, err
	}

	outDir := filepath.Join(workspace, outputDirname)
	if err := os.MkdirAll(outDir, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	shell := r.Shell
	if shell == "" {
		shell = defaultShell
	}

	slog.Debug("running stage command", "stage", stage.Name, "shell", shell)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, shell, "-c", stage.Command)
	cmd.Dir = workspace
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "KILN_OUTPUT="+outputDirname)

	if err := cmd.Run(); err != nil {
		if exit, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%w: exit code %d: %s",
				ErrCommandFailed, exit.ExitCode(), bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("starting stage command: %w", err)
	}

	payload, err := tarDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("archiving stage output: %w", err)
	}

	return &cache.Artifact{Payload: payload}, nil
}

// Lays out the parent artifact and file inputs in the workspace.
func (r *Local) populate(workspace string, stage *graph.Stage, parent *cache.Artifact) error {
	if parent != nil {
		parentDir := filepath.Join(workspace, "parent")
		if err := os.MkdirAll(parentDir, paths.DefaultDirMode); err != nil {
			return fmt.Errorf("creating parent directory: %w", err)
		}
		if err := untar(parent.Payload, parentDir); err != nil {
			return fmt.Errorf("extracting parent artifact: %w", err)
		}
	}

	for _, input := range stage.Inputs {
		if input.Kind != graph.InputFile {
			continue
		}

		src := input.Value
		if !filepath.IsAbs(src) {
			src = filepath.Join(r.Root, src)
		}

		content, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("reading input %q: %w", input.Value, err)
		}

		dest := filepath.Join(workspace, filepath.Base(input.Value))
		if err := os.WriteFile(dest, content, paths.DefaultFileMode); err != nil {
			return fmt.Errorf("staging input %q: %w", input.Value, err)
		}
	}

	return nil
}
