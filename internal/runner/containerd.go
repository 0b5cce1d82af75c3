package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync/atomic"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/fingerprint"
	"github.com/cruciblehq/kiln/internal/graph"
)

const (

	// Snapshotter used for stage container filesystems. fuse-overlayfs
	// provides overlay semantics without requiring root privileges (no
	// mount(2)), allowing kiln to run as a regular user.
	snapshotter = "fuse-overlayfs"

	// OCI runtime shim for running stage containers.
	ociRuntime = "io.containerd.runc.v2"

	// Workspace layout inside a stage container.
	containerWorkdir = "/kiln"
	containerParent  = "/kiln/parent"
	containerOutput  = "/kiln/out"
)

// Sequence counter for unique container and exec identifiers.
var containerSeq uint64

// Stage runner that executes commands inside containers backed by
// containerd.
//
// Each cache-miss stage gets a fresh container created from a configured
// base image. The parent artifact and file inputs are streamed in as tar
// archives, the stage command runs through a shell, and the contents of
// the output directory are streamed back out as the artifact payload. The
// container is destroyed when the stage finishes, whatever the outcome.
type Containerd struct {
	client   *containerd.Client
	image    string               // Base image tag for stage containers.
	platform string               // OCI platform (e.g., "linux/amd64").
	resolver fingerprint.Resolver // Resolves file-reference inputs.
	prefix   string               // Container ID prefix, scoping IDs to this runner.
}

// Configures a containerd-backed stage runner.
type ContainerdConfig struct {
	Address   string               // Containerd socket address.
	Namespace string               // Containerd namespace for containers and images.
	Image     string               // Base image tag, already imported and unpacked.
	Platform  string               // Target platform. Empty means the host platform.
	Resolver  fingerprint.Resolver // Resolves file-reference inputs.
	Prefix    string               // Container ID prefix. Defaults to "kiln".
}

// Connects to containerd and creates a stage runner.
//
// The runner must be closed when no longer needed.
func NewContainerd(cfg ContainerdConfig) (*Containerd, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("base image tag is required")
	}

	platform := cfg.Platform
	if platform == "" {
		platform = platforms.DefaultString()
	}
	if _, err := platforms.Parse(platform); err != nil {
		return nil, fmt.Errorf("parsing platform %q: %w", platform, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "kiln"
	}

	client, err := containerd.New(cfg.Address, containerd.WithDefaultNamespace(cfg.Namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to containerd: %w", ErrRuntime, err)
	}

	return &Containerd{
		client:   client,
		image:    cfg.Image,
		platform: platform,
		resolver: cfg.Resolver,
		prefix:   prefix,
	}, nil
}

// Closes the containerd client connection.
func (r *Containerd) Close() error {
	return r.client.Close()
}

// Runs the stage command in a fresh container.
//
// The command sees the parent artifact's contents under /kiln/parent, its
// file inputs under /kiln at their base names, and must write its output
// under /kiln/out. A non-zero exit reports an error carrying the captured
// stderr.
func (r *Containerd) Run(ctx context.Context, stage *graph.Stage, parent *cache.Artifact) (*cache.Artifact, error) {
	id := fmt.Sprintf("%s-stage-%s-%d", r.prefix, stage.Name, atomic.AddUint64(&containerSeq, 1))

	ctr, err := r.startContainer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: starting container for stage %q: %w", ErrRuntime, stage.Name, err)
	}
	defer r.destroyContainer(ctx, id)

	slog.Debug("stage container started", "stage", stage.Name, "id", id, "image", r.image)

	if err := r.populate(ctx, ctr, stage, parent); err != nil {
		return nil, err
	}

	var stderr bytes.Buffer
	exitCode, err := r.exec(ctx, ctr, nil, nil, &stderr,
		[]string{"KILN_OUTPUT=" + containerOutput}, containerWorkdir,
		defaultShell, "-c", stage.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: executing stage %q: %w", ErrRuntime, stage.Name, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("%w: exit code %d: %s",
			ErrCommandFailed, exitCode, bytes.TrimSpace(stderr.Bytes()))
	}

	payload, err := r.copyFrom(ctx, ctr, containerOutput)
	if err != nil {
		return nil, fmt.Errorf("%w: collecting output of stage %q: %w", ErrRuntime, stage.Name, err)
	}

	return &cache.Artifact{Payload: payload}, nil
}

// Prepares the container workspace: output and parent directories, the
// parent artifact, and file inputs.
func (r *Containerd) populate(ctx context.Context, ctr containerd.Container, stage *graph.Stage, parent *cache.Artifact) error {
	if err := r.mkdirAll(ctx, ctr, containerOutput); err != nil {
		return fmt.Errorf("%w: preparing workspace: %w", ErrRuntime, err)
	}

	if parent != nil {
		if err := r.mkdirAll(ctx, ctr, containerParent); err != nil {
			return fmt.Errorf("%w: preparing workspace: %w", ErrRuntime, err)
		}
		if err := r.copyTo(ctx, ctr, parent.Payload, containerParent); err != nil {
			return fmt.Errorf("%w: staging parent artifact: %w", ErrRuntime, err)
		}
	}

	for _, input := range stage.Inputs {
		if input.Kind != graph.InputFile {
			continue
		}

		content, err := r.resolver.ReadInput(input.Value)
		if err != nil {
			return fmt.Errorf("reading input %q: %w", input.Value, err)
		}

		archive, err := tarBytes(content, path.Base(input.Value))
		if err != nil {
			return fmt.Errorf("archiving input %q: %w", input.Value, err)
		}
		if err := r.copyTo(ctx, ctr, archive, containerWorkdir); err != nil {
			return fmt.Errorf("%w: staging input %q: %w", ErrRuntime, input.Value, err)
		}
	}

	return nil
}

// Creates a container from the base image and starts its long-running
// task, so subsequent execs have a running process to attach to.
func (r *Containerd) startContainer(ctx context.Context, id string) (containerd.Container, error) {
	img, err := r.client.ImageService().Get(ctx, r.image)
	if err != nil {
		return nil, fmt.Errorf("resolving image %q: %w", r.image, err)
	}

	p, err := platforms.Parse(r.platform)
	if err != nil {
		return nil, err
	}
	image := containerd.NewImageWithPlatform(r.client, img, platforms.Only(p))

	ctr, err := r.client.NewContainer(ctx, id,
		containerd.WithImage(image),
		containerd.WithSnapshotter(snapshotter),
		containerd.WithNewSnapshot(id, image),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(
			oci.WithDefaultSpecForPlatform(r.platform),
			oci.WithImageConfig(image),
			// Stage commands routinely fetch dependencies; share the
			// host network rather than configuring CNI.
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostResolvconf,
			oci.WithProcessArgs("sleep", "infinity"),
		),
	)
	if err != nil {
		return nil, err
	}

	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, err
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, err
	}

	return ctr, nil
}

// Kills the container's task and removes the container with its snapshot.
func (r *Containerd) destroyContainer(ctx context.Context, id string) {
	ctr, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			slog.Warn("failed to load stage container for destruction", "id", id, "error", err)
		}
		return
	}

	if task, err := ctr.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL)
		task.Delete(ctx, containerd.WithProcessKill)
	}

	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("failed to delete stage container", "id", id, "error", err)
	}
}

// Creates a directory inside the container, including parents.
func (r *Containerd) mkdirAll(ctx context.Context, ctr containerd.Container, dir string) error {
	return r.mustExec(ctx, ctr, "mkdir", nil, nil, "mkdir", "-p", dir)
}

// Extracts a tar stream into a directory inside the container.
func (r *Containerd) copyTo(ctx context.Context, ctr containerd.Container, archive []byte, dir string) error {
	return r.mustExec(ctx, ctr, "tar extract", bytes.NewReader(archive), nil, "tar", "xf", "-", "-C", dir)
}

// Archives a directory's contents inside the container as a tar stream.
func (r *Containerd) copyFrom(ctx context.Context, ctr containerd.Container, dir string) ([]byte, error) {
	var out bytes.Buffer
	if err := r.mustExec(ctx, ctr, "tar archive", nil, &out, "tar", "cf", "-", "-C", dir, "."); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
