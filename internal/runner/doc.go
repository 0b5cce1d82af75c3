// Package runner provides stage-runner implementations for the pipeline
// executor.
//
// A runner receives a stage, its resolved parent artifact, and produces
// the stage's output artifact. Two implementations are provided:
//
// [Local] runs stage commands as host processes in throwaway workspace
// directories. It needs nothing beyond a shell and is the default for
// development and tests.
//
// [Containerd] runs each stage in a fresh container created from a base
// image. The parent artifact and file inputs are streamed into the
// container as tar archives, the command executes through a shell, and
// the output directory is streamed back out as the artifact payload.
// Building requires a containerd daemon with the fuse-overlayfs
// snapshotter.
//
// Both runners use the same artifact convention: the payload is a tar
// archive of whatever the stage command left in its output directory.
//
// Example usage:
//
//	r, err := runner.NewContainerd(runner.ContainerdConfig{
//	    Address:   "/run/containerd/containerd.sock",
//	    Namespace: "kiln",
//	    Image:     "docker.io/library/alpine:latest",
//	    Resolver:  fingerprint.DirResolver{Root: "."},
//	})
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
package runner
