package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/fingerprint"
	"github.com/cruciblehq/kiln/internal/metrics"
	"github.com/cruciblehq/kiln/internal/paths"
	"github.com/cruciblehq/kiln/internal/pipeline"
	"github.com/cruciblehq/kiln/internal/runner"
	"github.com/cruciblehq/kiln/internal/specfile"
)

// Represents the 'kiln build' command.
type BuildCmd struct {
	Spec    string `arg:"" help:"Path to the stage spec file." type:"existingfile"`
	Root    string `help:"Build context for resolving file inputs." default:"." type:"existingdir"`
	Output  string `short:"o" help:"Write the final stage artifact to this path." placeholder:"PATH"`
	Workers int    `short:"j" help:"Number of parallel stage workers." default:"1"`

	CacheDir string `help:"Local cache directory. Defaults to the user cache home." placeholder:"DIR"`

	Runner              string `help:"Stage runner to use." enum:"local,containerd" default:"local"`
	Image               string `help:"Base image tag for containerd stage containers." placeholder:"TAG"`
	ContainerdAddress   string `help:"Containerd socket address." default:"/run/containerd/containerd.sock"`
	ContainerdNamespace string `help:"Containerd namespace." default:"kiln"`

	RemoteEndpoint  string `help:"S3-compatible endpoint for a shared remote cache." placeholder:"HOST:PORT"`
	RemoteBucket    string `help:"Bucket for the remote cache." placeholder:"NAME"`
	RemoteAccessKey string `help:"Access key for the remote cache." env:"KILN_REMOTE_ACCESS_KEY"`
	RemoteSecretKey string `help:"Secret key for the remote cache." env:"KILN_REMOTE_SECRET_KEY"`
	RemoteSSL       bool   `help:"Connect to the remote cache over TLS."`

	MetricsAddr string `help:"Expose Prometheus metrics on this address for the duration of the build." placeholder:"ADDR"`
}

// Executes the build command.
//
// Loads the spec, assembles the cache store and stage runner from flags,
// and drives one pipeline invocation. The process exit code reflects the
// build outcome.
func (c *BuildCmd) Run(ctx context.Context) error {
	spec, err := specfile.Load(c.Spec)
	if err != nil {
		return err
	}

	store, err := c.store()
	if err != nil {
		return err
	}

	resolver := fingerprint.DirResolver{Root: c.Root}

	stageRunner, cleanup, err := c.stageRunner(resolver)
	if err != nil {
		return err
	}
	defer cleanup()

	reporter := pipeline.MultiReporter{pipeline.LogReporter{}}
	if c.MetricsAddr != "" {
		m := metrics.NewReporter()
		reporter = append(reporter, m)
		go c.serveMetrics(ctx, m)
	}

	controller := pipeline.NewController(store, stageRunner, resolver, reporter)

	summary, err := controller.Build(ctx, pipeline.Options{
		Spec:    spec,
		Workers: c.Workers,
	})
	if err != nil {
		return err
	}

	if c.Output != "" && summary.Output != nil {
		if err := os.WriteFile(c.Output, summary.Output.Payload, paths.DefaultFileMode); err != nil {
			return fmt.Errorf("writing output artifact: %w", err)
		}
		slog.Info("output written", "path", c.Output, "size", summary.Output.Size())
	}

	return nil
}

// Assembles the cache store from flags.
//
// A remote endpoint selects the shared object-store cache; otherwise the
// local disk cache is used.
func (c *BuildCmd) store() (cache.Store, error) {
	if c.RemoteEndpoint != "" {
		return cache.NewObjectStore(cache.ObjectConfig{
			Endpoint:  c.RemoteEndpoint,
			Bucket:    c.RemoteBucket,
			AccessKey: c.RemoteAccessKey,
			SecretKey: c.RemoteSecretKey,
			UseSSL:    c.RemoteSSL,
		})
	}

	dir := c.CacheDir
	if dir == "" {
		dir = paths.CacheDir()
	}
	return cache.NewDiskStore(dir)
}

// Assembles the stage runner from flags.
func (c *BuildCmd) stageRunner(resolver fingerprint.Resolver) (pipeline.Runner, func(), error) {
	switch c.Runner {
	case "containerd":
		if c.Image == "" {
			return nil, nil, fmt.Errorf("--image is required with the containerd runner")
		}
		r, err := runner.NewContainerd(runner.ContainerdConfig{
			Address:   c.ContainerdAddress,
			Namespace: c.ContainerdNamespace,
			Image:     c.Image,
			Resolver:  resolver,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil

	default:
		return &runner.Local{Root: c.Root, Work: paths.WorkDir()}, func() {}, nil
	}
}

// Serves the metrics handler until the build context ends.
func (c *BuildCmd) serveMetrics(ctx context.Context, m *metrics.Reporter) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: c.MetricsAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	slog.Debug("serving metrics", "addr", c.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Warn("metrics listener failed", "error", err)
	}
}
