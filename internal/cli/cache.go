package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cruciblehq/kiln/internal/cache"
	"github.com/cruciblehq/kiln/internal/paths"
)

// Represents the 'kiln cache' command group.
type CacheCmd struct {
	Gc   CacheGcCmd   `cmd:"" help:"Evict least recently used entries down to a size budget."`
	List CacheListCmd `cmd:"" help:"List cached artifacts."`
}

// Represents the 'kiln cache gc' command.
type CacheGcCmd struct {
	MaxBytes int64  `help:"Target total cache size in bytes." required:""`
	CacheDir string `help:"Local cache directory. Defaults to the user cache home." placeholder:"DIR"`
}

// Executes the cache gc command.
func (c *CacheGcCmd) Run(ctx context.Context) error {
	store, err := c.open()
	if err != nil {
		return err
	}

	evicted, err := store.Evict(ctx, cache.LRUPolicy{MaxBytes: c.MaxBytes})
	if err != nil {
		return err
	}

	slog.Info("cache collected", "evicted", evicted, "budget", c.MaxBytes)
	return nil
}

func (c *CacheGcCmd) open() (*cache.DiskStore, error) {
	dir := c.CacheDir
	if dir == "" {
		dir = paths.CacheDir()
	}
	return cache.NewDiskStore(dir)
}

// Represents the 'kiln cache list' command.
type CacheListCmd struct {
	CacheDir string `help:"Local cache directory. Defaults to the user cache home." placeholder:"DIR"`
}

// Executes the cache list command.
func (c *CacheListCmd) Run(ctx context.Context) error {
	dir := c.CacheDir
	if dir == "" {
		dir = paths.CacheDir()
	}
	store, err := cache.NewDiskStore(dir)
	if err != nil {
		return err
	}

	entries, err := store.List(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		fmt.Printf("%s\t%d\t%s\n",
			entry.Fingerprint, entry.Size,
			entry.LastAccess.Format("2006-01-02 15:04:05"))
	}
	return nil
}
