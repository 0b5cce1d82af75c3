package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	toolName = "kiln"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Default root directory for the local artifact cache.
//
//	Linux:   ~/.cache/kiln/cache
//	macOS:   ~/Library/Caches/kiln/cache
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, toolName, "cache")
}

// Default directory for scratch space used while running stages.
//
//	Linux:   ~/.cache/kiln/work
//	macOS:   ~/Library/Caches/kiln/work
func WorkDir() string {
	return filepath.Join(xdg.CacheHome, toolName, "work")
}
