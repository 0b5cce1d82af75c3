package fingerprint

import (
	"os"
	"path/filepath"
)

// Resolves file references against a root directory on the local
// filesystem.
//
// Relative references are joined with the root; absolute references are
// read as-is. This is the default file-access collaborator used by the CLI.
type DirResolver struct {
	Root string // Directory that relative references are resolved against.
}

// Reads the content of the referenced file.
func (r DirResolver) ReadInput(ref string) ([]byte, error) {
	if !filepath.IsAbs(ref) {
		ref = filepath.Join(r.Root, ref)
	}
	return os.ReadFile(ref)
}
