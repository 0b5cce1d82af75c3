package fingerprint

import (
	"encoding/binary"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/kiln/internal/graph"
)

// Sentinel fed into the hash in place of a parent fingerprint for root
// stages, so that a root stage and a child stage with otherwise identical
// inputs never collide.
const rootSentinel = "kiln.root.v1"

// Resolves file-reference inputs to their content.
//
// Implemented by the file-access collaborator; the fingerprinter never
// touches the filesystem itself.
type Resolver interface {
	ReadInput(ref string) ([]byte, error)
}

// Computes deterministic content fingerprints for stages.
//
// A fingerprint covers the stage's command, its declared inputs in
// declaration order, and the parent stage's fingerprint. Identical inputs
// always produce identical fingerprints; any single-byte change to any
// component produces a different one.
type Fingerprinter struct {
	resolver Resolver // Resolves file-reference inputs.
}

// Creates a fingerprinter that resolves file inputs through the given
// resolver.
func New(resolver Resolver) *Fingerprinter {
	return &Fingerprinter{resolver: resolver}
}

// Computes the fingerprint of a stage.
//
// parent is the already-resolved fingerprint of the stage's parent, or the
// zero digest for a root stage. Every field is length-prefixed before
// hashing so that adjacent fields can never be confused for one another,
// and inputs are hashed in declaration order: reordering two inputs is a
// cache-key change.
func (f *Fingerprinter) Stage(stage *graph.Stage, parent digest.Digest) (digest.Digest, error) {
	digester := digest.Canonical.Digester()
	h := digester.Hash()

	writeField := func(data []byte) {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(data)))
		h.Write(length[:])
		h.Write(data)
	}

	if parent == "" {
		writeField([]byte(rootSentinel))
	} else {
		writeField([]byte(parent))
	}

	writeField([]byte(stage.Name))
	writeField([]byte(stage.Command))

	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(stage.Inputs)))
	h.Write(count[:])

	for i, input := range stage.Inputs {
		writeField([]byte(input.Kind))

		switch input.Kind {
		case graph.InputFile:
			content, err := f.resolver.ReadInput(input.Value)
			if err != nil {
				return "", fmt.Errorf("stage %q input %d (%s): %w: %v",
					stage.Name, i+1, input.Value, ErrUnreadableInput, err)
			}
			writeField(content)

		default:
			writeField([]byte(input.Value))
		}
	}

	return digester.Digest(), nil
}
