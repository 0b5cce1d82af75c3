package cache

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"
)

// Output produced by running a stage's command.
//
// The payload is opaque to the cache; only the producing stage name and
// creation time travel with it as metadata. Once committed via [Store.Put]
// the store owns the entry.
type Artifact struct {
	Payload []byte    // Opaque artifact bytes.
	Stage   string    // Name of the stage that produced the artifact.
	Created time.Time // When the artifact was produced.
}

// Returns the payload size in bytes.
func (a *Artifact) Size() int64 {
	return int64(len(a.Payload))
}

// Maps fingerprints to committed artifacts.
//
// A fingerprint maps to exactly one artifact: Put is idempotent for
// byte-identical re-commits and fails with [ErrCorrupted] when a different
// payload arrives under an existing fingerprint. Implementations must
// serialize concurrent Puts for the same fingerprint (first writer wins)
// and must never evict an entry while an in-flight Get is reading it.
type Store interface {

	// Reports whether an artifact is committed under the fingerprint.
	Has(ctx context.Context, fp digest.Digest) (bool, error)

	// Returns the artifact committed under the fingerprint, or [ErrMiss].
	Get(ctx context.Context, fp digest.Digest) (*Artifact, error)

	// Commits an artifact under the fingerprint.
	Put(ctx context.Context, fp digest.Digest, artifact *Artifact) error

	// Removes the entries selected by the policy and returns how many
	// were removed.
	Evict(ctx context.Context, policy Policy) (int, error)
}

// Metadata about a committed entry, offered to eviction policies.
type EntryInfo struct {
	Fingerprint digest.Digest // Cache key of the entry.
	Size        int64         // Payload size in bytes.
	Created     time.Time     // When the entry was committed.
	LastAccess  time.Time     // When the entry was last read or committed.
}

// Selects entries to remove during eviction.
type Policy interface {

	// Returns the fingerprints to remove, given every committed entry.
	Plan(entries []EntryInfo) []digest.Digest
}
