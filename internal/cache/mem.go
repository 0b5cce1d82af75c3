package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opencontainers/go-digest"
)

// Entry cap used when no capacity is given.
const defaultMemEntries = 4096

// In-memory store bounded by entry count.
//
// Entries beyond the capacity are dropped in least-recently-used order by
// the underlying cache. Intended for tests and single-invocation builds
// where persistence is not wanted.
type MemStore struct {
	mu      sync.Mutex
	entries *lru.Cache[digest.Digest, *memEntry]
}

type memEntry struct {
	artifact *Artifact
	payload  digest.Digest // Digest of the committed payload.
	access   time.Time
}

// Creates a memory store holding at most capacity entries. A capacity of
// zero or less uses a default.
func NewMemStore(capacity int) (*MemStore, error) {
	if capacity <= 0 {
		capacity = defaultMemEntries
	}
	entries, err := lru.New[digest.Digest, *memEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating memory cache: %w", err)
	}
	return &MemStore{entries: entries}, nil
}

// Reports whether an artifact is committed under the fingerprint.
func (s *MemStore) Has(ctx context.Context, fp digest.Digest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Contains(fp), nil
}

// Returns the artifact committed under the fingerprint, or [ErrMiss].
func (s *MemStore) Get(ctx context.Context, fp digest.Digest) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Get(fp)
	if !ok {
		return nil, fmt.Errorf("%s: %w", fp, ErrMiss)
	}
	entry.access = time.Now()
	return entry.artifact, nil
}

// Commits an artifact under the fingerprint.
//
// Byte-identical re-commits are no-ops; a different payload under an
// existing fingerprint reports [ErrCorrupted].
func (s *MemStore) Put(ctx context.Context, fp digest.Digest, artifact *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	incoming := digest.FromBytes(artifact.Payload)

	if existing, ok := s.entries.Peek(fp); ok {
		if existing.payload == incoming {
			return nil
		}
		return fmt.Errorf("%s: commit of payload %s conflicts with committed %s: %w",
			fp, incoming, existing.payload, ErrCorrupted)
	}

	s.entries.Add(fp, &memEntry{
		artifact: artifact,
		payload:  incoming,
		access:   time.Now(),
	})
	return nil
}

// Removes the entries selected by the policy.
func (s *MemStore) Evict(ctx context.Context, policy Policy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]EntryInfo, 0, s.entries.Len())
	for _, fp := range s.entries.Keys() {
		entry, ok := s.entries.Peek(fp)
		if !ok {
			continue
		}
		infos = append(infos, EntryInfo{
			Fingerprint: fp,
			Size:        entry.artifact.Size(),
			Created:     entry.artifact.Created,
			LastAccess:  entry.access,
		})
	}

	removed := 0
	for _, fp := range policy.Plan(infos) {
		if s.entries.Remove(fp) {
			removed++
		}
	}
	return removed, nil
}
