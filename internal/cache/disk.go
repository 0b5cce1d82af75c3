package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/moby/locker"
	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/kiln/internal/paths"
)

const (

	// Filename of the entry metadata document.
	metaFilename = "meta.json"

	// Filename of the artifact payload blob.
	payloadFilename = "artifact"
)

// Metadata persisted alongside each disk entry.
type diskMeta struct {
	Stage   string        `json:"stage"`
	Size    int64         `json:"size"`
	Created time.Time     `json:"created"`
	Payload digest.Digest `json:"payload"`
}

// Store backed by a content-addressed directory tree.
//
// Entries live under {root}/{algorithm}/{hex[:2]}/{hex}/ with a metadata
// document and the payload blob. Commits are staged in a temporary
// directory and moved into place with a single rename, so readers never
// observe a partially written entry. Concurrent commits for the same
// fingerprint are serialized by a per-fingerprint lock; commits for
// different fingerprints do not block each other.
type DiskStore struct {
	root  string         // Root directory of the store.
	locks *locker.Locker // Per-fingerprint write locks.

	mu      sync.Mutex            // Guards reading.
	reading map[digest.Digest]int // In-flight Get count per fingerprint.
}

// Creates a disk store rooted at the given directory, creating it if
// needed.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return &DiskStore{
		root:    root,
		locks:   locker.New(),
		reading: make(map[digest.Digest]int),
	}, nil
}

// Reports whether an entry is committed under the fingerprint.
func (s *DiskStore) Has(ctx context.Context, fp digest.Digest) (bool, error) {
	if err := fp.Validate(); err != nil {
		return false, fmt.Errorf("invalid fingerprint: %w", err)
	}

	_, err := os.Stat(filepath.Join(s.entryDir(fp), metaFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking cache entry: %w", err)
	}
	return true, nil
}

// Returns the artifact committed under the fingerprint.
//
// The payload is verified against the digest recorded at commit time; a
// mismatch reports [ErrCorrupted]. The entry is protected from eviction
// for the duration of the read.
func (s *DiskStore) Get(ctx context.Context, fp digest.Digest) (*Artifact, error) {
	if err := fp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fingerprint: %w", err)
	}

	s.beginRead(fp)
	defer s.endRead(fp)

	dir := s.entryDir(fp)

	meta, err := s.readMeta(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", fp, ErrMiss)
		}
		return nil, err
	}

	payload, err := os.ReadFile(filepath.Join(dir, payloadFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", fp, ErrMiss)
		}
		return nil, fmt.Errorf("reading cache payload: %w", err)
	}

	if got := digest.FromBytes(payload); got != meta.Payload {
		return nil, fmt.Errorf("%s: payload digest %s does not match committed %s: %w",
			fp, got, meta.Payload, ErrCorrupted)
	}

	s.touch(dir)

	return &Artifact{
		Payload: payload,
		Stage:   meta.Stage,
		Created: meta.Created,
	}, nil
}

// Commits an artifact under the fingerprint.
//
// Re-committing a byte-identical payload is a no-op. A different payload
// under an existing fingerprint reports [ErrCorrupted]: a fingerprint maps
// to exactly one artifact.
func (s *DiskStore) Put(ctx context.Context, fp digest.Digest, artifact *Artifact) error {
	if err := fp.Validate(); err != nil {
		return fmt.Errorf("invalid fingerprint: %w", err)
	}

	s.locks.Lock(fp.String())
	defer s.locks.Unlock(fp.String())

	dir := s.entryDir(fp)
	incoming := digest.FromBytes(artifact.Payload)

	if existing, err := s.readMeta(dir); err == nil {
		if existing.Payload == incoming {
			slog.Debug("cache entry already committed", "fingerprint", fp)
			return nil
		}
		return fmt.Errorf("%s: commit of payload %s conflicts with committed %s: %w",
			fp, incoming, existing.Payload, ErrCorrupted)
	} else if !os.IsNotExist(err) {
		return err
	}

	meta := diskMeta{
		Stage:   artifact.Stage,
		Size:    artifact.Size(),
		Created: artifact.Created,
		Payload: incoming,
	}

	return s.commit(fp, dir, meta, artifact.Payload)
}

// Removes the entries selected by the policy.
//
// Entries with an in-flight read are skipped; they remain candidates for
// a later eviction pass.
func (s *DiskStore) Evict(ctx context.Context, policy Policy) (int, error) {
	entries, err := s.list()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, fp := range policy.Plan(entries) {
		if s.inRead(fp) {
			slog.Debug("eviction skipped, entry in use", "fingerprint", fp)
			continue
		}

		s.locks.Lock(fp.String())
		err := os.RemoveAll(s.entryDir(fp))
		s.locks.Unlock(fp.String())
		if err != nil {
			return removed, fmt.Errorf("evicting %s: %w", fp, err)
		}

		removed++
		slog.Debug("cache entry evicted", "fingerprint", fp)
	}

	return removed, nil
}

// Returns metadata for every committed entry.
func (s *DiskStore) List(ctx context.Context) ([]EntryInfo, error) {
	return s.list()
}

func (s *DiskStore) list() ([]EntryInfo, error) {
	var entries []EntryInfo

	algos, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing cache root: %w", err)
	}

	for _, algo := range algos {
		if !algo.IsDir() {
			continue
		}
		shards, err := os.ReadDir(filepath.Join(s.root, algo.Name()))
		if err != nil {
			return nil, err
		}
		for _, shard := range shards {
			if !shard.IsDir() {
				continue
			}
			dirs, err := os.ReadDir(filepath.Join(s.root, algo.Name(), shard.Name()))
			if err != nil {
				return nil, err
			}
			for _, dir := range dirs {
				if !dir.IsDir() {
					continue
				}
				fp := digest.Digest(algo.Name() + ":" + dir.Name())
				if fp.Validate() != nil {
					continue
				}
				info, err := s.entryInfo(fp)
				if err != nil {
					continue // Entry racing with eviction or commit.
				}
				entries = append(entries, info)
			}
		}
	}

	return entries, nil
}

// Reads the metadata and access time of a single entry.
func (s *DiskStore) entryInfo(fp digest.Digest) (EntryInfo, error) {
	dir := s.entryDir(fp)

	meta, err := s.readMeta(dir)
	if err != nil {
		return EntryInfo{}, err
	}

	access := meta.Created
	if stat, err := os.Stat(filepath.Join(dir, payloadFilename)); err == nil {
		access = stat.ModTime()
	}

	return EntryInfo{
		Fingerprint: fp,
		Size:        meta.Size,
		Created:     meta.Created,
		LastAccess:  access,
	}, nil
}

// Stages an entry in a temporary directory and moves it into place.
//
// The rename is atomic on the same filesystem; a reader either sees the
// complete entry or none of it.
func (s *DiskStore) commit(fp digest.Digest, dir string, meta diskMeta, payload []byte) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, paths.DefaultDirMode); err != nil {
		return fmt.Errorf("creating cache shard: %w", err)
	}

	tmp, err := os.MkdirTemp(parent, ".commit-*")
	if err != nil {
		return fmt.Errorf("staging cache entry: %w", err)
	}
	defer os.RemoveAll(tmp)

	doc, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding cache metadata: %w", err)
	}

	if err := os.WriteFile(filepath.Join(tmp, payloadFilename), payload, paths.DefaultFileMode); err != nil {
		return fmt.Errorf("writing cache payload: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, metaFilename), doc, paths.DefaultFileMode); err != nil {
		return fmt.Errorf("writing cache metadata: %w", err)
	}

	if err := os.Rename(tmp, dir); err != nil {
		// Another process may have won the commit race. Byte-identical
		// content makes the rename failure a no-op; anything else is a
		// determinism violation.
		if existing, readErr := s.readMeta(dir); readErr == nil {
			if existing.Payload == meta.Payload {
				return nil
			}
			return fmt.Errorf("%s: commit of payload %s conflicts with committed %s: %w",
				fp, meta.Payload, existing.Payload, ErrCorrupted)
		}
		return fmt.Errorf("committing cache entry: %w", err)
	}

	slog.Debug("cache entry committed", "fingerprint", fp, "stage", meta.Stage, "size", meta.Size)
	return nil
}

// Reads and decodes an entry's metadata document.
func (s *DiskStore) readMeta(dir string) (*diskMeta, error) {
	doc, err := os.ReadFile(filepath.Join(dir, metaFilename))
	if err != nil {
		return nil, err
	}

	var meta diskMeta
	if err := json.Unmarshal(doc, &meta); err != nil {
		return nil, fmt.Errorf("decoding cache metadata: %w", ErrCorrupted)
	}
	return &meta, nil
}

// Updates the payload's modification time, recording the access for LRU
// eviction. Best effort.
func (s *DiskStore) touch(dir string) {
	now := time.Now()
	_ = os.Chtimes(filepath.Join(dir, payloadFilename), now, now)
}

// Returns the directory holding the entry for a fingerprint.
func (s *DiskStore) entryDir(fp digest.Digest) string {
	hex := fp.Encoded()
	return filepath.Join(s.root, fp.Algorithm().String(), hex[:2], hex)
}

// Marks the start of an in-flight read.
func (s *DiskStore) beginRead(fp digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading[fp]++
}

// Marks the end of an in-flight read.
func (s *DiskStore) endRead(fp digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reading[fp]--; s.reading[fp] <= 0 {
		delete(s.reading, fp)
	}
}

// Reports whether the fingerprint has an in-flight read.
func (s *DiskStore) inRead(fp digest.Digest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading[fp] > 0
}
