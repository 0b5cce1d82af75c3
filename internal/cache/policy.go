package cache

import (
	"sort"

	"github.com/opencontainers/go-digest"
)

// Evicts least-recently-used entries until the total payload size fits
// within a byte budget.
//
// A MaxBytes of zero plans no evictions.
type LRUPolicy struct {
	MaxBytes int64 // Total payload budget in bytes.
}

// Returns the oldest-accessed entries whose removal brings the total size
// within budget.
func (p LRUPolicy) Plan(entries []EntryInfo) []digest.Digest {
	if p.MaxBytes <= 0 {
		return nil
	}

	var total int64
	for _, e := range entries {
		total += e.Size
	}
	if total <= p.MaxBytes {
		return nil
	}

	byAccess := make([]EntryInfo, len(entries))
	copy(byAccess, entries)
	sort.Slice(byAccess, func(i, j int) bool {
		return byAccess[i].LastAccess.Before(byAccess[j].LastAccess)
	})

	var victims []digest.Digest
	for _, e := range byAccess {
		if total <= p.MaxBytes {
			break
		}
		victims = append(victims, e.Fingerprint)
		total -= e.Size
	}
	return victims
}

// Evicts every entry the predicate selects.
//
// Useful for explicit invalidation, e.g. dropping all entries produced by
// a particular stage.
type FilterPolicy struct {
	Match func(EntryInfo) bool // Selects entries to remove.
}

// Returns every entry the match function selects.
func (p FilterPolicy) Plan(entries []EntryInfo) []digest.Digest {
	var victims []digest.Digest
	for _, e := range entries {
		if p.Match != nil && p.Match(e) {
			victims = append(victims, e.Fingerprint)
		}
	}
	return victims
}
