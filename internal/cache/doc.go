// Package cache stores stage artifacts keyed by fingerprint.
//
// A [Store] maps each fingerprint to exactly one [Artifact]. Commits are
// idempotent: re-committing byte-identical content is a no-op while a
// conflicting payload under the same fingerprint reports [ErrCorrupted],
// which indicates a fingerprinting bug rather than a recoverable miss.
// Concurrent commits for the same fingerprint are serialized so builds
// racing to produce the same stage cannot corrupt each other.
//
// Three backends are provided: [DiskStore] persists entries in a
// content-addressed directory tree, [MemStore] holds a bounded number of
// entries in memory, and [ObjectStore] keeps entries in an S3-compatible
// object store for caches shared across machines. Eviction is driven by a
// pluggable [Policy]; [LRUPolicy] trims least-recently-used entries to a
// byte budget.
//
// Example usage:
//
//	store, err := cache.NewDiskStore(dir)
//	if err != nil {
//	    return err
//	}
//
//	if ok, _ := store.Has(ctx, fp); !ok {
//	    if err := store.Put(ctx, fp, artifact); err != nil {
//	        return err
//	    }
//	}
//
//	removed, err := store.Evict(ctx, cache.LRUPolicy{MaxBytes: 1 << 30})
package cache
