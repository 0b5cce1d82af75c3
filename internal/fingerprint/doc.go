// Package fingerprint derives content-addressed cache keys for stages.
//
// A stage's fingerprint is a SHA-256 digest over its command, its declared
// inputs in declaration order, and its parent stage's fingerprint. Chaining
// the parent fingerprint means a change anywhere in a stage's ancestry
// changes the fingerprint of every descendant, which is what makes serving
// a cached artifact for a matching fingerprint safe.
//
// File-reference inputs are resolved to content through a [Resolver] so the
// fingerprinter itself stays free of filesystem concerns. Fingerprints use
// the [digest.Digest] representation ("sha256:<hex>") shared with the cache
// store.
package fingerprint
