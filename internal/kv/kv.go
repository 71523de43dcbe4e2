// Package kv provides the persistent key-value collaborator used for
// call-log and configuration persistence.
//
// Implementations:
//   - Memory: in-memory, for tests and single-run usage
//   - File: JSON file on disk with atomic writes
//   - Redis: shared storage for multi-instance deployments
//
// All implementations degrade to an empty value on missing or corrupt
// backing data; absence is reported via the bool return, never as an
// error.
package kv

import "context"

// Store is a minimal string key-value store.
type Store interface {
	// Get returns the value for key. The bool is false if the key is
	// absent; absence is not an error.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is a no-op.
	Remove(ctx context.Context, key string) error
}
