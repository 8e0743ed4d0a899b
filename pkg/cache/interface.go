// Package cache provides pluggable backends for the TTL-bounded data
// the verification engine would otherwise refetch on every request:
// Sigstore golden measurements (rarely change, expensive 3-step
// fetch), cached through CachedSigstoreFetcher. Three backends share one interface: an in-process memory
// cache for a single replica, Badger for a durable single-node cache,
// and Redis for a cache shared across verifier-server replicas.
package cache

import (
	"context"
	"time"
)

// Cache is a namespaced, TTL-aware byte store. All implementations
// must be safe for concurrent use.
type Cache interface {
	// Get returns the value stored under key. ok is false if the key
	// is absent or has expired; err is non-nil only on a backend
	// failure.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key. A zero ttl means the entry never
	// expires on its own (still subject to eviction/Close semantics of
	// the backend).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Idempotent: deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend's resources. Idempotent.
	Close() error

	// HealthCheck verifies the backend is reachable and operational.
	HealthCheck(ctx context.Context) error
}
