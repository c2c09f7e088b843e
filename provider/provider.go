// Package provider defines the byte stores used by apicache.
//
// A provider backs two things: the storage package (token envelopes and other
// small persisted values, see storage.Store) and the optional result
// persistence tier of the cache core (apicache.Options.Persist).
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the
// bytes previously passed to Set for a key.
//
// The keyspaces "q:<ns>:" (persisted results) and "st:<ns>:" (storage
// envelopes) are owned by apicache. Foreign writes under these prefixes are
// treated as corruption and deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL; ttl <= 0 means no expiry. cost may
	// be ignored. Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort). Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// PrefixDeleter is implemented by providers that can enumerate their keys.
// storage.Store requires it so Clear(prefix) can be honoured.
type PrefixDeleter interface {
	DelPrefix(ctx context.Context, prefix string) error
}

// Purger is implemented by providers that can only drop everything at once.
// A client purges its Persist provider on ResetCache when it cannot delete
// by prefix, so such a provider must not be shared between namespaces.
type Purger interface {
	Purge(ctx context.Context) error
}
