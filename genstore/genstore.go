// Package genstore keeps invalidation generations per tag scope.
//
// A scope is "tag:<Type>" for a list tag or "tag:<Type>#<ID>" for a point tag.
// Every invalidation bumps the generation of the scopes it targets. A cached
// entry remembers the generations of its scopes at fulfilment time; if any of
// them has moved when the entry is read again, the entry is stale.
//
// LocalGenStore is the in-process default. RedisGenStore shares generations
// across processes, so an invalidation on one dashboard replica is observed
// by the caches of all replicas on their next read.
package genstore

import (
	"context"
	"time"
)

type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, scope string) (uint64, error)
	// SnapshotMany returns gens for many scopes; missing => 0.
	SnapshotMany(ctx context.Context, scopes []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, scope string) (uint64, error)
	// BumpMany increments every scope; implementations may batch.
	BumpMany(ctx context.Context, scopes []string) error
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
