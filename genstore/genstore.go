// Package genstore holds the per-key generation counters that guard near
// cache entries. A generation only moves forward; a near cache entry written
// under generation g is valid while the counter still reads g.
package genstore

import "context"

// Store abstracts where generations live. Local suits a single client
// process; Redis shares generations between processes that share a near
// cache provider.
type Store interface {
	// Load returns the generation of every key, in order. Missing keys read 0.
	// All keys are observed at one point in time.
	Load(ctx context.Context, keys ...string) ([]uint64, error)
	// Bump atomically increments a key and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	Close(ctx context.Context) error
}
