// Package provider defines the byte store behind a near cache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the bytes previously passed to Set for a key. The near cache frames every
// value with its generation and treats anything else under its "nc:" prefix
// as corruption, deleting it on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs, safe for concurrent use.
// Keys may contain arbitrary bytes (they embed raw HotRod keys).
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// SizeCost charges an entry by its framed size; use it with stores whose
// budget is expressed in bytes (ristretto MaxCost).
func SizeCost(_ string, raw []byte) int64 { return int64(len(raw)) }
