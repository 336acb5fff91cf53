package hotrod

import (
	"context"
	"time"

	"github.com/unkn0wn-root/hotrod/genstore"
	"github.com/unkn0wn-root/hotrod/marshal"
	"github.com/unkn0wn-root/hotrod/provider"
)

// RemoteCache is a handle on one named cache. K and V are converted to bytes
// by the handle's marshallers. Absence is reported as ok=false, never as an
// error. Returned values are owned by the caller.
type RemoteCache[K, V any] interface {
	Name() string

	Get(ctx context.Context, key K) (v V, ok bool, err error)
	// Put stores value and returns the previous value, if any.
	Put(ctx context.Context, key K, value V, opts ...WriteOption) (prev V, hadPrev bool, err error)
	// Remove deletes key and returns the value it held, if any.
	Remove(ctx context.Context, key K) (prev V, hadPrev bool, err error)
	ContainsKey(ctx context.Context, key K) (bool, error)
	// Keys returns every key of the cache, each once, in no particular order.
	Keys(ctx context.Context) ([]K, error)

	// PutIfAbsent stores value only if key is absent. present=true reports the
	// value that was already there.
	PutIfAbsent(ctx context.Context, key K, value V, opts ...WriteOption) (existing V, present bool, err error)
	// Replace stores value only if key is present.
	Replace(ctx context.Context, key K, value V, opts ...WriteOption) (prev V, replaced bool, err error)

	GetWithVersion(ctx context.Context, key K) (Versioned[V], bool, error)
	ReplaceWithVersion(ctx context.Context, key K, value V, version uint64, opts ...WriteOption) (bool, error)
	RemoveWithVersion(ctx context.Context, key K, version uint64) (bool, error)

	// Bulk. GetAll omits missing keys.
	GetAll(ctx context.Context, keys []K) ([]Entry[K, V], error)
	PutAll(ctx context.Context, entries []Entry[K, V], opts ...WriteOption) error

	Size(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (map[string]string, error)
	Ping(ctx context.Context) error
}

// Versioned is a value with the server's entry version, for optimistic
// concurrency via ReplaceWithVersion and RemoveWithVersion.
type Versioned[V any] struct {
	Value   V
	Version uint64
}

type Entry[K, V any] struct {
	Key   K
	Value V
}

// CacheOptions configure a typed handle. Nil marshallers are an error; use
// marshal.Bytes for raw byte slices.
type CacheOptions[K, V any] struct {
	KeyMarshaller   marshal.Marshaller[K]
	ValueMarshaller marshal.Marshaller[V]

	// NearCache enables a client-side cache of values read through this handle.
	NearCache *NearCacheOptions
}

type NearCacheOptions struct {
	// Required
	Provider provider.Provider

	Gens        genstore.Store // nil => in-process generations
	TTL         time.Duration  // 0 => 10m
	Namespace   string         // "" => "hotrod:<cache name>"
	ComputeCost func(key string, raw []byte) int64
}

type writeOptions struct {
	lifespan time.Duration
	maxIdle  time.Duration
}

// WriteOption sets entry expiration. Zero keeps the server's cache default;
// a negative duration means the entry never expires.
type WriteOption func(*writeOptions)

func WithLifespan(d time.Duration) WriteOption {
	return func(o *writeOptions) { o.lifespan = d }
}

func WithMaxIdle(d time.Duration) WriteOption {
	return func(o *writeOptions) { o.maxIdle = d }
}
