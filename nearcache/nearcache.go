// Package nearcache keeps raw server values close to the client. Entries are
// guarded by per-key generations: writes through the client bump the key's
// generation, and a value fetched from the server is stored only if the
// generation did not move while the request was in flight. A read never
// returns an entry whose generation is stale; such entries are deleted on
// sight.
//
// Components:
//   - provider.Provider: byte store with TTL (ristretto, bigcache, redis).
//   - genstore.Store: generation counters, local by default or redis when
//     several processes share one provider.
//
// Storage keys are "nc:<namespace>:<raw key>". The generation key
// "nc:<namespace>:#epoch" is bumped by InvalidateAll.
package nearcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/hotrod/genstore"
	"github.com/unkn0wn-root/hotrod/provider"
)

const (
	defaultTTL          = 10 * time.Minute
	defaultGenRetention = 30 * 24 * time.Hour
	defaultSweep        = time.Hour
)

type Options struct {
	// Required
	Namespace string
	Provider  provider.Provider

	Gens         genstore.Store // nil => in-process genstore.Local
	TTL          time.Duration  // 0 => 10m
	GenRetention time.Duration  // local genstore only; 0 => 30d
	ComputeCost  func(key string, raw []byte) int64

	// Optional observers; must not block.
	OnSelfHeal    func(key, reason string)
	OnSetRejected func(key string)
	OnGenError    func(key string, err error)
}

type Cache struct {
	ns       string
	epochKey string
	provider provider.Provider
	gens     genstore.Store
	ownGens  bool
	ttl      time.Duration
	cost     func(string, []byte) int64

	onSelfHeal    func(string, string)
	onSetRejected func(string)
	onGenError    func(string, error)
}

func New(opts Options) (*Cache, error) {
	if opts.Provider == nil {
		return nil, errors.New("nearcache: provider is required")
	}
	if opts.Namespace == "" {
		return nil, errors.New("nearcache: namespace is required")
	}
	c := &Cache{
		ns:            opts.Namespace,
		provider:      opts.Provider,
		gens:          opts.Gens,
		ttl:           coalesce(opts.TTL, defaultTTL),
		cost:          opts.ComputeCost,
		onSelfHeal:    opts.OnSelfHeal,
		onSetRejected: opts.OnSetRejected,
		onGenError:    opts.OnGenError,
	}
	c.epochKey = "nc:" + c.ns + ":#epoch"
	if c.gens == nil {
		c.gens = genstore.NewLocal(genstore.LocalOptions{
			Sweep:     defaultSweep,
			Retention: coalesce(opts.GenRetention, defaultGenRetention),
		})
		c.ownGens = true
	}
	if c.cost == nil {
		c.cost = func(string, []byte) int64 { return 1 }
	}
	if c.onSelfHeal == nil {
		c.onSelfHeal = func(string, string) {}
	}
	if c.onSetRejected == nil {
		c.onSetRejected = func(string) {}
	}
	if c.onGenError == nil {
		c.onGenError = func(string, error) {}
	}
	return c, nil
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func (c *Cache) storageKey(key []byte) string { return "nc:" + c.ns + ":" + string(key) }

// Get returns the cached value for key. The result is owned by the caller.
// Provider and genstore failures read as misses.
func (c *Cache) Get(ctx context.Context, key []byte) ([]byte, bool) {
	k := c.storageKey(key)
	raw, ok, err := c.provider.Get(ctx, k)
	if err != nil || !ok {
		return nil, false
	}
	stamp, payload, err := decodeEntry(raw)
	if err != nil {
		_ = c.provider.Del(ctx, k)
		c.onSelfHeal(k, "corrupt")
		return nil, false
	}
	cur, err := c.snapshot(ctx, k)
	if err != nil {
		return nil, false
	}
	if cur != stamp {
		_ = c.provider.Del(ctx, k)
		c.onSelfHeal(k, "gen_mismatch")
		return nil, false
	}
	return append([]byte(nil), payload...), true
}

func (c *Cache) snapshot(ctx context.Context, k string) (Stamp, error) {
	gens, err := c.gens.Load(ctx, k, c.epochKey)
	if err != nil {
		c.onGenError(k, err)
		return Stamp{}, err
	}
	return Stamp{Gen: gens[0], Epoch: gens[1]}, nil
}

// Snapshot records the generation state of key before a server read.
func (c *Cache) Snapshot(ctx context.Context, key []byte) (Stamp, error) {
	return c.snapshot(ctx, c.storageKey(key))
}

// SetWithGen stores value iff the key's generation still equals observed.
// A moved generation means a write raced the read; the value is dropped.
func (c *Cache) SetWithGen(ctx context.Context, key, value []byte, observed Stamp) error {
	k := c.storageKey(key)
	cur, err := c.snapshot(ctx, k)
	if err != nil {
		return err
	}
	if cur != observed {
		return nil
	}
	raw := encodeEntry(observed, value)
	ok, err := c.provider.Set(ctx, k, raw, c.cost(k, raw), c.ttl)
	if err != nil {
		return err
	}
	if !ok {
		c.onSetRejected(k)
	}
	return nil
}

// Invalidate bumps the key's generation and deletes its entry. The bump alone
// is enough to hide the entry; the delete frees space.
func (c *Cache) Invalidate(ctx context.Context, key []byte) error {
	k := c.storageKey(key)
	_, bumpErr := c.gens.Bump(ctx, k)
	if bumpErr != nil {
		c.onGenError(k, bumpErr)
	}
	delErr := c.provider.Del(ctx, k)
	if bumpErr != nil || delErr != nil {
		return &InvalidateError{Key: k, BumpErr: bumpErr, DelErr: delErr}
	}
	return nil
}

// InvalidateAll hides every entry of the namespace by bumping the epoch.
// Entries are left to expire.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if _, err := c.gens.Bump(ctx, c.epochKey); err != nil {
		c.onGenError(c.epochKey, err)
		return fmt.Errorf("nearcache: bump epoch: %w", err)
	}
	return nil
}

// Close stops the genstore if the cache created it. The provider belongs to
// the caller.
func (c *Cache) Close(ctx context.Context) error {
	if c.ownGens {
		return c.gens.Close(ctx)
	}
	return nil
}
