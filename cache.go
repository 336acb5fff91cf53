package hotrod

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/hotrod/internal/transport"
	"github.com/unkn0wn-root/hotrod/internal/wire"
	"github.com/unkn0wn-root/hotrod/marshal"
	"github.com/unkn0wn-root/hotrod/nearcache"
)

// Cache implements RemoteCache over a manager's connections.
type Cache[K, V any] struct {
	m    *RemoteCacheManager
	name string
	keys marshal.Marshaller[K]
	vals marshal.Marshaller[V]
	near *nearcache.Cache
}

// ByteCache stores raw byte slices unchanged.
type ByteCache = Cache[[]byte, []byte]

var _ RemoteCache[[]byte, []byte] = (*ByteCache)(nil)

// Cache returns a raw handle on the named cache; "" is the server's default
// cache. Handles are cheap and may be created before Start.
func (m *RemoteCacheManager) Cache(name string) *ByteCache {
	return &ByteCache{m: m, name: name, keys: marshal.Bytes{}, vals: marshal.Bytes{}}
}

// NewCache returns a typed handle on the named cache.
func NewCache[K, V any](m *RemoteCacheManager, name string, opts CacheOptions[K, V]) (*Cache[K, V], error) {
	if m == nil {
		return nil, &ConfigError{Field: "manager", Reason: "nil manager"}
	}
	if opts.KeyMarshaller == nil || opts.ValueMarshaller == nil {
		return nil, &ConfigError{Field: "marshaller", Reason: "key and value marshallers are required"}
	}
	c := &Cache[K, V]{m: m, name: name, keys: opts.KeyMarshaller, vals: opts.ValueMarshaller}
	if nc := opts.NearCache; nc != nil {
		near, err := nearcache.New(nearcache.Options{
			Namespace:     coalesce(nc.Namespace, "hotrod:"+name),
			Provider:      nc.Provider,
			Gens:          nc.Gens,
			TTL:           nc.TTL,
			ComputeCost:   nc.ComputeCost,
			OnSelfHeal:    func(k, reason string) { m.hooks.NearCacheSelfHeal(name, k, reason) },
			OnSetRejected: func(k string) { m.hooks.NearCacheSetRejected(name, k) },
			OnGenError:    func(_ string, err error) { m.hooks.NearCacheGenError(name, err) },
		})
		if err != nil {
			return nil, &ConfigError{Field: "nearCache", Reason: err.Error(), Err: err}
		}
		c.near = near
	}
	return c, nil
}

func (c *Cache[K, V]) Name() string { return c.name }

// Close releases near cache resources owned by the handle. The manager's
// connections are not affected.
func (c *Cache[K, V]) Close(ctx context.Context) error {
	if c.near == nil {
		return nil
	}
	return c.near.Close(ctx)
}

func (c *Cache[K, V]) track(op string, start time.Time, err *error) {
	c.m.hooks.OpDone(c.name, op, time.Since(start), *err)
}

func (c *Cache[K, V]) marshalKey(k K) ([]byte, error) {
	b, err := c.keys.Marshal(k)
	if err != nil {
		return nil, fmt.Errorf("hotrod: marshal key: %w", err)
	}
	return b, nil
}

func (c *Cache[K, V]) marshalValue(v V) ([]byte, error) {
	b, err := c.vals.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("hotrod: marshal value: %w", err)
	}
	return b, nil
}

func (c *Cache[K, V]) unmarshalValue(b []byte) (V, error) {
	v, err := c.vals.Unmarshal(b)
	if err != nil {
		var zero V
		return zero, fmt.Errorf("hotrod: unmarshal value: %w", err)
	}
	return v, nil
}

// prevValue decodes an optional previous value.
func (c *Cache[K, V]) prevValue(r result) (V, bool, error) {
	var zero V
	if !r.hasPrev {
		return zero, false, nil
	}
	v, err := c.unmarshalValue(r.prev)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (c *Cache[K, V]) invalidate(ctx context.Context, kb []byte) {
	if c.near != nil {
		_ = c.near.Invalidate(ctx, kb)
	}
}

func (c *Cache[K, V]) Get(ctx context.Context, key K) (v V, ok bool, err error) {
	defer c.track("get", time.Now(), &err)
	kb, err := c.marshalKey(key)
	if err != nil {
		return v, false, err
	}
	if _, err := c.m.active("get"); err != nil {
		return v, false, err
	}
	if c.near != nil {
		if raw, hit := c.near.Get(ctx, kb); hit {
			c.m.hooks.NearCacheLookup(c.name, true)
			v, err = c.unmarshalValue(raw)
			return v, err == nil, err
		}
		c.m.hooks.NearCacheLookup(c.name, false)
	}

	var stamp nearcache.Stamp
	var stampErr error
	if c.near != nil {
		stamp, stampErr = c.near.Snapshot(ctx, kb)
	}
	var raw []byte
	err = c.m.do(ctx, "get", c.req(wire.OpGet, 0, keyBody(kb)), func(h wire.ResponseHeader, d *wire.Decoder) error {
		ok = h.Status == wire.StatusSuccess
		raw = nil
		if ok {
			raw = d.Array()
		}
		return d.Err()
	})
	if err != nil || !ok {
		return v, false, err
	}
	if c.near != nil && stampErr == nil {
		_ = c.near.SetWithGen(ctx, kb, raw, stamp)
	}
	v, err = c.unmarshalValue(raw)
	return v, err == nil, err
}

func (c *Cache[K, V]) Put(ctx context.Context, key K, value V, opts ...WriteOption) (prev V, hadPrev bool, err error) {
	defer c.track("put", time.Now(), &err)
	r, err := c.write(ctx, "put", wire.OpPut, key, value, opts)
	if err != nil {
		return prev, false, err
	}
	return c.prevValue(r)
}

func (c *Cache[K, V]) PutIfAbsent(ctx context.Context, key K, value V, opts ...WriteOption) (existing V, present bool, err error) {
	defer c.track("putIfAbsent", time.Now(), &err)
	r, err := c.write(ctx, "putIfAbsent", wire.OpPutIfAbsent, key, value, opts)
	if err != nil {
		return existing, false, err
	}
	if r.status.Executed() {
		return existing, false, nil
	}
	if !r.hasPrev {
		// not executed without a value: the entry vanished concurrently
		return existing, true, nil
	}
	return c.prevValue(r)
}

func (c *Cache[K, V]) Replace(ctx context.Context, key K, value V, opts ...WriteOption) (prev V, replaced bool, err error) {
	defer c.track("replace", time.Now(), &err)
	r, err := c.write(ctx, "replace", wire.OpReplace, key, value, opts)
	if err != nil || !r.status.Executed() {
		return prev, false, err
	}
	prev, _, err = c.prevValue(r)
	return prev, err == nil, err
}

func (c *Cache[K, V]) write(ctx context.Context, op string, code wire.Op, key K, value V, opts []WriteOption) (result, error) {
	kb, err := c.marshalKey(key)
	if err != nil {
		return result{}, err
	}
	vb, err := c.marshalValue(value)
	if err != nil {
		return result{}, err
	}
	var r result
	err = c.m.do(ctx, op, c.req(code, wire.FlagForceReturnValue, writeBody(kb, expiration(opts), vb)), r.read)
	c.invalidate(ctx, kb)
	return r, err
}

func (c *Cache[K, V]) Remove(ctx context.Context, key K) (prev V, hadPrev bool, err error) {
	defer c.track("remove", time.Now(), &err)
	kb, err := c.marshalKey(key)
	if err != nil {
		return prev, false, err
	}
	var r result
	err = c.m.do(ctx, "remove", c.req(wire.OpRemove, wire.FlagForceReturnValue, keyBody(kb)), r.read)
	c.invalidate(ctx, kb)
	if err != nil {
		return prev, false, err
	}
	return c.prevValue(r)
}

func (c *Cache[K, V]) ContainsKey(ctx context.Context, key K) (found bool, err error) {
	defer c.track("containsKey", time.Now(), &err)
	kb, err := c.marshalKey(key)
	if err != nil {
		return false, err
	}
	err = c.m.do(ctx, "containsKey", c.req(wire.OpContainsKey, 0, keyBody(kb)), func(h wire.ResponseHeader, _ *wire.Decoder) error {
		found = h.Status == wire.StatusSuccess
		return nil
	})
	return found, err
}

func (c *Cache[K, V]) Keys(ctx context.Context) (keys []K, err error) {
	defer c.track("keys", time.Now(), &err)
	var raw [][]byte
	err = c.m.do(ctx, "keys", c.req(wire.OpBulkGetKeys, 0, func(e *wire.Encoder) { e.VInt(0) }), func(_ wire.ResponseHeader, d *wire.Decoder) error {
		raw = raw[:0]
		seen := make(map[string]struct{})
		for d.Byte() == 1 && d.Err() == nil {
			k := d.Array()
			if _, dup := seen[string(k)]; dup {
				continue
			}
			seen[string(k)] = struct{}{}
			raw = append(raw, k)
		}
		return d.Err()
	})
	if err != nil {
		return nil, err
	}
	keys = make([]K, 0, len(raw))
	for _, kb := range raw {
		k, err := c.keys.Unmarshal(kb)
		if err != nil {
			return nil, fmt.Errorf("hotrod: unmarshal key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (c *Cache[K, V]) GetWithVersion(ctx context.Context, key K) (out Versioned[V], ok bool, err error) {
	defer c.track("getWithVersion", time.Now(), &err)
	kb, err := c.marshalKey(key)
	if err != nil {
		return out, false, err
	}
	var raw []byte
	err = c.m.do(ctx, "getWithVersion", c.req(wire.OpGetWithVersion, 0, keyBody(kb)), func(h wire.ResponseHeader, d *wire.Decoder) error {
		ok = h.Status == wire.StatusSuccess
		if ok {
			out.Version = d.Uint64()
			raw = d.Array()
		}
		return d.Err()
	})
	if err != nil || !ok {
		return out, false, err
	}
	out.Value, err = c.unmarshalValue(raw)
	return out, err == nil, err
}

func (c *Cache[K, V]) ReplaceWithVersion(ctx context.Context, key K, value V, version uint64, opts ...WriteOption) (replaced bool, err error) {
	defer c.track("replaceWithVersion", time.Now(), &err)
	kb, err := c.marshalKey(key)
	if err != nil {
		return false, err
	}
	vb, err := c.marshalValue(value)
	if err != nil {
		return false, err
	}
	x := expiration(opts)
	var r result
	err = c.m.do(ctx, "replaceWithVersion", c.req(wire.OpReplaceIfUnmodified, 0, func(e *wire.Encoder) {
		e.Array(kb)
		x.Encode(e)
		e.Uint64(version)
		e.Array(vb)
	}), r.read)
	c.invalidate(ctx, kb)
	return err == nil && r.status.Executed(), err
}

func (c *Cache[K, V]) RemoveWithVersion(ctx context.Context, key K, version uint64) (removed bool, err error) {
	defer c.track("removeWithVersion", time.Now(), &err)
	kb, err := c.marshalKey(key)
	if err != nil {
		return false, err
	}
	var r result
	err = c.m.do(ctx, "removeWithVersion", c.req(wire.OpRemoveIfUnmodified, 0, func(e *wire.Encoder) {
		e.Array(kb)
		e.Uint64(version)
	}), r.read)
	c.invalidate(ctx, kb)
	return err == nil && r.status.Executed(), err
}

func (c *Cache[K, V]) GetAll(ctx context.Context, keys []K) (out []Entry[K, V], err error) {
	defer c.track("getAll", time.Now(), &err)
	if len(keys) == 0 {
		return nil, nil
	}
	kbs := make([][]byte, len(keys))
	for i, k := range keys {
		if kbs[i], err = c.marshalKey(k); err != nil {
			return nil, err
		}
	}
	var pairs [][2][]byte
	err = c.m.do(ctx, "getAll", c.req(wire.OpGetAll, 0, func(e *wire.Encoder) {
		e.VInt(uint32(len(kbs)))
		for _, kb := range kbs {
			e.Array(kb)
		}
	}), func(_ wire.ResponseHeader, d *wire.Decoder) error {
		n := d.VInt()
		if int(n) > len(kbs) {
			d.Fail(fmt.Errorf("%w: %d entries for %d keys", wire.ErrCorrupt, n, len(kbs)))
			return d.Err()
		}
		pairs = pairs[:0]
		for i := uint32(0); i < n && d.Err() == nil; i++ {
			pairs = append(pairs, [2][]byte{d.Array(), d.Array()})
		}
		return d.Err()
	})
	if err != nil {
		return nil, err
	}
	out = make([]Entry[K, V], 0, len(pairs))
	for _, p := range pairs {
		k, err := c.keys.Unmarshal(p[0])
		if err != nil {
			return nil, fmt.Errorf("hotrod: unmarshal key: %w", err)
		}
		v, err := c.unmarshalValue(p[1])
		if err != nil {
			return nil, err
		}
		out = append(out, Entry[K, V]{Key: k, Value: v})
	}
	return out, nil
}

// BulkGet returns up to count entries of the cache, or every entry when count
// is 0. Which entries a bounded read returns is up to the server.
func (c *Cache[K, V]) BulkGet(ctx context.Context, count int) (out []Entry[K, V], err error) {
	defer c.track("bulkGet", time.Now(), &err)
	if count < 0 {
		return nil, fmt.Errorf("hotrod: bulk get count %d is negative", count)
	}
	var pairs [][2][]byte
	err = c.m.do(ctx, "bulkGet", c.req(wire.OpBulkGet, 0, func(e *wire.Encoder) { e.VInt(uint32(count)) }), func(_ wire.ResponseHeader, d *wire.Decoder) error {
		pairs = pairs[:0]
		for d.Byte() == 1 && d.Err() == nil {
			if count > 0 && len(pairs) == count {
				d.Fail(fmt.Errorf("%w: more than %d bulk entries", wire.ErrCorrupt, count))
				break
			}
			pairs = append(pairs, [2][]byte{d.Array(), d.Array()})
		}
		return d.Err()
	})
	if err != nil {
		return nil, err
	}
	out = make([]Entry[K, V], 0, len(pairs))
	for _, p := range pairs {
		k, err := c.keys.Unmarshal(p[0])
		if err != nil {
			return nil, fmt.Errorf("hotrod: unmarshal key: %w", err)
		}
		v, err := c.unmarshalValue(p[1])
		if err != nil {
			return nil, err
		}
		out = append(out, Entry[K, V]{Key: k, Value: v})
	}
	return out, nil
}

func (c *Cache[K, V]) PutAll(ctx context.Context, entries []Entry[K, V], opts ...WriteOption) (err error) {
	defer c.track("putAll", time.Now(), &err)
	if len(entries) == 0 {
		return nil
	}
	kbs := make([][]byte, len(entries))
	vbs := make([][]byte, len(entries))
	for i, en := range entries {
		if kbs[i], err = c.marshalKey(en.Key); err != nil {
			return err
		}
		if vbs[i], err = c.marshalValue(en.Value); err != nil {
			return err
		}
	}
	x := expiration(opts)
	err = c.m.do(ctx, "putAll", c.req(wire.OpPutAll, 0, func(e *wire.Encoder) {
		x.Encode(e)
		e.VInt(uint32(len(kbs)))
		for i := range kbs {
			e.Array(kbs[i])
			e.Array(vbs[i])
		}
	}), nil)
	for _, kb := range kbs {
		c.invalidate(ctx, kb)
	}
	return err
}

func (c *Cache[K, V]) Size(ctx context.Context) (n int64, err error) {
	defer c.track("size", time.Now(), &err)
	err = c.m.do(ctx, "size", c.req(wire.OpSize, 0, nil), func(_ wire.ResponseHeader, d *wire.Decoder) error {
		n = int64(d.VLong())
		return d.Err()
	})
	return n, err
}

func (c *Cache[K, V]) Clear(ctx context.Context) (err error) {
	defer c.track("clear", time.Now(), &err)
	err = c.m.do(ctx, "clear", c.req(wire.OpClear, 0, nil), nil)
	if c.near != nil {
		_ = c.near.InvalidateAll(ctx)
	}
	return err
}

// maxStats bounds the statistics a server may send.
const maxStats = 1024

func (c *Cache[K, V]) Stats(ctx context.Context) (stats map[string]string, err error) {
	defer c.track("stats", time.Now(), &err)
	err = c.m.do(ctx, "stats", c.req(wire.OpStats, 0, nil), func(_ wire.ResponseHeader, d *wire.Decoder) error {
		n := d.VInt()
		if n > maxStats {
			d.Fail(fmt.Errorf("%w: %d stats", wire.ErrCorrupt, n))
			return d.Err()
		}
		stats = make(map[string]string, n)
		for i := uint32(0); i < n && d.Err() == nil; i++ {
			k := d.String()
			stats[k] = d.String()
		}
		return d.Err()
	})
	return stats, err
}

func (c *Cache[K, V]) Ping(ctx context.Context) (err error) {
	defer c.track("ping", time.Now(), &err)
	return c.m.do(ctx, "ping", c.req(wire.OpPing, 0, nil), func(_ wire.ResponseHeader, d *wire.Decoder) error {
		if c.m.cfg.version.HasPingInfo() {
			_ = wire.DecodePingInfo(d)
		}
		return d.Err()
	})
}

func (c *Cache[K, V]) req(op wire.Op, flags uint32, body func(*wire.Encoder)) transport.Request {
	return transport.Request{Op: op, Cache: c.name, Flags: flags, Body: body}
}

// result captures the status and optional previous value of a write.
type result struct {
	status  wire.Status
	prev    []byte
	hasPrev bool
}

func (r *result) read(h wire.ResponseHeader, d *wire.Decoder) error {
	*r = result{status: h.Status}
	if h.Status.HasPrevious() {
		r.prev = d.Array()
		r.hasPrev = true
	}
	return d.Err()
}

func keyBody(kb []byte) func(*wire.Encoder) {
	return func(e *wire.Encoder) { e.Array(kb) }
}

func writeBody(kb []byte, x wire.Expiration, vb []byte) func(*wire.Encoder) {
	return func(e *wire.Encoder) {
		e.Array(kb)
		x.Encode(e)
		e.Array(vb)
	}
}

func expiration(opts []WriteOption) wire.Expiration {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return wire.Expiration{Lifespan: o.lifespan, MaxIdle: o.maxIdle}
}
