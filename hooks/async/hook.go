// Package asynchook runs hotrod.Hooks on background workers so slow sinks
// never stall cache operations. Events are dropped when the queue is full.
//
//	raw := sloghook.New(slog.Default(), sloghook.Options{OpEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cfg, _ := hotrod.NewConfigurationBuilder().
//		AddServer("127.0.0.1", 11222).
//		Hooks(hooks).
//		Build()
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/hotrod"
)

type Hooks struct {
	inner   hotrod.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ hotrod.Hooks = (*Hooks)(nil)

func New(inner hotrod.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped counts events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) ConnOpened(addr string) { h.try(func() { h.inner.ConnOpened(addr) }) }
func (h *Hooks) ConnClosed(addr string) { h.try(func() { h.inner.ConnClosed(addr) }) }
func (h *Hooks) ServerUnhealthy(addr string, err error) {
	h.try(func() { h.inner.ServerUnhealthy(addr, err) })
}
func (h *Hooks) AuthFailed(addr, mech string, err error) {
	h.try(func() { h.inner.AuthFailed(addr, mech, err) })
}
func (h *Hooks) OpDone(cache, op string, took time.Duration, err error) {
	h.try(func() { h.inner.OpDone(cache, op, took, err) })
}
func (h *Hooks) NearCacheLookup(cache string, hit bool) {
	h.try(func() { h.inner.NearCacheLookup(cache, hit) })
}
func (h *Hooks) NearCacheSelfHeal(cache, key, reason string) {
	h.try(func() { h.inner.NearCacheSelfHeal(cache, key, reason) })
}
func (h *Hooks) NearCacheSetRejected(cache, key string) {
	h.try(func() { h.inner.NearCacheSetRejected(cache, key) })
}
func (h *Hooks) NearCacheGenError(cache string, err error) {
	h.try(func() { h.inner.NearCacheGenError(cache, err) })
}
