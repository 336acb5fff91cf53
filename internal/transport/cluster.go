package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/hotrod/internal/wire"
)

// DefaultCooldown is how long an unhealthy server is skipped.
const DefaultCooldown = 5 * time.Second

type ClusterConfig struct {
	Cooldown time.Duration
	// Fatal reports errors that must not be retried on another server
	// (authentication failures, protocol mismatches). Optional.
	Fatal func(error) bool
	// OnUnhealthy is called when a server is taken out of rotation. Optional.
	OnUnhealthy func(addr string, err error)
}

// Cluster picks connections round-robin across per-server pools.
type Cluster struct {
	cfg ClusterConfig

	mu     sync.RWMutex
	pools  []*Pool
	down   map[*Pool]time.Time
	closed bool

	next atomic.Uint64
}

func NewCluster(pools []*Pool, cfg ClusterConfig) *Cluster {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Cluster{
		cfg:   cfg,
		pools: append([]*Pool(nil), pools...),
		down:  make(map[*Pool]time.Time),
	}
}

// Pools returns the pools in configured order.
func (c *Cluster) Pools() []*Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Pool(nil), c.pools...)
}

// candidates returns healthy pools starting at the round-robin cursor,
// followed by unhealthy ones so a fully-down cluster still gets a try.
func (c *Cluster) candidates() ([]*Pool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	n := len(c.pools)
	if n == 0 {
		return nil, ErrClosed
	}
	start := int((c.next.Add(1) - 1) % uint64(n))

	now := time.Now()
	healthy := make([]*Pool, 0, n)
	var sick []*Pool
	for i := 0; i < n; i++ {
		p := c.pools[(start+i)%n]
		if until, ok := c.down[p]; ok && now.Before(until) {
			sick = append(sick, p)
			continue
		}
		healthy = append(healthy, p)
	}
	return append(healthy, sick...), nil
}

// Acquire returns a connection from the next usable server.
func (c *Cluster) Acquire(ctx context.Context) (*Conn, *Pool, error) {
	pools, err := c.candidates()
	if err != nil {
		return nil, nil, err
	}
	var errs []error
	for _, p := range pools {
		conn, err := p.Get(ctx)
		if err == nil {
			if !c.Healthy(p) {
				c.MarkUp(p)
			}
			return conn, p, nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrClosed) {
			return nil, nil, err
		}
		if c.cfg.Fatal != nil && c.cfg.Fatal(err) {
			return nil, nil, err
		}
		c.MarkDown(p, err)
		errs = append(errs, err)
	}
	return nil, nil, errors.Join(errs...)
}

// Release returns conn to its pool. A broken conn is closed; the server is
// taken out of rotation only when the break points at the server or the
// network. A garbled frame or a caller cancellation costs just the conn.
func (c *Cluster) Release(p *Pool, conn *Conn, err error) {
	if conn.Broken() && err != nil && serverFault(err) && (c.cfg.Fatal == nil || !c.cfg.Fatal(err)) {
		c.MarkDown(p, err)
	}
	p.Put(conn)
}

func serverFault(err error) bool {
	return !errors.Is(err, wire.ErrCorrupt) && !errors.Is(err, wire.ErrVarintOverflow) && !errors.Is(err, context.Canceled)
}

func (c *Cluster) MarkDown(p *Pool, err error) {
	now := time.Now()
	c.mu.Lock()
	until, ok := c.down[p]
	already := ok && now.Before(until)
	c.down[p] = now.Add(c.cfg.Cooldown)
	c.mu.Unlock()
	if !already && c.cfg.OnUnhealthy != nil {
		c.cfg.OnUnhealthy(p.Addr(), err)
	}
}

// MarkUp puts a server back into rotation before its cool-down ends.
func (c *Cluster) MarkUp(p *Pool) {
	c.mu.Lock()
	delete(c.down, p)
	c.mu.Unlock()
}

func (c *Cluster) Healthy(p *Pool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	until, ok := c.down[p]
	return !ok || time.Now().After(until)
}

func (c *Cluster) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pools := c.pools
	c.mu.Unlock()
	for _, p := range pools {
		p.Close()
	}
}
