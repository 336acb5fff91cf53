package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/unkn0wn-root/hotrod/internal/wire"
)

// Handshake runs on every new connection before it is handed out.
type Handshake func(ctx context.Context, c *Conn) error

type PoolConfig struct {
	Addr           string
	Version        wire.Version
	MaxConns       int
	ConnectTimeout time.Duration
	SocketTimeout  time.Duration
	MaxArray       int
	TLS            *tls.Config
	Handshake      Handshake

	// OnOpen and OnClose observe connection lifecycle. Optional.
	OnOpen  func(addr string)
	OnClose func(addr string)
}

// Pool keeps up to MaxConns connections to one server. Idle connections wait
// in a channel; every open connection holds one slot.
type Pool struct {
	cfg   PoolConfig
	idle  chan *Conn
	slots chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 1
	}
	return &Pool{
		cfg:   cfg,
		idle:  make(chan *Conn, cfg.MaxConns),
		slots: make(chan struct{}, cfg.MaxConns),
	}
}

func (p *Pool) Addr() string { return p.cfg.Addr }

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Get returns an idle connection or dials a new one. When the pool is full it
// waits for a connection or slot until ctx ends.
func (p *Pool) Get(ctx context.Context) (*Conn, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	select {
	case c := <-p.idle:
		return c, nil
	default:
	}
	select {
	case c := <-p.idle:
		return c, nil
	case p.slots <- struct{}{}:
		// the slot may have been freed by Close discarding a returned conn
		if p.isClosed() {
			<-p.slots
			return nil, ErrClosed
		}
		c, err := p.dial(ctx)
		if err != nil {
			<-p.slots
			return nil, err
		}
		if p.isClosed() {
			p.discard(c)
			return nil, ErrClosed
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dial opens a connection outside the idle set and puts it in the pool on
// success. Used by the manager to open the first connection per server.
func (p *Pool) Dial(ctx context.Context) error {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	p.Put(c)
	return nil
}

func (p *Pool) dial(ctx context.Context) (*Conn, error) {
	dctx := ctx
	if p.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
	}
	d := net.Dialer{}
	nc, err := d.DialContext(dctx, "tcp", p.cfg.Addr)
	if err != nil {
		return nil, err
	}
	if p.cfg.TLS != nil {
		tc := tls.Client(nc, p.cfg.TLS)
		if err := tc.HandshakeContext(dctx); err != nil {
			_ = nc.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", p.cfg.Addr, err)
		}
		nc = tc
	}
	c := newConn(nc, p.cfg.Addr, p.cfg.Version, p.cfg.SocketTimeout, p.cfg.MaxArray)
	if p.cfg.Handshake != nil {
		if err := p.cfg.Handshake(dctx, c); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	if p.cfg.OnOpen != nil {
		p.cfg.OnOpen(p.cfg.Addr)
	}
	return c, nil
}

// Put returns c to the pool. Broken connections and connections returned to a
// closed pool are closed instead.
func (p *Pool) Put(c *Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	closed := p.closed
	if !closed && !c.broken {
		select {
		case p.idle <- c:
			p.mu.Unlock()
			return
		default:
		}
	}
	p.mu.Unlock()
	p.discard(c)
}

func (p *Pool) discard(c *Conn) {
	_ = c.Close()
	<-p.slots
	if p.cfg.OnClose != nil {
		p.cfg.OnClose(p.cfg.Addr)
	}
}

// Open returns the number of open connections, idle or in use.
func (p *Pool) Open() int { return len(p.slots) }

// Close closes idle connections and makes later Get calls fail. Connections in
// use are closed when they are returned.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	for {
		select {
		case c := <-p.idle:
			p.discard(c)
		default:
			return
		}
	}
}
