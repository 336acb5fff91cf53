package hotrod

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/unkn0wn-root/hotrod/internal/transport"
	"github.com/unkn0wn-root/hotrod/internal/wire"
	"github.com/unkn0wn-root/hotrod/sasl"
)

type managerState int

const (
	stateNew managerState = iota
	stateStarted
	stateStopped
)

// RemoteCacheManager owns the connections to the configured servers.
// Lifecycle: new -> started -> stopped; a stopped manager cannot be restarted.
// All methods are safe for concurrent use.
type RemoteCacheManager struct {
	cfg   *Configuration
	log   Logger
	hooks Hooks

	mu      sync.RWMutex
	state   managerState
	cluster *transport.Cluster
}

// NewRemoteCacheManager binds a manager to cfg. A configuration backs at most
// one manager.
func NewRemoteCacheManager(cfg *Configuration) (*RemoteCacheManager, error) {
	if cfg == nil {
		return nil, &ConfigError{Reason: "nil configuration"}
	}
	if !cfg.claimed.CompareAndSwap(false, true) {
		return nil, &ConfigError{Reason: "configuration already backs a manager"}
	}
	return &RemoteCacheManager{cfg: cfg, log: cfg.logger, hooks: cfg.hooks}, nil
}

func (m *RemoteCacheManager) Configuration() *Configuration { return m.cfg }

func (m *RemoteCacheManager) IsStarted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == stateStarted
}

// Start opens one connection per server, in configured order, running the
// ping handshake and SASL negotiation on each. Unreachable servers are marked
// unhealthy; Start fails only if none is reachable, or at the first
// authentication or protocol failure, which also stops the manager.
func (m *RemoteCacheManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case stateStarted:
		return nil
	case stateStopped:
		return &NotConnectedError{Op: "start"}
	}

	pools := make([]*transport.Pool, 0, len(m.cfg.servers))
	for _, s := range m.cfg.servers {
		pools = append(pools, transport.NewPool(transport.PoolConfig{
			Addr:           s.String(),
			Version:        m.cfg.version,
			MaxConns:       m.cfg.maxConns,
			ConnectTimeout: m.cfg.connectTimeout,
			SocketTimeout:  m.cfg.socketTimeout,
			TLS:            m.cfg.tls,
			Handshake:      m.handshake,
			OnOpen:         m.connOpened,
			OnClose:        m.connClosed,
		}))
	}
	cluster := transport.NewCluster(pools, transport.ClusterConfig{
		Fatal: func(err error) bool {
			return errors.Is(err, ErrAuth) || errors.Is(err, ErrProtocol)
		},
		OnUnhealthy: m.serverUnhealthy,
	})

	var errs []error
	reachable := 0
	for _, p := range pools {
		err := p.Dial(ctx)
		if err == nil {
			reachable++
			continue
		}
		err = classify(p.Addr(), "start", err)
		if errors.Is(err, ErrAuth) || errors.Is(err, ErrProtocol) {
			cluster.Close()
			m.state = stateStopped
			m.log.Error("hotrod start failed", Fields{"server": p.Addr(), "err": err})
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			cluster.Close()
			return ctxErr
		}
		cluster.MarkDown(p, err)
		errs = append(errs, err)
	}
	if reachable == 0 {
		cluster.Close()
		return &TransportError{Op: "start", Err: fmt.Errorf("no server reachable: %w", errors.Join(errs...))}
	}

	m.cluster = cluster
	m.state = stateStarted
	m.log.Info("hotrod manager started", Fields{
		"servers":   len(pools),
		"reachable": reachable,
		"protocol":  m.cfg.protocol,
		"sasl":      m.cfg.SaslMechanism(),
	})
	return nil
}

// Stop closes every connection. Handles created from this manager fail with
// NotConnectedError afterwards. Stop is idempotent.
func (m *RemoteCacheManager) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateStopped {
		return nil
	}
	wasStarted := m.state == stateStarted
	m.state = stateStopped
	if m.cluster != nil {
		m.cluster.Close()
		m.cluster = nil
	}
	if wasStarted {
		m.log.Info("hotrod manager stopped", nil)
	}
	return nil
}

func (m *RemoteCacheManager) active(op string) (*transport.Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != stateStarted {
		return nil, &NotConnectedError{Op: op}
	}
	return m.cluster, nil
}

// do runs one round trip, retrying transport and timeout failures on another
// connection when MaxRetries allows it.
func (m *RemoteCacheManager) do(ctx context.Context, op string, req transport.Request, read transport.ReadFunc) error {
	cl, err := m.active(op)
	if err != nil {
		return err
	}
	attempts := 1 + m.cfg.maxRetries
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			m.log.Debug("hotrod retry", Fields{"op": op, "attempt": i + 1, "err": lastErr})
		}
		conn, pool, err := cl.Acquire(ctx)
		if err != nil {
			lastErr = classify("", op, err)
			if !retryable(lastErr) {
				return lastErr
			}
			continue
		}
		err = conn.Do(ctx, req, read)
		cl.Release(pool, conn, err)
		if err == nil {
			return nil
		}
		lastErr = classify(pool.Addr(), op, err)
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// handshake runs on every new connection.
func (m *RemoteCacheManager) handshake(ctx context.Context, c *transport.Conn) error {
	var info wire.PingInfo
	err := c.Do(ctx, transport.Request{Op: wire.OpPing}, func(_ wire.ResponseHeader, d *wire.Decoder) error {
		if c.Version().HasPingInfo() {
			info = wire.DecodePingInfo(d)
		}
		return d.Err()
	})
	if err != nil {
		return classify(c.Addr(), "ping", err)
	}
	if info.ServerVersion != 0 {
		m.log.Debug("hotrod ping", Fields{"server": c.Addr(), "serverVersion": info.ServerVersion.String(), "ops": len(info.Ops)})
	}

	sc := m.cfg.sasl
	if sc == nil {
		return nil
	}
	cb, release := sc.callbacks()
	defer release()
	n := sasl.NewNegotiator(sc.mechanism, sc.serverName, cb, m.cfg.maxAuthRounds)
	if err := n.Run(ctx, &exchanger{conn: c}); err != nil {
		if !authFailure(err) {
			return classify(c.Addr(), "auth", err)
		}
		m.hooks.AuthFailed(c.Addr(), sc.mechanism, err)
		m.log.Warn("hotrod authentication failed", Fields{
			"server": c.Addr(), "mechanism": sc.mechanism, "state": n.State().String(), "err": err,
		})
		return &AuthError{Addr: c.Addr(), Mechanism: sc.mechanism, Err: err}
	}
	m.log.Debug("hotrod authenticated", Fields{"server": c.Addr(), "mechanism": sc.mechanism, "rounds": n.Rounds()})
	return nil
}

func authFailure(err error) bool {
	for _, s := range []error{
		sasl.ErrRejected, sasl.ErrMechanismNotOffered, sasl.ErrTooManyRounds,
		sasl.ErrServerVerification, sasl.ErrMissingCredential, sasl.ErrUnexpectedChallenge,
		sasl.ErrUnknownMechanism,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

func (m *RemoteCacheManager) connOpened(addr string) {
	m.hooks.ConnOpened(addr)
	m.log.Debug("hotrod connection opened", Fields{"server": addr})
}

func (m *RemoteCacheManager) connClosed(addr string) {
	m.hooks.ConnClosed(addr)
	m.log.Debug("hotrod connection closed", Fields{"server": addr})
}

func (m *RemoteCacheManager) serverUnhealthy(addr string, err error) {
	m.hooks.ServerUnhealthy(addr, err)
	m.log.Warn("hotrod server unhealthy", Fields{"server": addr, "err": err, "cooldown": transport.DefaultCooldown.String()})
}

// exchanger carries SASL messages over one connection.
type exchanger struct {
	conn *transport.Conn
}

// maxMechanisms bounds the mechanism list a server may send.
const maxMechanisms = 64

func (x *exchanger) Mechanisms(ctx context.Context) ([]string, error) {
	var mechs []string
	err := x.conn.Do(ctx, transport.Request{Op: wire.OpAuthMechList}, func(_ wire.ResponseHeader, d *wire.Decoder) error {
		n := d.VInt()
		if n > maxMechanisms {
			d.Fail(fmt.Errorf("%w: %d mechanisms", wire.ErrCorrupt, n))
			return d.Err()
		}
		for i := uint32(0); i < n && d.Err() == nil; i++ {
			mechs = append(mechs, d.String())
		}
		return d.Err()
	})
	return mechs, err
}

func (x *exchanger) Exchange(ctx context.Context, mech string, response []byte) (bool, []byte, error) {
	var done bool
	var challenge []byte
	err := x.conn.Do(ctx, transport.Request{
		Op: wire.OpAuth,
		Body: func(e *wire.Encoder) {
			e.String(mech)
			e.Array(response)
		},
	}, func(_ wire.ResponseHeader, d *wire.Decoder) error {
		done = d.Byte() != 0
		challenge = d.Array()
		return d.Err()
	})
	var se *wire.ServerError
	if errors.As(err, &se) {
		return false, nil, fmt.Errorf("%w: %s", sasl.ErrRejected, se.Message)
	}
	return done, challenge, err
}
