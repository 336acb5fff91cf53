// Package hotrodtest provides an in-process HotRod server for tests, in the
// spirit of net/http/httptest. It keeps entries in memory, speaks every
// operation the client uses and can authenticate with PLAIN and SCRAM-SHA-256.
package hotrodtest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/hotrod/internal/wire"
)

// ServerVersion is the protocol version reported in ping responses.
const ServerVersion wire.Version = 31

// DefaultTemplates are accepted by the create-cache tasks.
var DefaultTemplates = []string{"org.infinispan.LOCAL", "org.infinispan.DIST_SYNC", "org.infinispan.REPL_SYNC"}

type entry struct {
	value    []byte
	version  uint64
	created  time.Time
	lastUsed time.Time
	lifespan time.Duration
	maxIdle  time.Duration
}

func (e *entry) expired(now time.Time) bool {
	if e.lifespan > 0 && now.After(e.created.Add(e.lifespan)) {
		return true
	}
	return e.maxIdle > 0 && now.After(e.lastUsed.Add(e.maxIdle))
}

type store struct {
	entries map[string]*entry
	hits    int64
	misses  int64
	stores  int64
	removes int64
}

func newStore() *store { return &store{entries: make(map[string]*entry)} }

// Server is a running test server. Create it with NewServer and release it
// with Close.
type Server struct {
	// Addr is host:port of the listener.
	Addr string

	ln net.Listener
	wg sync.WaitGroup

	mu        sync.Mutex
	caches    map[string]*store
	templates map[string]bool
	users     map[string]string
	mechs     []string
	denyAdmin bool
	delay     time.Duration
	conns     map[net.Conn]struct{}
	closed    bool
	now       func() time.Time

	versions atomic.Uint64
	accepted atomic.Int64
	authOK   atomic.Int64
	authFail atomic.Int64
	requests atomic.Int64
}

type Option func(*Server)

// WithUser requires authentication and accepts user/password.
func WithUser(user, password string) Option {
	return func(s *Server) { s.users[user] = password }
}

// WithMechanisms overrides the advertised SASL mechanisms.
func WithMechanisms(mechs ...string) Option {
	return func(s *Server) { s.mechs = append([]string(nil), mechs...) }
}

// WithCache predefines a named cache. The default cache "" always exists.
func WithCache(names ...string) Option {
	return func(s *Server) {
		for _, n := range names {
			s.caches[n] = newStore()
		}
	}
}

// WithTemplate adds an accepted cache template name.
func WithTemplate(name string) Option {
	return func(s *Server) { s.templates[name] = true }
}

// WithoutAdmin refuses every admin task as unauthorized.
func WithoutAdmin() Option {
	return func(s *Server) { s.denyAdmin = true }
}

// WithClock replaces time.Now for expiration.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer listens on a random loopback port and serves until Close.
// It panics if it cannot listen, like httptest.NewServer.
func NewServer(opts ...Option) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("hotrodtest: listen: %v", err))
	}
	s := &Server{
		Addr:      ln.Addr().String(),
		ln:        ln,
		caches:    map[string]*store{"": newStore()},
		templates: make(map[string]bool),
		users:     make(map[string]string),
		mechs:     []string{"PLAIN", "SCRAM-SHA-256"},
		conns:     make(map[net.Conn]struct{}),
		now:       time.Now,
	}
	for _, t := range DefaultTemplates {
		s.templates[t] = true
	}
	for _, o := range opts {
		o(s)
	}
	s.wg.Add(1)
	go s.accept()
	return s
}

// Host and Port split Addr for configuration builders.
func (s *Server) Host() string {
	h, _, _ := net.SplitHostPort(s.Addr)
	return h
}

func (s *Server) Port() int {
	_, p, _ := net.SplitHostPort(s.Addr)
	n, _ := strconv.Atoi(p)
	return n
}

// Close stops the listener, drops every connection and waits for the
// handlers to exit.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	_ = s.ln.Close()
	s.wg.Wait()
}

// SetDelay delays every response by d.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// KillConnections closes every open client connection; the listener keeps
// accepting new ones.
func (s *Server) KillConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
		delete(s.conns, c)
	}
}

// Accepted counts connections accepted so far.
func (s *Server) Accepted() int64 { return s.accepted.Load() }

// OpenConns counts connections currently open.
func (s *Server) OpenConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// AuthSucceeded and AuthFailed count finished SASL exchanges.
func (s *Server) AuthSucceeded() int64 { return s.authOK.Load() }
func (s *Server) AuthFailed() int64    { return s.authFail.Load() }

// Requests counts decoded request frames.
func (s *Server) Requests() int64 { return s.requests.Load() }

// HasCache reports whether name is defined.
func (s *Server) HasCache(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	return ok
}

// Len returns the number of live entries of a cache.
func (s *Server) Len(cache string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.caches[cache]
	if !ok {
		return 0
	}
	now := s.now()
	n := 0
	for _, e := range st.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = nc.Close()
			return
		}
		s.conns[nc] = struct{}{}
		s.mu.Unlock()
		s.accepted.Add(1)

		s.wg.Add(1)
		go s.serve(nc)
	}
}

// session is per-connection state.
type session struct {
	authed bool
	scram  *scramSession
}

var errHangUp = errors.New("hang up")

func (s *Server) serve(nc net.Conn) {
	defer s.wg.Done()
	defer func() {
		_ = nc.Close()
		s.mu.Lock()
		delete(s.conns, nc)
		s.mu.Unlock()
	}()

	d := wire.NewDecoder(bufio.NewReader(nc))
	var sess session
	for {
		d.Reset()
		h, err := wire.DecodeRequestHeader(d)
		if err != nil {
			if errors.Is(err, wire.ErrCorrupt) {
				e := wire.NewEncoder(64)
				wire.EncodeError(e, h.MsgID, wire.StatusInvalidMagicOrMsgID, err.Error())
				_, _ = nc.Write(e.Bytes())
			}
			return
		}
		s.requests.Add(1)

		e := wire.NewEncoder(128)
		err = s.handle(&sess, h, d, e)
		if d.Err() != nil {
			e.Reset()
			wire.EncodeError(e, h.MsgID, wire.StatusParseError, d.Err().Error())
			err = errHangUp
		}

		s.mu.Lock()
		delay := s.delay
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if _, werr := nc.Write(e.Bytes()); werr != nil || err != nil {
			return
		}
	}
}

func ok(e *wire.Encoder, h wire.RequestHeader, st wire.Status) {
	wire.ResponseHeader{MsgID: h.MsgID, Op: h.Op.Response(), Status: st}.Encode(e)
}

func fail(e *wire.Encoder, h wire.RequestHeader, st wire.Status, format string, args ...any) {
	wire.EncodeError(e, h.MsgID, st, fmt.Sprintf(format, args...))
}

func (s *Server) authRequired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users) > 0
}

// handle writes the answer to one request into e. A non-nil error closes the
// connection after the answer is written.
func (s *Server) handle(sess *session, h wire.RequestHeader, d *wire.Decoder, e *wire.Encoder) error {
	if !h.Version.Known() {
		fail(e, h, wire.StatusUnknownVersion, "unknown version %d", byte(h.Version))
		return errHangUp
	}
	switch h.Op {
	case wire.OpPing:
		ok(e, h, wire.StatusSuccess)
		if h.Version.HasPingInfo() {
			wire.PingInfo{ServerVersion: ServerVersion, Ops: supportedOps}.Encode(e)
		}
		return nil
	case wire.OpAuthMechList:
		ok(e, h, wire.StatusSuccess)
		s.mu.Lock()
		e.VInt(uint32(len(s.mechs)))
		for _, m := range s.mechs {
			e.String(m)
		}
		s.mu.Unlock()
		return nil
	case wire.OpAuth:
		return s.auth(sess, h, d, e)
	}

	if s.authRequired() && !sess.authed {
		// the body is left unread, so the connection cannot continue
		fail(e, h, wire.StatusServerError, "unauthorized: authentication required")
		return errHangUp
	}
	if h.Op == wire.OpExec {
		return s.exec(h, d, e)
	}
	if !h.Op.IsRequest() {
		fail(e, h, wire.StatusUnknownCommand, "unknown command 0x%02x", byte(h.Op))
		return errHangUp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, found := s.caches[h.Cache]
	if !found {
		// consume the body against a scratch store to stay in sync
		s.data(newStore(), h, d, wire.NewEncoder(64))
		fail(e, h, wire.StatusServerError, "cache '%s' not found", h.Cache)
		return nil
	}
	s.data(st, h, d, e)
	return nil
}

var supportedOps = []wire.Op{
	wire.OpPut, wire.OpGet, wire.OpPutIfAbsent, wire.OpReplace, wire.OpReplaceIfUnmodified,
	wire.OpRemove, wire.OpRemoveIfUnmodified, wire.OpContainsKey, wire.OpGetWithVersion,
	wire.OpClear, wire.OpStats, wire.OpPing, wire.OpBulkGet, wire.OpBulkGetKeys, wire.OpAuthMechList,
	wire.OpAuth, wire.OpSize, wire.OpExec, wire.OpPutAll, wire.OpGetAll,
}

// lookup returns the live entry for key, dropping it if it expired.
func (s *Server) lookup(st *store, key []byte) *entry {
	en, found := st.entries[string(key)]
	if !found {
		return nil
	}
	now := s.now()
	if en.expired(now) {
		delete(st.entries, string(key))
		return nil
	}
	en.lastUsed = now
	return en
}

func (s *Server) put(st *store, key, value []byte, x wire.Expiration) {
	now := s.now()
	st.entries[string(key)] = &entry{
		value:    bytes.Clone(value),
		version:  s.versions.Add(1),
		created:  now,
		lastUsed: now,
		lifespan: x.Lifespan,
		maxIdle:  x.MaxIdle,
	}
	st.stores++
}

// withPrev answers with the previous value when the client asked for it.
func withPrev(e *wire.Encoder, h wire.RequestHeader, executed bool, prev *entry) {
	if prev == nil || h.Flags&wire.FlagForceReturnValue == 0 {
		if executed {
			ok(e, h, wire.StatusSuccess)
		} else {
			ok(e, h, wire.StatusNotExecuted)
		}
		return
	}
	if executed {
		ok(e, h, wire.StatusSuccessWithPrevious)
	} else {
		ok(e, h, wire.StatusNotExecutedWithPrevious)
	}
	e.Array(prev.value)
}

func (s *Server) data(st *store, h wire.RequestHeader, d *wire.Decoder, e *wire.Encoder) {
	switch h.Op {
	case wire.OpGet:
		key := d.Array()
		if en := s.lookup(st, key); en != nil {
			st.hits++
			ok(e, h, wire.StatusSuccess)
			e.Array(en.value)
			return
		}
		st.misses++
		ok(e, h, wire.StatusKeyDoesNotExist)

	case wire.OpPut:
		key, x, val := d.Array(), wire.DecodeExpiration(d), d.Array()
		if d.Err() != nil {
			return
		}
		prev := s.lookup(st, key)
		s.put(st, key, val, x)
		withPrev(e, h, true, prev)

	case wire.OpPutIfAbsent:
		key, x, val := d.Array(), wire.DecodeExpiration(d), d.Array()
		if d.Err() != nil {
			return
		}
		if prev := s.lookup(st, key); prev != nil {
			withPrev(e, h, false, prev)
			return
		}
		s.put(st, key, val, x)
		ok(e, h, wire.StatusSuccess)

	case wire.OpReplace:
		key, x, val := d.Array(), wire.DecodeExpiration(d), d.Array()
		if d.Err() != nil {
			return
		}
		prev := s.lookup(st, key)
		if prev == nil {
			ok(e, h, wire.StatusNotExecuted)
			return
		}
		s.put(st, key, val, x)
		withPrev(e, h, true, prev)

	case wire.OpRemove:
		key := d.Array()
		prev := s.lookup(st, key)
		if prev == nil {
			st.misses++
			ok(e, h, wire.StatusKeyDoesNotExist)
			return
		}
		delete(st.entries, string(key))
		st.removes++
		withPrev(e, h, true, prev)

	case wire.OpContainsKey:
		if s.lookup(st, d.Array()) != nil {
			ok(e, h, wire.StatusSuccess)
		} else {
			ok(e, h, wire.StatusKeyDoesNotExist)
		}

	case wire.OpGetWithVersion:
		en := s.lookup(st, d.Array())
		if en == nil {
			ok(e, h, wire.StatusKeyDoesNotExist)
			return
		}
		ok(e, h, wire.StatusSuccess)
		e.Uint64(en.version)
		e.Array(en.value)

	case wire.OpReplaceIfUnmodified:
		key, x, ver, val := d.Array(), wire.DecodeExpiration(d), d.Uint64(), d.Array()
		if d.Err() != nil {
			return
		}
		en := s.lookup(st, key)
		switch {
		case en == nil:
			ok(e, h, wire.StatusKeyDoesNotExist)
		case en.version != ver:
			ok(e, h, wire.StatusNotExecuted)
		default:
			s.put(st, key, val, x)
			ok(e, h, wire.StatusSuccess)
		}

	case wire.OpRemoveIfUnmodified:
		key, ver := d.Array(), d.Uint64()
		en := s.lookup(st, key)
		switch {
		case en == nil:
			ok(e, h, wire.StatusKeyDoesNotExist)
		case en.version != ver:
			ok(e, h, wire.StatusNotExecuted)
		default:
			delete(st.entries, string(key))
			st.removes++
			ok(e, h, wire.StatusSuccess)
		}

	case wire.OpBulkGet:
		limit := int(d.VInt())
		ok(e, h, wire.StatusSuccess)
		keys := make([]string, 0, len(st.entries))
		now := s.now()
		for k, en := range st.entries {
			if !en.expired(now) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		if limit > 0 && len(keys) > limit {
			keys = keys[:limit]
		}
		for _, k := range keys {
			e.Byte(1)
			e.Array([]byte(k))
			e.Array(st.entries[k].value)
		}
		e.Byte(0)
	case wire.OpBulkGetKeys:
		_ = d.VInt() // scope
		ok(e, h, wire.StatusSuccess)
		keys := make([]string, 0, len(st.entries))
		now := s.now()
		for k, en := range st.entries {
			if !en.expired(now) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.Byte(1)
			e.Array([]byte(k))
		}
		e.Byte(0)

	case wire.OpGetAll:
		n := d.VInt()
		type pair struct{ k, v []byte }
		var found []pair
		for i := uint32(0); i < n && d.Err() == nil; i++ {
			k := d.Array()
			if en := s.lookup(st, k); en != nil {
				found = append(found, pair{k, en.value})
			}
		}
		ok(e, h, wire.StatusSuccess)
		e.VInt(uint32(len(found)))
		for _, p := range found {
			e.Array(p.k)
			e.Array(p.v)
		}

	case wire.OpPutAll:
		x := wire.DecodeExpiration(d)
		n := d.VInt()
		for i := uint32(0); i < n && d.Err() == nil; i++ {
			k, v := d.Array(), d.Array()
			if d.Err() == nil {
				s.put(st, k, v, x)
			}
		}
		ok(e, h, wire.StatusSuccess)

	case wire.OpSize:
		now := s.now()
		var n uint64
		for _, en := range st.entries {
			if !en.expired(now) {
				n++
			}
		}
		ok(e, h, wire.StatusSuccess)
		e.VLong(n)

	case wire.OpClear:
		st.entries = make(map[string]*entry)
		ok(e, h, wire.StatusSuccess)

	case wire.OpStats:
		stats := map[string]string{
			"currentNumberOfEntries": strconv.Itoa(len(st.entries)),
			"hits":                   strconv.FormatInt(st.hits, 10),
			"misses":                 strconv.FormatInt(st.misses, 10),
			"stores":                 strconv.FormatInt(st.stores, 10),
			"removeHits":             strconv.FormatInt(st.removes, 10),
		}
		names := make([]string, 0, len(stats))
		for k := range stats {
			names = append(names, k)
		}
		sort.Strings(names)
		ok(e, h, wire.StatusSuccess)
		e.VInt(uint32(len(names)))
		for _, k := range names {
			e.String(k)
			e.String(stats[k])
		}

	default:
		fail(e, h, wire.StatusUnknownCommand, "unsupported %s", h.Op)
	}
}

func (s *Server) exec(h wire.RequestHeader, d *wire.Decoder, e *wire.Encoder) error {
	task := d.String()
	n := d.VInt()
	params := make(map[string]string, n)
	for i := uint32(0); i < n && d.Err() == nil; i++ {
		k := d.String()
		params[k] = string(d.Array())
	}
	if d.Err() != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denyAdmin {
		fail(e, h, wire.StatusServerError, "unauthorized: %s requires ADMIN permission", task)
		return nil
	}
	name := params["name"]
	switch task {
	case "@@cache@create", "@@cache@getorcreate":
		if _, exists := s.caches[name]; exists {
			if task == "@@cache@create" {
				fail(e, h, wire.StatusServerError, "cache '%s' already exists", name)
				return nil
			}
		} else {
			if err := s.checkDefinition(params); err != nil {
				fail(e, h, wire.StatusServerError, "cache '%s': %v", name, err)
				return nil
			}
			s.caches[name] = newStore()
		}
		ok(e, h, wire.StatusSuccess)
		e.Array(nil)
	case "@@cache@remove":
		delete(s.caches, name)
		ok(e, h, wire.StatusSuccess)
		e.Array(nil)
	case "@@cache@names":
		names := make([]string, 0, len(s.caches))
		for n := range s.caches {
			if n != "" {
				names = append(names, n)
			}
		}
		sort.Strings(names)
		b, _ := json.Marshal(names)
		ok(e, h, wire.StatusSuccess)
		e.Array(b)
	default:
		fail(e, h, wire.StatusServerError, "unknown task %q", task)
	}
	return nil
}

func (s *Server) checkDefinition(params map[string]string) error {
	if params["name"] == "" {
		return errors.New("name is required")
	}
	if t, set := params["template"]; set {
		if !s.templates[t] {
			return fmt.Errorf("unknown template %q", t)
		}
		return nil
	}
	cfg := bytes.TrimSpace([]byte(params["configuration"]))
	switch {
	case len(cfg) == 0:
		return nil
	case cfg[0] == '{':
		if !json.Valid(cfg) {
			return errors.New("invalid JSON configuration")
		}
	case cfg[0] == '<':
		if !bytes.HasSuffix(cfg, []byte(">")) {
			return errors.New("invalid XML configuration")
		}
	default:
		return errors.New("unrecognised configuration")
	}
	return nil
}
