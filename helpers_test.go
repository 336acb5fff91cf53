package hotrod

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/hotrod/hotrodtest"
)

func startServer(t *testing.T, opts ...hotrodtest.Option) *hotrodtest.Server {
	t.Helper()
	s := hotrodtest.NewServer(opts...)
	t.Cleanup(s.Close)
	return s
}

// builderFor points a builder at srv with short timeouts.
func builderFor(srv *hotrodtest.Server) *ConfigurationBuilder {
	return NewConfigurationBuilder().
		AddServer(srv.Host(), srv.Port()).
		Protocol("3.0").
		ConnectTimeout(time.Second).
		SocketTimeout(2 * time.Second)
}

func startManager(t *testing.T, b *ConfigurationBuilder) *RemoteCacheManager {
	t.Helper()
	cfg, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	m, err := NewRemoteCacheManager(cfg)
	if err != nil {
		t.Fatalf("NewRemoteCacheManager: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

// deadAddr returns a loopback port nobody listens on.
func deadAddr(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	a := ln.Addr().(*net.TCPAddr)
	_ = ln.Close()
	return "127.0.0.1", a.Port
}

type recordingHooks struct {
	NopHooks
	mu          sync.Mutex
	opened      int
	closed      int
	unhealthy   []string
	authFailed  []string
	ops         map[string]int
	opErrs      int
	nearHits    int
	nearMisses  int
	selfHeals   []string
	setRejected int
}

func newRecordingHooks() *recordingHooks { return &recordingHooks{ops: make(map[string]int)} }

func (h *recordingHooks) ConnOpened(string) {
	h.mu.Lock()
	h.opened++
	h.mu.Unlock()
}

func (h *recordingHooks) ConnClosed(string) {
	h.mu.Lock()
	h.closed++
	h.mu.Unlock()
}

func (h *recordingHooks) ServerUnhealthy(addr string, _ error) {
	h.mu.Lock()
	h.unhealthy = append(h.unhealthy, addr)
	h.mu.Unlock()
}

func (h *recordingHooks) AuthFailed(_ string, mechanism string, _ error) {
	h.mu.Lock()
	h.authFailed = append(h.authFailed, mechanism)
	h.mu.Unlock()
}

func (h *recordingHooks) OpDone(_, op string, _ time.Duration, err error) {
	h.mu.Lock()
	h.ops[op]++
	if err != nil {
		h.opErrs++
	}
	h.mu.Unlock()
}

func (h *recordingHooks) NearCacheLookup(_ string, hit bool) {
	h.mu.Lock()
	if hit {
		h.nearHits++
	} else {
		h.nearMisses++
	}
	h.mu.Unlock()
}

func (h *recordingHooks) NearCacheSelfHeal(_, _, reason string) {
	h.mu.Lock()
	h.selfHeals = append(h.selfHeals, reason)
	h.mu.Unlock()
}

func (h *recordingHooks) NearCacheSetRejected(string, string) {
	h.mu.Lock()
	h.setRejected++
	h.mu.Unlock()
}

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) log(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ Fields) { l.log(msg) }
func (l *recordingLogger) Info(msg string, _ Fields)  { l.log(msg) }
func (l *recordingLogger) Warn(msg string, _ Fields)  { l.log(msg) }
func (l *recordingLogger) Error(msg string, _ Fields) { l.log(msg) }

func (l *recordingLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m == msg {
			return true
		}
	}
	return false
}
