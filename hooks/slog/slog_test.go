package sloghook

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestRedactsKeys(t *testing.T) {
	l, buf := newTestLogger()
	h := New(l, Options{})
	h.NearCacheSelfHeal("users", "nc:hotrod:users:alice@example.com", "corrupt")
	out := buf.String()
	if strings.Contains(out, "alice") || !strings.Contains(out, "reason=corrupt") {
		t.Fatalf("log = %q", out)
	}
}

func TestOpSamplingAndFailures(t *testing.T) {
	l, buf := newTestLogger()
	h := New(l, Options{OpEvery: 10, SlowOp: time.Second})
	for i := 0; i < 20; i++ {
		h.OpDone("c", "get", time.Millisecond, nil)
	}
	if n := strings.Count(buf.String(), "hotrod.op "); n != 2 {
		t.Fatalf("sampled %d of 20 ops, want 2", n)
	}
	h.OpDone("c", "put", 2*time.Second, nil)
	h.OpDone("c", "put", time.Millisecond, errors.New("reset"))
	out := buf.String()
	if !strings.Contains(out, "hotrod.op_slow") || !strings.Contains(out, "hotrod.op_failed") {
		t.Fatalf("log = %q", out)
	}
}

func TestNilLogger(t *testing.T) {
	h := New(nil, Options{})
	h.AuthFailed("h:1", "PLAIN", errors.New("no"))
	h.OpDone("c", "get", 0, nil)
}
