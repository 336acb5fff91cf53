package ristretto

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/unkn0wn-root/hotrod/provider"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	cfg := DefaultConfig(1 << 20)
	cfg.Metrics = true
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	raw := []byte{0, 1, 2, 0}
	if ok, err := p.Set(ctx, "nc:a:k", raw, provider.SizeCost("", raw), time.Minute); !ok || err != nil {
		t.Fatalf("set ok=%v err=%v", ok, err)
	}
	p.Wait()
	got, ok, err := p.Get(ctx, "nc:a:k")
	if err != nil || !ok || !bytes.Equal(got, raw) {
		t.Fatalf("get %q %v %v", got, ok, err)
	}
	_ = p.Del(ctx, "nc:a:k")
	if _, ok, _ := p.Get(ctx, "nc:a:k"); ok {
		t.Fatal("hit after delete")
	}
	if p.Metrics() == nil {
		t.Fatal("metrics not enabled")
	}
}

func TestInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("zero config accepted")
	}
}
