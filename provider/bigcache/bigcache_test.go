package bigcache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func newProvider(t *testing.T, maxEntry int) *Provider {
	t.Helper()
	p, err := New(context.Background(), Config{
		LifeWindow:         time.Minute,
		MaxEntriesInWindow: 1024,
		MaxEntrySize:       maxEntry,
		HardMaxCacheSizeMB: 1,
		Shards:             16,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, 256)
	if ok, err := p.Set(ctx, "nc:a:k", []byte("v"), 1, time.Minute); !ok || err != nil {
		t.Fatalf("set ok=%v err=%v", ok, err)
	}
	got, ok, err := p.Get(ctx, "nc:a:k")
	if err != nil || !ok || !bytes.Equal(got, []byte("v")) {
		t.Fatalf("get %q %v %v", got, ok, err)
	}
	if err := p.Del(ctx, "nc:a:k"); err != nil {
		t.Fatal(err)
	}
	if err := p.Del(ctx, "nc:a:k"); err != nil {
		t.Fatalf("deleting a missing key: %v", err)
	}
	if _, ok, err := p.Get(ctx, "nc:a:k"); ok || err != nil {
		t.Fatalf("after delete ok=%v err=%v", ok, err)
	}
}

func TestOversizedEntryIsRejected(t *testing.T) {
	p := newProvider(t, 64)
	ok, err := p.Set(context.Background(), "big", make([]byte, 2<<20), 1, time.Minute)
	if ok || err != nil {
		t.Fatalf("oversized set ok=%v err=%v", ok, err)
	}
}
