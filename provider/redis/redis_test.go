package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// client connects to the server named by HOTROD_TEST_REDIS or skips.
func client(t *testing.T) goredis.UniversalClient {
	t.Helper()
	addr := os.Getenv("HOTROD_TEST_REDIS")
	if addr == "" {
		t.Skip("HOTROD_TEST_REDIS not set")
	}
	c := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := c.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNilClient(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNilClient) {
		t.Fatalf("got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{Client: client(t), Prefix: "hotrod-test:" + t.Name() + ":"})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(ctx)

	raw := []byte{0, 'x', 0}
	if ok, err := p.Set(ctx, "k", raw, 1, time.Minute); !ok || err != nil {
		t.Fatalf("set ok=%v err=%v", ok, err)
	}
	got, ok, err := p.Get(ctx, "k")
	if err != nil || !ok || string(got) != string(raw) {
		t.Fatalf("get %q %v %v", got, ok, err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := p.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("after delete ok=%v err=%v", ok, err)
	}
}
