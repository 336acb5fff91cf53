package genstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLocalLoadInOrderWithZeroForMissing(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(LocalOptions{})
	t.Cleanup(func() { _ = s.Close(ctx) })

	for i := 0; i < 2; i++ {
		if _, err := s.Bump(ctx, "b"); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Load(ctx, "a", "b", "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != 0 || got[1] != 2 || got[2] != 0 {
		t.Fatalf("got=%v want [0 2 0]", got)
	}
	if got, _ := s.Load(ctx); len(got) != 0 {
		t.Fatalf("empty load: %v", got)
	}
}

func TestLocalBumpIsMonotonicUnderContention(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(LocalOptions{})
	t.Cleanup(func() { _ = s.Close(ctx) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = s.Bump(ctx, "k")
			}
		}()
	}
	wg.Wait()
	got, _ := s.Load(ctx, "k")
	if got[0] != 800 {
		t.Fatalf("gen=%d want 800", got[0])
	}
}

func TestLocalPruneDropsIdleKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := NewLocal(LocalOptions{Retention: time.Minute, Now: func() time.Time { return now }})
	t.Cleanup(func() { _ = s.Close(ctx) })

	_, _ = s.Bump(ctx, "old")
	now = now.Add(50 * time.Second)
	_, _ = s.Bump(ctx, "fresh")
	now = now.Add(20 * time.Second)

	if n := s.Prune(); n != 1 {
		t.Fatalf("pruned %d keys, want 1", n)
	}
	got, _ := s.Load(ctx, "old", "fresh")
	if got[0] != 0 || got[1] != 1 {
		t.Fatalf("got=%v", got)
	}
}

func TestLocalPruneWithoutRetention(t *testing.T) {
	s := NewLocal(LocalOptions{})
	defer s.Close(context.Background())
	_, _ = s.Bump(context.Background(), "k")
	if s.Prune() != 0 || s.Len() != 1 {
		t.Fatalf("prune without retention removed keys")
	}
}

func TestLocalCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(LocalOptions{Sweep: time.Millisecond, Retention: time.Hour})
	if _, err := s.Bump(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestParseGen(t *testing.T) {
	for _, in := range []any{"7", []byte("7")} {
		if g, err := parseGen(in); err != nil || g != 7 {
			t.Fatalf("%v -> %d, %v", in, g, err)
		}
	}
	if g, err := parseGen(nil); err != nil || g != 0 {
		t.Fatalf("nil -> %d, %v", g, err)
	}
	for _, bad := range []any{"x", int64(7)} {
		if _, err := parseGen(bad); err == nil {
			t.Fatalf("%v: expected error", bad)
		}
	}
}
