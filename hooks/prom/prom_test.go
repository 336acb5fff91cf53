package promhook

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := New(reg, "")
	if err != nil {
		t.Fatal(err)
	}

	h.ConnOpened("h:1")
	h.ConnOpened("h:1")
	h.ConnClosed("h:1")
	h.OpDone("books", "get", 5*time.Millisecond, nil)
	h.OpDone("books", "get", time.Millisecond, errors.New("reset"))
	h.NearCacheLookup("books", true)
	h.NearCacheLookup("books", false)
	h.NearCacheLookup("books", true)
	h.AuthFailed("h:1", "PLAIN", errors.New("no"))

	if got := testutil.ToFloat64(h.openConns.WithLabelValues("h:1")); got != 1 {
		t.Fatalf("open conns = %v", got)
	}
	if got := testutil.ToFloat64(h.ops.WithLabelValues("books", "get", "error")); got != 1 {
		t.Fatalf("failed ops = %v", got)
	}
	if got := testutil.ToFloat64(h.nearLookups.WithLabelValues("books", "hit")); got != 2 {
		t.Fatalf("near hits = %v", got)
	}
	if got := testutil.ToFloat64(h.authFailures.WithLabelValues("h:1", "PLAIN")); got != 1 {
		t.Fatalf("auth failures = %v", got)
	}
	if n := testutil.CollectAndCount(h.opDuration); n != 1 {
		t.Fatalf("histogram series = %d", n)
	}
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg, "app"); err != nil {
		t.Fatal(err)
	}
	if _, err := New(reg, "app"); err == nil {
		t.Fatalf("expected AlreadyRegistered error")
	}
}
