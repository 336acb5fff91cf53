package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/hotrod/hotrodtest"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out, zap.NewNop())
	root.SetArgs(args)
	root.SetErr(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	srv := hotrodtest.NewServer(hotrodtest.WithUser("bob", "secret"))
	t.Cleanup(srv.Close)
	t.Setenv("HOTROD_SERVERS", srv.Addr)
	t.Setenv("HOTROD_SASL_MECHANISM", "SCRAM-SHA-256")
	t.Setenv("HOTROD_SASL_USER", "bob")

	steps := []struct {
		args []string
		want string
		err  error
	}{
		{[]string{"put", "greeting", "hello"}, "", nil},
		{[]string{"get", "greeting"}, "hello\n", nil},
		{[]string{"contains", "greeting"}, "true\n", nil},
		{[]string{"put", "other", "x", "--lifespan", "1h"}, "", nil},
		{[]string{"keys"}, "greeting\nother\n", nil},
		{[]string{"size"}, "2\n", nil},
		{[]string{"remove", "other"}, "x\n", nil},
		{[]string{"get", "other"}, "", errNotFound},
		{[]string{"create-cache", "books", "org.infinispan.LOCAL"}, "", nil},
		{[]string{"put", "k", "v", "--cache=books"}, "", nil},
		{[]string{"caches"}, "books\n", nil},
		{[]string{"clear"}, "", nil},
		{[]string{"size"}, "0\n", nil},
	}
	for _, s := range steps {
		// the password variable is consumed by every run
		t.Setenv("HOTROD_SASL_PASSWORD", "secret")
		got, err := runCmd(t, s.args...)
		if !errors.Is(err, s.err) || (s.err == nil && err != nil) {
			t.Fatalf("%v: err = %v, want %v", s.args, err, s.err)
		}
		if got != s.want {
			t.Fatalf("%v: output %q, want %q", s.args, got, s.want)
		}
	}
	if srv.Len("books") != 1 {
		t.Fatalf("put --cache did not reach the named cache")
	}
}

func TestPing(t *testing.T) {
	srv := hotrodtest.NewServer()
	t.Cleanup(srv.Close)
	t.Setenv("HOTROD_SERVERS", srv.Addr)
	got, err := runCmd(t, "ping", "--timeout", "5s")
	if err != nil || !strings.HasPrefix(got, "pong ") {
		t.Fatalf("ping: %q %v", got, err)
	}
}

func TestUsageErrors(t *testing.T) {
	if _, err := runCmd(t, "frobnicate"); err == nil {
		t.Fatalf("unknown command accepted")
	}
	if _, err := runCmd(t, "get"); err == nil {
		t.Fatalf("missing argument accepted")
	}
	if _, err := runCmd(t, "size", "--bogus", "1"); err == nil {
		t.Fatalf("unknown flag accepted")
	}
	if _, err := runCmd(t, "size", "--timeout"); err == nil {
		t.Fatalf("flag without value accepted")
	}
	if out, err := runCmd(t, "version"); err != nil || !strings.Contains(out, version) {
		t.Fatalf("version: %q %v", out, err)
	}
}

func TestPersistentFlags(t *testing.T) {
	root := newRootCmd(io.Discard, zap.NewNop())
	var gotArgs []string
	var gotCache string
	var gotTimeout time.Duration
	var verbose bool
	root.AddCommand(&cobra.Command{
		Use: "inspect",
		Run: func(cmd *cobra.Command, args []string) {
			gotArgs = args
			gotCache, _ = cmd.Flags().GetString("cache")
			gotTimeout, _ = cmd.Flags().GetDuration("timeout")
			verbose, _ = cmd.Flags().GetBool("verbose")
		},
	})
	root.SetArgs([]string{"inspect", "k", "--cache", "c", "--timeout=2s", "v", "-v"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if len(gotArgs) != 2 || gotCache != "c" || gotTimeout != 2*time.Second || !verbose {
		t.Fatalf("args=%v cache=%q timeout=%v verbose=%v", gotArgs, gotCache, gotTimeout, verbose)
	}
}

func TestPutVerbosePrintsPrevious(t *testing.T) {
	srv := hotrodtest.NewServer()
	t.Cleanup(srv.Close)
	t.Setenv("HOTROD_SERVERS", srv.Addr)
	if _, err := runCmd(t, "put", "k", "1"); err != nil {
		t.Fatal(err)
	}
	got, err := runCmd(t, "put", "k", "2", "--verbose")
	if err != nil || got != "previous: 1\n" {
		t.Fatalf("put --verbose: %q %v", got, err)
	}
}
