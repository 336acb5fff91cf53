package hotrodtest

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/unkn0wn-root/hotrod/internal/wire"
)

type rawClient struct {
	nc  net.Conn
	dec *wire.Decoder
	id  uint64
}

func dial(t *testing.T, s *Server) *rawClient {
	t.Helper()
	nc, err := net.Dial("tcp", s.Addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = nc.Close() })
	_ = nc.SetDeadline(time.Now().Add(5 * time.Second))
	return &rawClient{nc: nc, dec: wire.NewDecoder(bufio.NewReader(nc))}
}

func (c *rawClient) send(t *testing.T, v wire.Version, op wire.Op, cache string, body func(*wire.Encoder)) (wire.ResponseHeader, error) {
	t.Helper()
	c.id++
	e := wire.NewEncoder(64)
	wire.RequestHeader{MsgID: c.id, Version: v, Op: op, Cache: cache, Flags: wire.FlagForceReturnValue}.Encode(e)
	if body != nil {
		body(e)
	}
	if _, err := c.nc.Write(e.Bytes()); err != nil {
		t.Fatal(err)
	}
	c.dec.Reset()
	return wire.ReadResponse(c.dec, c.id, op)
}

func TestPingInfo(t *testing.T) {
	s := NewServer()
	defer s.Close()
	c := dial(t, s)
	if _, err := c.send(t, 30, wire.OpPing, "", nil); err != nil {
		t.Fatal(err)
	}
	info := wire.DecodePingInfo(c.dec)
	if c.dec.Err() != nil || info.ServerVersion != ServerVersion || len(info.Ops) != len(supportedOps) {
		t.Fatalf("ping info %+v err=%v", info, c.dec.Err())
	}
	// pre-3.0 pings carry no body
	if _, err := c.send(t, 28, wire.OpPing, "", nil); err != nil {
		t.Fatal(err)
	}
}

func TestUnknownVersion(t *testing.T) {
	s := NewServer()
	defer s.Close()
	c := dial(t, s)
	_, err := c.send(t, 99, wire.OpPing, "", nil)
	var se *wire.ServerError
	if !errors.As(err, &se) || se.Status != wire.StatusUnknownVersion {
		t.Fatalf("expected unknown version, got %v", err)
	}
}

func TestPutGetWireLevel(t *testing.T) {
	s := NewServer()
	defer s.Close()
	c := dial(t, s)
	put := func(v string) (wire.ResponseHeader, []byte) {
		h, err := c.send(t, 30, wire.OpPut, "", func(e *wire.Encoder) {
			e.Array([]byte("k"))
			wire.Expiration{}.Encode(e)
			e.Array([]byte(v))
		})
		if err != nil {
			t.Fatal(err)
		}
		var prev []byte
		if h.Status.HasPrevious() {
			prev = c.dec.Array()
		}
		return h, prev
	}
	if h, _ := put("1"); h.Status != wire.StatusSuccess {
		t.Fatalf("first put status %s", h.Status)
	}
	if h, prev := put("2"); h.Status != wire.StatusSuccessWithPrevious || string(prev) != "1" {
		t.Fatalf("second put %s %q", h.Status, prev)
	}
	if s.Len("") != 1 {
		t.Fatalf("Len = %d", s.Len(""))
	}
}

func TestAuthRequired(t *testing.T) {
	s := NewServer(WithUser("bob", "secret"))
	defer s.Close()
	c := dial(t, s)
	_, err := c.send(t, 30, wire.OpSize, "", nil)
	var se *wire.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("unauthenticated size: %v", err)
	}

	c = dial(t, s)
	if _, err := c.send(t, 30, wire.OpAuth, "", func(e *wire.Encoder) {
		e.String("PLAIN")
		e.Array([]byte("\x00bob\x00secret"))
	}); err != nil {
		t.Fatalf("auth: %v", err)
	}
	if done := c.dec.Byte(); done != 1 {
		t.Fatalf("auth not complete")
	}
	_ = c.dec.Array()
	if _, err := c.send(t, 30, wire.OpSize, "", nil); err != nil {
		t.Fatalf("size after auth: %v", err)
	}
	if s.AuthSucceeded() != 1 {
		t.Fatalf("AuthSucceeded = %d", s.AuthSucceeded())
	}
}

func TestAdminTasks(t *testing.T) {
	s := NewServer(WithCache("a"))
	defer s.Close()
	c := dial(t, s)
	exec := func(task string, params map[string]string) ([]byte, error) {
		_, err := c.send(t, 30, wire.OpExec, "", func(e *wire.Encoder) {
			e.String(task)
			e.VInt(uint32(len(params)))
			for k, v := range params {
				e.String(k)
				e.Array([]byte(v))
			}
		})
		if err != nil {
			return nil, err
		}
		return c.dec.Array(), nil
	}
	if _, err := exec("@@cache@create", map[string]string{"name": "b", "template": "org.infinispan.LOCAL"}); err != nil {
		t.Fatal(err)
	}
	if _, err := exec("@@cache@create", map[string]string{"name": "a", "template": "org.infinispan.LOCAL"}); err == nil {
		t.Fatalf("duplicate create accepted")
	}
	raw, err := exec("@@cache@names", nil)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil || len(names) != 2 {
		t.Fatalf("names %q err=%v", raw, err)
	}
}

func TestKillConnections(t *testing.T) {
	s := NewServer()
	defer s.Close()
	c := dial(t, s)
	if _, err := c.send(t, 30, wire.OpPing, "", nil); err != nil {
		t.Fatal(err)
	}
	_ = wire.DecodePingInfo(c.dec)
	s.KillConnections()
	if s.OpenConns() != 0 {
		t.Fatalf("OpenConns = %d", s.OpenConns())
	}
	if s.Accepted() != 1 {
		t.Fatalf("Accepted = %d", s.Accepted())
	}
}
