package wire

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
	"time"
)

func decoderFor(b []byte) *Decoder {
	return NewDecoder(bufio.NewReader(bytes.NewReader(b)))
}

func TestVarintRoundTrip(t *testing.T) {
	longs := []uint64{0, 1, 127, 128, 300, 1 << 32, math.MaxUint64}
	for _, v := range longs {
		e := NewEncoder(16)
		e.VLong(v)
		d := decoderFor(e.Bytes())
		if got := d.VLong(); got != v || d.Err() != nil {
			t.Fatalf("VLong %d: got %d err=%v", v, got, d.Err())
		}
	}
	ints := []uint32{0, 1, 127, 128, 16384, math.MaxUint32}
	for _, v := range ints {
		e := NewEncoder(8)
		e.VInt(v)
		if len(e.Bytes()) > maxVIntBytes {
			t.Fatalf("VInt %d used %d bytes", v, len(e.Bytes()))
		}
		d := decoderFor(e.Bytes())
		if got := d.VInt(); got != v || d.Err() != nil {
			t.Fatalf("VInt %d: got %d err=%v", v, got, d.Err())
		}
	}
}

func TestVarintKnownEncoding(t *testing.T) {
	e := NewEncoder(4)
	e.VInt(300)
	if !bytes.Equal(e.Bytes(), []byte{0xAC, 0x02}) {
		t.Fatalf("300 encoded as %x", e.Bytes())
	}
}

func TestVIntOverflow(t *testing.T) {
	d := decoderFor([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01})
	_ = d.VInt()
	if !errors.Is(d.Err(), ErrVarintOverflow) {
		t.Fatalf("expected overflow, got %v", d.Err())
	}
}

func TestArrayAndStringRoundTrip(t *testing.T) {
	e := NewEncoder(32)
	e.Array([]byte{0, 1, 0, 2})
	e.Array(nil)
	e.String("cache")
	e.Uint16(0xBEEF)
	e.Uint64(42)

	d := decoderFor(e.Bytes())
	if got := d.Array(); !bytes.Equal(got, []byte{0, 1, 0, 2}) {
		t.Fatalf("array: %x", got)
	}
	if got := d.Array(); got == nil || len(got) != 0 {
		t.Fatalf("empty array should be empty non-nil, got %#v", got)
	}
	if got := d.String(); got != "cache" {
		t.Fatalf("string: %q", got)
	}
	if got := d.Uint16(); got != 0xBEEF {
		t.Fatalf("uint16: %x", got)
	}
	if got := d.Uint64(); got != 42 {
		t.Fatalf("uint64: %d", got)
	}
	if d.Err() != nil {
		t.Fatalf("unexpected err: %v", d.Err())
	}
}

func TestArrayTruncatedIsSticky(t *testing.T) {
	e := NewEncoder(8)
	e.Array([]byte("abcdef"))
	trunc := e.Bytes()[:4]

	d := decoderFor(trunc)
	if got := d.Array(); got != nil {
		t.Fatalf("expected nil on truncation, got %q", got)
	}
	if !errors.Is(d.Err(), io.ErrUnexpectedEOF) && !errors.Is(d.Err(), io.EOF) {
		t.Fatalf("expected EOF error, got %v", d.Err())
	}
	// later reads keep failing with the first error
	first := d.Err()
	_ = d.Byte()
	if d.Err() != first {
		t.Fatalf("sticky error replaced: %v", d.Err())
	}
}

func TestArrayLimit(t *testing.T) {
	e := NewEncoder(8)
	e.VInt(1 << 20)
	d := decoderFor(e.Bytes())
	d.SetMaxArray(1024)
	_ = d.Array()
	if !errors.Is(d.Err(), ErrCorrupt) {
		t.Fatalf("expected corrupt on oversize array, got %v", d.Err())
	}
}

func TestRequestHeaderRoundTrip(t *testing.T) {
	for _, v := range []string{"2.4", "2.8", "3.0"} {
		ver, err := ParseVersion(v)
		if err != nil {
			t.Fatalf("ParseVersion(%s): %v", v, err)
		}
		h := RequestHeader{MsgID: 99, Version: ver, Op: OpPut, Cache: "books", Flags: FlagForceReturnValue}
		e := NewEncoder(32)
		h.Encode(e)
		e.Byte(0x7E) // body marker

		d := decoderFor(e.Bytes())
		got, err := DecodeRequestHeader(d)
		if err != nil {
			t.Fatalf("decode %s: %v", v, err)
		}
		if got != h {
			t.Fatalf("header mismatch for %s: got %+v want %+v", v, got, h)
		}
		if b := d.Byte(); b != 0x7E {
			t.Fatalf("header for %s consumed wrong number of bytes", v)
		}
	}
}

func TestRequestHeaderBadMagic(t *testing.T) {
	if _, err := DecodeRequestHeader(decoderFor([]byte{0x42, 0x00})); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected corrupt, got %v", err)
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("3.0")
	if err != nil || v != 30 || v.String() != "3.0" {
		t.Fatalf("3.0 -> %d %v", v, err)
	}
	for _, bad := range []string{"", "1.0", "3", "3.0.1", "abc"} {
		if _, err := ParseVersion(bad); !errors.Is(err, ErrUnknownVersion) {
			t.Fatalf("ParseVersion(%q) err=%v", bad, err)
		}
	}
	if Version(99).Known() {
		t.Fatalf("9.9 should not be known")
	}
}

func TestReadResponse(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		e := NewEncoder(16)
		ResponseHeader{MsgID: 7, Op: OpGet.Response(), Status: StatusSuccess}.Encode(e)
		h, err := ReadResponse(decoderFor(e.Bytes()), 7, OpGet)
		if err != nil || h.Status != StatusSuccess {
			t.Fatalf("h=%+v err=%v", h, err)
		}
	})

	t.Run("error frame", func(t *testing.T) {
		e := NewEncoder(32)
		EncodeError(e, 7, StatusServerError, "cache 'x' not found")
		_, err := ReadResponse(decoderFor(e.Bytes()), 7, OpGet)
		var se *ServerError
		if !errors.As(err, &se) || se.Status != StatusServerError || se.Message != "cache 'x' not found" {
			t.Fatalf("expected server error, got %v", err)
		}
	})

	t.Run("id mismatch", func(t *testing.T) {
		e := NewEncoder(16)
		ResponseHeader{MsgID: 8, Op: OpGet.Response()}.Encode(e)
		if _, err := ReadResponse(decoderFor(e.Bytes()), 7, OpGet); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("expected corrupt, got %v", err)
		}
	})

	t.Run("wrong op", func(t *testing.T) {
		e := NewEncoder(16)
		ResponseHeader{MsgID: 7, Op: OpPut.Response()}.Encode(e)
		if _, err := ReadResponse(decoderFor(e.Bytes()), 7, OpGet); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("expected corrupt, got %v", err)
		}
	})

	t.Run("bad magic", func(t *testing.T) {
		if _, err := ReadResponse(decoderFor([]byte{0xA0, 7, 4, 0, 0}), 7, OpGet); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("expected corrupt, got %v", err)
		}
	})
}

func TestExpirationRoundTrip(t *testing.T) {
	cases := []Expiration{
		{},
		{Lifespan: 1500 * time.Millisecond},
		{MaxIdle: time.Minute},
		{Lifespan: -1, MaxIdle: 2 * time.Second},
		{Lifespan: time.Hour, MaxIdle: -1},
	}
	for _, x := range cases {
		e := NewEncoder(16)
		x.Encode(e)
		d := decoderFor(e.Bytes())
		got := DecodeExpiration(d)
		want := x
		if want.Lifespan < 0 {
			want.Lifespan = -1
		}
		if want.MaxIdle < 0 {
			want.MaxIdle = -1
		}
		if got != want || d.Err() != nil {
			t.Fatalf("expiration %+v: got %+v err=%v", x, got, d.Err())
		}
	}
}

func TestExpirationDefaultIsSingleByte(t *testing.T) {
	e := NewEncoder(4)
	Expiration{}.Encode(e)
	if !bytes.Equal(e.Bytes(), []byte{0x77}) {
		t.Fatalf("default expiration encoded as %x", e.Bytes())
	}
}

func TestOpString(t *testing.T) {
	if OpGet.String() != "get" || OpGet.Response().String() != "getResponse" {
		t.Fatalf("unexpected names %s %s", OpGet, OpGet.Response())
	}
	if !OpPut.IsRequest() || OpError.IsRequest() || OpPut.Response().IsRequest() {
		t.Fatalf("IsRequest misclassified")
	}
}

func TestPingInfoRoundTrip(t *testing.T) {
	in := PingInfo{ServerVersion: 31, Ops: []Op{OpGet, OpPut, OpExec}}
	e := NewEncoder(16)
	in.Encode(e)
	d := decoderFor(e.Bytes())
	got := DecodePingInfo(d)
	if d.Err() != nil || got.ServerVersion != 31 || len(got.Ops) != 3 || got.Ops[2] != OpExec {
		t.Fatalf("got %+v err=%v", got, d.Err())
	}
}
