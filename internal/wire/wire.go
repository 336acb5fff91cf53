// Package wire implements the HotRod binary encoding: unsigned varints,
// length-prefixed arrays and the request/response headers shared by every
// operation. Both directions are implemented so that a server can reuse it.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	maxVIntBytes  = 5
	maxVLongBytes = binary.MaxVarintLen64

	// DefaultMaxArray bounds the length a Decoder accepts for a single array.
	DefaultMaxArray = 64 << 20
)

var (
	ErrCorrupt        = errors.New("hotrod: corrupt frame")
	ErrVarintOverflow = errors.New("hotrod: varint overflow")
)

// Encoder appends HotRod primitives to an in-memory frame. A frame is built
// completely before it is written, so a failed write never leaves half a
// request on the wire.
type Encoder struct {
	buf []byte
}

func NewEncoder(sizeHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

func (e *Encoder) Byte(b byte) { e.buf = append(e.buf, b) }

// VInt writes v as an unsigned LEB128 varint (at most 5 bytes).
func (e *Encoder) VInt(v uint32) { e.buf = binary.AppendUvarint(e.buf, uint64(v)) }

// VLong writes v as an unsigned LEB128 varint.
func (e *Encoder) VLong(v uint64) { e.buf = binary.AppendUvarint(e.buf, v) }

// Array writes a vInt length followed by b.
func (e *Encoder) Array(b []byte) {
	e.VInt(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) String(s string) {
	e.VInt(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) Uint16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *Encoder) Uint64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *Encoder) Bytes() []byte { return e.buf }
func (e *Encoder) Len() int      { return len(e.buf) }
func (e *Encoder) Reset()        { e.buf = e.buf[:0] }

// Decoder reads HotRod primitives from a buffered stream. The first error is
// sticky: once set, every read returns a zero value and Err reports it.
type Decoder struct {
	r        *bufio.Reader
	err      error
	maxArray int
}

func NewDecoder(r *bufio.Reader) *Decoder {
	return &Decoder{r: r, maxArray: DefaultMaxArray}
}

// SetMaxArray changes the largest array the decoder accepts; n <= 0 restores the default.
func (d *Decoder) SetMaxArray(n int) {
	if n <= 0 {
		n = DefaultMaxArray
	}
	d.maxArray = n
}

func (d *Decoder) Err() error { return d.err }

// Reset clears the sticky error so the decoder can be reused for the next frame.
func (d *Decoder) Reset() { d.err = nil }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// Fail records err as the decoder error unless one is already set, so body
// checks made outside this package poison the frame like a short read does.
func (d *Decoder) Fail(err error) { d.fail(err) }

func (d *Decoder) Byte() byte {
	if d.err != nil {
		return 0
	}
	b, err := d.r.ReadByte()
	if err != nil {
		d.fail(err)
		return 0
	}
	return b
}

func (d *Decoder) varint(maxBytes int) uint64 {
	var v uint64
	var shift uint
	for i := 0; i < maxBytes; i++ {
		b := d.Byte()
		if d.err != nil {
			return 0
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v
		}
		shift += 7
	}
	d.fail(ErrVarintOverflow)
	return 0
}

func (d *Decoder) VInt() uint32 {
	v := d.varint(maxVIntBytes)
	if v > 0xFFFFFFFF {
		d.fail(ErrVarintOverflow)
		return 0
	}
	return uint32(v)
}

func (d *Decoder) VLong() uint64 { return d.varint(maxVLongBytes) }

func (d *Decoder) full(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > d.maxArray {
		d.fail(fmt.Errorf("%w: array length %d exceeds limit %d", ErrCorrupt, n, d.maxArray))
		return nil
	}
	out := make([]byte, n)
	read := 0
	for read < n {
		m, err := d.r.Read(out[read:])
		read += m
		if err != nil {
			if read == n {
				break
			}
			d.fail(err)
			return nil
		}
	}
	return out
}

// Array reads a vInt length and that many bytes. A zero length yields an
// empty, non-nil slice.
func (d *Decoder) Array() []byte {
	n := d.VInt()
	return d.full(int(n))
}

func (d *Decoder) String() string { return string(d.Array()) }

func (d *Decoder) Uint16() uint16 {
	b := d.full(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *Decoder) Uint64() uint64 {
	b := d.full(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
