// Package transport moves HotRod frames over TCP: single connections with
// deadline and cancellation handling, per-server pools and round-robin
// selection across servers.
package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/hotrod/internal/wire"
)

// ErrClosed is returned for operations on a closed pool or cluster.
var ErrClosed = errors.New("hotrod: transport closed")

// msgIDs is shared by every connection so ids stay unique per process.
var msgIDs atomic.Uint64

// Request describes one round trip.
type Request struct {
	Op    wire.Op
	Cache string
	Flags uint32
	// Body appends the operation payload after the header. May be nil.
	Body func(*wire.Encoder)
}

// ReadFunc decodes the response body. It must read the body completely; any
// error it returns marks the connection broken, since the rest of the frame
// may still be buffered.
type ReadFunc func(h wire.ResponseHeader, d *wire.Decoder) error

// Conn is a single HotRod connection. It is not safe for concurrent use;
// pools hand each Conn to one caller at a time.
type Conn struct {
	nc            net.Conn
	bw            *bufio.Writer
	dec           *wire.Decoder
	enc           *wire.Encoder
	addr          string
	version       wire.Version
	socketTimeout time.Duration
	broken        bool
	openedAt      time.Time
}

func newConn(nc net.Conn, addr string, v wire.Version, socketTimeout time.Duration, maxArray int) *Conn {
	dec := wire.NewDecoder(bufio.NewReaderSize(nc, 16<<10))
	dec.SetMaxArray(maxArray)
	return &Conn{
		nc:            nc,
		bw:            bufio.NewWriterSize(nc, 16<<10),
		dec:           dec,
		enc:           wire.NewEncoder(256),
		addr:          addr,
		version:       v,
		socketTimeout: socketTimeout,
		openedAt:      time.Now(),
	}
}

func (c *Conn) Addr() string          { return c.addr }
func (c *Conn) Version() wire.Version { return c.version }

// Broken reports whether the connection lost frame sync or hit an IO error.
func (c *Conn) Broken() bool { return c.broken }

func (c *Conn) Close() error { return c.nc.Close() }

func (c *Conn) deadline(ctx context.Context) time.Time {
	var dl time.Time
	if c.socketTimeout > 0 {
		dl = time.Now().Add(c.socketTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (dl.IsZero() || d.Before(dl)) {
		dl = d
	}
	return dl
}

// Do writes req and reads its response. Server error frames come back as
// *wire.ServerError and leave the connection usable; anything else that goes
// wrong mid-frame marks it broken.
func (c *Conn) Do(ctx context.Context, req Request, read ReadFunc) (err error) {
	if c.broken {
		return net.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.nc.SetDeadline(c.deadline(ctx)); err != nil {
		c.broken = true
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		if !stop() && ctx.Err() != nil && err != nil {
			// the deadline was forced into the past; report the real cause
			c.broken = true
			err = ctx.Err()
		}
	}()

	id := msgIDs.Add(1)
	c.enc.Reset()
	wire.RequestHeader{
		MsgID:   id,
		Version: c.version,
		Op:      req.Op,
		Cache:   req.Cache,
		Flags:   req.Flags,
	}.Encode(c.enc)
	if req.Body != nil {
		req.Body(c.enc)
	}
	if _, err := c.bw.Write(c.enc.Bytes()); err != nil {
		c.broken = true
		return err
	}
	if err := c.bw.Flush(); err != nil {
		c.broken = true
		return err
	}

	c.dec.Reset()
	h, err := wire.ReadResponse(c.dec, id, req.Op)
	if err != nil {
		var se *wire.ServerError
		if !errors.As(err, &se) || desync(se.Status) {
			c.broken = true
		}
		return err
	}
	if read != nil {
		if err := read(h, c.dec); err != nil {
			c.broken = true
			return err
		}
	}
	if err := c.dec.Err(); err != nil {
		c.broken = true
		return err
	}
	return nil
}

// desync reports statuses after which the server may have dropped the stream.
func desync(s wire.Status) bool {
	return s == wire.StatusInvalidMagicOrMsgID || s == wire.StatusParseError || s == wire.StatusUnknownVersion
}
