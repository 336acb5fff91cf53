package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	RequestMagic  byte = 0xA0
	ResponseMagic byte = 0xA1

	// IntelligenceBasic asks the server not to push topology information.
	IntelligenceBasic byte = 0x01

	FlagForceReturnValue uint32 = 0x01
)

// Op is a request or response opcode. Response opcodes are request+1.
type Op byte

const (
	OpPut                 Op = 0x01
	OpGet                 Op = 0x03
	OpPutIfAbsent         Op = 0x05
	OpReplace             Op = 0x07
	OpReplaceIfUnmodified Op = 0x09
	OpRemove              Op = 0x0B
	OpRemoveIfUnmodified  Op = 0x0D
	OpContainsKey         Op = 0x0F
	OpGetWithVersion      Op = 0x11
	OpClear               Op = 0x13
	OpStats               Op = 0x15
	OpPing                Op = 0x17
	OpBulkGet             Op = 0x19
	OpBulkGetKeys         Op = 0x1D
	OpAuthMechList        Op = 0x21
	OpAuth                Op = 0x23
	OpSize                Op = 0x29
	OpExec                Op = 0x2B
	OpPutAll              Op = 0x2D
	OpGetAll              Op = 0x2F
	OpError               Op = 0x50
)

var opNames = map[Op]string{
	OpPut:                 "put",
	OpGet:                 "get",
	OpPutIfAbsent:         "putIfAbsent",
	OpReplace:             "replace",
	OpReplaceIfUnmodified: "replaceWithVersion",
	OpRemove:              "remove",
	OpRemoveIfUnmodified:  "removeWithVersion",
	OpContainsKey:         "containsKey",
	OpGetWithVersion:      "getWithVersion",
	OpClear:               "clear",
	OpStats:               "stats",
	OpPing:                "ping",
	OpBulkGet:             "bulkGet",
	OpBulkGetKeys:         "keys",
	OpAuthMechList:        "authMechList",
	OpAuth:                "auth",
	OpSize:                "size",
	OpExec:                "exec",
	OpPutAll:              "putAll",
	OpGetAll:              "getAll",
	OpError:               "error",
}

// Response returns the opcode a server answers op with.
func (o Op) Response() Op { return o + 1 }

// IsRequest reports whether o is a known request opcode.
func (o Op) IsRequest() bool {
	_, ok := opNames[o]
	return ok && o != OpError
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	if n, ok := opNames[o-1]; ok && o != OpError+1 {
		return n + "Response"
	}
	return fmt.Sprintf("op(0x%02x)", byte(o))
}

// Status is the response status byte.
type Status byte

const (
	StatusSuccess                 Status = 0x00
	StatusNotExecuted             Status = 0x01
	StatusKeyDoesNotExist         Status = 0x02
	StatusSuccessWithPrevious     Status = 0x03
	StatusNotExecutedWithPrevious Status = 0x04
	StatusInvalidMagicOrMsgID     Status = 0x81
	StatusUnknownCommand          Status = 0x82
	StatusUnknownVersion          Status = 0x83
	StatusParseError              Status = 0x84
	StatusServerError             Status = 0x85
	StatusCommandTimeout          Status = 0x86
)

func (s Status) IsError() bool { return s >= StatusInvalidMagicOrMsgID }

// HasPrevious reports whether the response body carries the previous value.
func (s Status) HasPrevious() bool {
	return s == StatusSuccessWithPrevious || s == StatusNotExecutedWithPrevious
}

// Executed reports whether a conditional operation was applied.
func (s Status) Executed() bool {
	return s == StatusSuccess || s == StatusSuccessWithPrevious
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotExecuted:
		return "not executed"
	case StatusKeyDoesNotExist:
		return "key does not exist"
	case StatusSuccessWithPrevious:
		return "success with previous value"
	case StatusNotExecutedWithPrevious:
		return "not executed with previous value"
	case StatusInvalidMagicOrMsgID:
		return "invalid magic or message id"
	case StatusUnknownCommand:
		return "unknown command"
	case StatusUnknownVersion:
		return "unknown version"
	case StatusParseError:
		return "request parsing error"
	case StatusServerError:
		return "server error"
	case StatusCommandTimeout:
		return "command timed out"
	default:
		return fmt.Sprintf("status(0x%02x)", byte(s))
	}
}

// Version is the protocol version byte: major*10 + minor.
type Version byte

var supportedVersions = []string{
	"2.0", "2.1", "2.2", "2.3", "2.4", "2.5", "2.6", "2.7", "2.8", "3.0", "3.1",
}

// SupportedVersions lists the version strings ParseVersion accepts.
func SupportedVersions() []string {
	return append([]string(nil), supportedVersions...)
}

var ErrUnknownVersion = errors.New("hotrod: unknown protocol version")

// ParseVersion converts "M.m" into the version byte.
func ParseVersion(s string) (Version, error) {
	for _, v := range supportedVersions {
		if v != s {
			continue
		}
		major, minor, _ := strings.Cut(s, ".")
		ma, _ := strconv.Atoi(major)
		mi, _ := strconv.Atoi(minor)
		return Version(ma*10 + mi), nil
	}
	return 0, fmt.Errorf("%w %q (supported: %s)", ErrUnknownVersion, s, strings.Join(supportedVersions, ", "))
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v/10, v%10) }

// Known reports whether v is one of the supported versions.
func (v Version) Known() bool {
	_, err := ParseVersion(v.String())
	return err == nil
}

// HasMediaTypes reports whether request headers carry key/value media types.
func (v Version) HasMediaTypes() bool { return v >= 28 }

// HasPingInfo reports whether ping responses carry server capabilities.
func (v Version) HasPingInfo() bool { return v >= 30 }

type RequestHeader struct {
	MsgID      uint64
	Version    Version
	Op         Op
	Cache      string
	Flags      uint32
	TopologyID uint32
}

func (h RequestHeader) Encode(e *Encoder) {
	e.Byte(RequestMagic)
	e.VLong(h.MsgID)
	e.Byte(byte(h.Version))
	e.Byte(byte(h.Op))
	e.String(h.Cache)
	e.VInt(h.Flags)
	e.Byte(IntelligenceBasic)
	e.VInt(h.TopologyID)
	if h.Version.HasMediaTypes() {
		e.Byte(0) // key media type: none
		e.Byte(0) // value media type: none
	}
}

func DecodeRequestHeader(d *Decoder) (RequestHeader, error) {
	var h RequestHeader
	if m := d.Byte(); d.Err() == nil && m != RequestMagic {
		return h, fmt.Errorf("%w: request magic 0x%02x", ErrCorrupt, m)
	}
	h.MsgID = d.VLong()
	h.Version = Version(d.Byte())
	h.Op = Op(d.Byte())
	h.Cache = d.String()
	h.Flags = d.VInt()
	_ = d.Byte() // client intelligence
	h.TopologyID = d.VInt()
	if h.Version.HasMediaTypes() {
		_ = d.Byte()
		_ = d.Byte()
	}
	return h, d.Err()
}

type ResponseHeader struct {
	MsgID          uint64
	Op             Op
	Status         Status
	TopologyMarker byte
}

func (h ResponseHeader) Encode(e *Encoder) {
	e.Byte(ResponseMagic)
	e.VLong(h.MsgID)
	e.Byte(byte(h.Op))
	e.Byte(byte(h.Status))
	e.Byte(h.TopologyMarker)
}

func DecodeResponseHeader(d *Decoder) (ResponseHeader, error) {
	var h ResponseHeader
	if m := d.Byte(); d.Err() == nil && m != ResponseMagic {
		return h, fmt.Errorf("%w: response magic 0x%02x", ErrCorrupt, m)
	}
	h.MsgID = d.VLong()
	h.Op = Op(d.Byte())
	h.Status = Status(d.Byte())
	h.TopologyMarker = d.Byte()
	return h, d.Err()
}

// ServerError is an error frame returned by the server.
type ServerError struct {
	Status  Status
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("hotrod server error: %s", e.Status)
	}
	return fmt.Sprintf("hotrod server error: %s: %s", e.Status, e.Message)
}

// EncodeError writes a complete error frame answering msgID.
func EncodeError(e *Encoder, msgID uint64, status Status, msg string) {
	ResponseHeader{MsgID: msgID, Op: OpError, Status: status}.Encode(e)
	e.String(msg)
}

// ReadResponse reads a response header for the request (msgID, op). Error
// frames are returned as *ServerError; every other mismatch wraps ErrCorrupt.
func ReadResponse(d *Decoder, msgID uint64, op Op) (ResponseHeader, error) {
	h, err := DecodeResponseHeader(d)
	if err != nil {
		return h, err
	}
	if h.MsgID != msgID {
		return h, fmt.Errorf("%w: response id %d for request %d", ErrCorrupt, h.MsgID, msgID)
	}
	if h.Op == OpError || h.Status.IsError() {
		msg := d.String()
		if d.Err() != nil {
			return h, d.Err()
		}
		return h, &ServerError{Status: h.Status, Message: msg}
	}
	if h.Op != op.Response() {
		return h, fmt.Errorf("%w: got %s answering %s", ErrCorrupt, h.Op, op)
	}
	if h.TopologyMarker != 0 {
		return h, fmt.Errorf("%w: unexpected topology update for basic client", ErrCorrupt)
	}
	return h, nil
}

// PingInfo is the body of a ping response from version 3.0 on.
type PingInfo struct {
	ServerVersion Version
	Ops           []Op
}

func (p PingInfo) Encode(e *Encoder) {
	e.Byte(0) // key media type: none
	e.Byte(0) // value media type: none
	e.Byte(byte(p.ServerVersion))
	e.VInt(uint32(len(p.Ops)))
	for _, op := range p.Ops {
		e.Uint16(uint16(op))
	}
}

// maxPingOps bounds the opcode list a server may advertise.
const maxPingOps = 1024

func DecodePingInfo(d *Decoder) PingInfo {
	var p PingInfo
	_ = d.Byte()
	_ = d.Byte()
	p.ServerVersion = Version(d.Byte())
	n := d.VInt()
	if n > maxPingOps {
		d.fail(fmt.Errorf("%w: %d ping ops", ErrCorrupt, n))
		return p
	}
	for i := uint32(0); i < n && d.Err() == nil; i++ {
		p.Ops = append(p.Ops, Op(d.Uint16()))
	}
	return p
}
