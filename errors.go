package hotrod

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/unkn0wn-root/hotrod/internal/transport"
	"github.com/unkn0wn-root/hotrod/internal/wire"
)

// Sentinels matched by the typed errors below via errors.Is.
var (
	ErrConfig       = errors.New("hotrod: configuration error")
	ErrAuth         = errors.New("hotrod: authentication failed")
	ErrTransport    = errors.New("hotrod: transport error")
	ErrTimeout      = errors.New("hotrod: timeout")
	ErrProtocol     = errors.New("hotrod: protocol error")
	ErrAdmin        = errors.New("hotrod: admin operation failed")
	ErrNotConnected = errors.New("hotrod: not connected")
)

// ConfigError reports an invalid or unusable configuration.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("hotrod: invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("hotrod: invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }
func (e *ConfigError) Unwrap() error        { return e.Err }

// AuthError reports a failed SASL negotiation: rejected credentials, a
// mechanism the server does not offer, or too many rounds.
type AuthError struct {
	Addr      string
	Mechanism string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("hotrod: authentication with %s using %s failed: %v", e.Addr, e.Mechanism, e.Err)
}

func (e *AuthError) Is(target error) bool { return target == ErrAuth }
func (e *AuthError) Unwrap() error        { return e.Err }

type TransportError struct {
	Addr string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	switch {
	case e.Addr != "" && e.Op != "":
		return fmt.Sprintf("hotrod: %s on %s: %v", e.Op, e.Addr, e.Err)
	case e.Addr != "":
		return fmt.Sprintf("hotrod: connection to %s: %v", e.Addr, e.Err)
	default:
		return fmt.Sprintf("hotrod: %s: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
func (e *TransportError) Unwrap() error        { return e.Err }

type TimeoutError struct {
	Addr string
	Op   string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("hotrod: %s on %s timed out: %v", e.Op, e.Addr, e.Err)
}

// Timeout lets TimeoutError satisfy net.Error-style checks.
func (e *TimeoutError) Timeout() bool        { return true }
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
func (e *TimeoutError) Unwrap() error        { return e.Err }

// ProtocolError reports an error status from the server or a malformed frame.
// Status is the wire status byte; zero for framing errors.
type ProtocolError struct {
	Addr    string
	Op      string
	Status  byte
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("hotrod: %s on %s: %s (status 0x%02x)", e.Op, e.Addr, e.Message, e.Status)
	}
	return fmt.Sprintf("hotrod: %s on %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }
func (e *ProtocolError) Unwrap() error        { return e.Err }

// AdminError reports a failed cache lifecycle task (cache exists, insufficient
// privilege, invalid definition).
type AdminError struct {
	Cache string
	Task  string
	Err   error
}

func (e *AdminError) Error() string {
	return fmt.Sprintf("hotrod: %s %q: %v", e.Task, e.Cache, e.Err)
}

func (e *AdminError) Is(target error) bool { return target == ErrAdmin }
func (e *AdminError) Unwrap() error        { return e.Err }

// NotConnectedError is returned by every operation on a manager that is not
// started or already stopped.
type NotConnectedError struct {
	Op string
}

func (e *NotConnectedError) Error() string {
	if e.Op == "" {
		return "hotrod: not connected"
	}
	return fmt.Sprintf("hotrod: %s: not connected", e.Op)
}

func (e *NotConnectedError) Is(target error) bool { return target == ErrNotConnected }

func isTyped(err error) bool {
	for _, s := range []error{ErrConfig, ErrAuth, ErrTransport, ErrTimeout, ErrProtocol, ErrAdmin, ErrNotConnected} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// classify maps transport and codec failures to the public error types.
// Context cancellation is returned unchanged.
func classify(addr, op string, err error) error {
	if err == nil || isTyped(err) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, transport.ErrClosed) {
		return &NotConnectedError{Op: op}
	}
	var se *wire.ServerError
	if errors.As(err, &se) {
		if se.Status == wire.StatusCommandTimeout {
			return &TimeoutError{Addr: addr, Op: op, Err: se}
		}
		return &ProtocolError{Addr: addr, Op: op, Status: byte(se.Status), Message: se.Message, Err: se}
	}
	if errors.Is(err, wire.ErrCorrupt) || errors.Is(err, wire.ErrVarintOverflow) || errors.Is(err, wire.ErrUnknownVersion) {
		return &ProtocolError{Addr: addr, Op: op, Err: err}
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &TimeoutError{Addr: addr, Op: op, Err: err}
	}
	return &TransportError{Addr: addr, Op: op, Err: err}
}

// retryable reports errors worth another attempt on a different connection.
func retryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrTimeout)
}
