// Package sasl implements the client side of SASL authentication as used by
// the HotRod AUTH operations: a mechanism registry, callback-driven credential
// lookup and a bounded challenge/response negotiator.
//
// Mechanisms are linked into the binary and registered by name; Register is
// the equivalent of dropping a plugin into a SASL plugin directory.
package sasl

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownMechanism    = errors.New("sasl: unknown mechanism")
	ErrMechanismNotOffered = errors.New("sasl: mechanism not offered by server")
	ErrRejected            = errors.New("sasl: authentication rejected")
	ErrTooManyRounds       = errors.New("sasl: too many negotiation rounds")
	ErrServerVerification  = errors.New("sasl: server verification failed")
	ErrMissingCredential   = errors.New("sasl: missing credential")
	ErrUnexpectedChallenge = errors.New("sasl: unexpected challenge")
)

// Mechanism is one client-side SASL conversation. Start returns the initial
// response (nil when the mechanism waits for the server to speak first);
// Next answers a challenge. Once the server reports completion, Complete is
// called with the final server data (possibly empty) so that mechanisms with
// mutual authentication can verify the server; Next is not called again.
type Mechanism interface {
	Name() string
	Start() ([]byte, error)
	Next(challenge []byte) ([]byte, error)
	// Complete verifies the server's final data after it reported success.
	Complete(final []byte) error
}

// Factory builds a mechanism for one negotiation.
type Factory func(serverName string, cb CallbackHandler) (Mechanism, error)

// Requirements describe which configuration values a mechanism cannot work without.
type Requirements struct {
	ServerName  bool
	Credentials bool
}

type registration struct {
	factory Factory
	req     Requirements
}

var (
	regMu    sync.RWMutex
	registry = map[string]registration{}
)

// Register makes a mechanism available under name (case-insensitive).
// Registering an existing name replaces it.
func Register(name string, req Requirements, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[strings.ToUpper(name)] = registration{factory: f, req: req}
}

func lookup(name string) (registration, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	r, ok := registry[strings.ToUpper(name)]
	return r, ok
}

// RequirementsOf returns the registered requirements of a mechanism.
func RequirementsOf(name string) (Requirements, error) {
	r, ok := lookup(name)
	if !ok {
		return Requirements{}, fmt.Errorf("%w %q", ErrUnknownMechanism, name)
	}
	return r.req, nil
}

// New instantiates a registered mechanism.
func New(name, serverName string, cb CallbackHandler) (Mechanism, error) {
	r, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownMechanism, name)
	}
	return r.factory(serverName, cb)
}

// Mechanisms lists the registered mechanism names, sorted.
func Mechanisms() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func init() {
	creds := Requirements{Credentials: true}
	Register(MechPlain, creds, newPlain)
	Register(MechDigestMD5, Requirements{ServerName: true, Credentials: true}, newDigestMD5)
	Register(MechScramSHA256, creds, newScramSHA256)
	Register(MechScramSHA512, creds, newScramSHA512)
	Register(MechExternal, Requirements{}, newExternal)
}

const (
	MechPlain       = "PLAIN"
	MechDigestMD5   = "DIGEST-MD5"
	MechScramSHA256 = "SCRAM-SHA-256"
	MechScramSHA512 = "SCRAM-SHA-512"
	MechExternal    = "EXTERNAL"
)
