package sasl

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// State is the position of a Negotiator in the exchange.
type State int

const (
	StateIdle State = iota
	StateMechanismSelected
	StateResponseSent
	StateChallengeReceived
	StateAuthenticated
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMechanismSelected:
		return "mechanism-selected"
	case StateResponseSent:
		return "response-sent"
	case StateChallengeReceived:
		return "challenge-received"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Exchanger carries SASL messages to the server over one connection.
type Exchanger interface {
	// Mechanisms returns the mechanisms the server offers.
	Mechanisms(ctx context.Context) ([]string, error)
	// Exchange sends a response and returns the server's reply. A server that
	// refuses the credentials must be reported as an error wrapping ErrRejected.
	Exchange(ctx context.Context, mech string, response []byte) (completed bool, challenge []byte, err error)
}

// DefaultMaxRounds bounds the challenge/response loop.
const DefaultMaxRounds = 10

// Negotiator drives one mechanism against one connection. It is not reusable:
// Authenticated and Rejected are terminal.
type Negotiator struct {
	mechanism  string
	serverName string
	cb         CallbackHandler
	maxRounds  int

	state  State
	rounds int
}

func NewNegotiator(mechanism, serverName string, cb CallbackHandler, maxRounds int) *Negotiator {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Negotiator{
		mechanism:  strings.ToUpper(mechanism),
		serverName: serverName,
		cb:         cb,
		maxRounds:  maxRounds,
	}
}

func (n *Negotiator) State() State { return n.state }

// Rounds returns how many responses were sent.
func (n *Negotiator) Rounds() int { return n.rounds }

// Run performs the whole exchange. Any error leaves the negotiator Rejected
// and the connection must not be used for cache operations.
func (n *Negotiator) Run(ctx context.Context, x Exchanger) (err error) {
	if n.state != StateIdle {
		return fmt.Errorf("sasl: negotiator already ran (state %s)", n.state)
	}
	defer func() {
		if err != nil {
			n.state = StateRejected
		}
	}()

	offered, err := x.Mechanisms(ctx)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(offered, func(m string) bool { return strings.EqualFold(m, n.mechanism) }) {
		return fmt.Errorf("%w: %s (offered: %s)", ErrMechanismNotOffered, n.mechanism, strings.Join(offered, ", "))
	}
	mech, err := New(n.mechanism, n.serverName, n.cb)
	if err != nil {
		return err
	}
	n.state = StateMechanismSelected

	resp, err := mech.Start()
	if err != nil {
		return err
	}
	for {
		if n.rounds >= n.maxRounds {
			return fmt.Errorf("%w: %d", ErrTooManyRounds, n.maxRounds)
		}
		n.rounds++
		n.state = StateResponseSent
		done, challenge, err := x.Exchange(ctx, n.mechanism, resp)
		if err != nil {
			return err
		}
		if done {
			if err := mech.Complete(challenge); err != nil {
				return err
			}
			n.state = StateAuthenticated
			return nil
		}
		n.state = StateChallengeReceived
		if resp, err = mech.Next(challenge); err != nil {
			return err
		}
	}
}
