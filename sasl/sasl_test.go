package sasl

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func fixedNonce(t *testing.T, fn *func() (string, error), v string) {
	t.Helper()
	prev := *fn
	*fn = func() (string, error) { return v, nil }
	t.Cleanup(func() { *fn = prev })
}

func TestPlainInitialResponse(t *testing.T) {
	m, err := New("plain", "", NewCredentials("user", "secret", "", ""))
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Start()
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte("\x00user\x00secret"); !bytes.Equal(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}

	c := NewCredentials("user", "secret", "", "").WithAuthzID("admin")
	m, _ = New(MechPlain, "", c)
	got, _ = m.Start()
	if want := []byte("admin\x00user\x00secret"); !bytes.Equal(got, want) {
		t.Fatalf("with authzid got %q", got)
	}
}

func TestPlainMissingPassword(t *testing.T) {
	m, _ := New(MechPlain, "", NewCredentials("user", "", "", ""))
	if _, err := m.Start(); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
}

// RFC 7677 section 3.
func TestScramSHA256Vector(t *testing.T) {
	fixedNonce(t, &nonceFunc, "rOprNGfwEbeRWgbNEkqO")
	m, err := New(MechScramSHA256, "", NewCredentials("user", "pencil", "", ""))
	if err != nil {
		t.Fatal(err)
	}
	first, err := m.Start()
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != "n,,n=user,r=rOprNGfwEbeRWgbNEkqO" {
		t.Fatalf("client-first %q", first)
	}

	serverFirst := "r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"
	final, err := m.Next([]byte(serverFirst))
	if err != nil {
		t.Fatal(err)
	}
	want := "c=biws,r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,p=dHzbZapWIk4jUhN+Ute9ytag9zjfMHgsqmmiz7AndVQ="
	if string(final) != want {
		t.Fatalf("client-final\n got %s\nwant %s", final, want)
	}

	if err := m.Complete([]byte("v=6rriTRBi23WpRR/wtup+mMhUZUn/dB5nLTJRsjl95G4=")); err != nil {
		t.Fatalf("server signature rejected: %v", err)
	}
}

func TestScramRejectsBadServerSignature(t *testing.T) {
	fixedNonce(t, &nonceFunc, "rOprNGfwEbeRWgbNEkqO")
	m, _ := New(MechScramSHA256, "", NewCredentials("user", "pencil", "", ""))
	_, _ = m.Start()
	_, err := m.Next([]byte("r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Complete([]byte("v=AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")); !errors.Is(err, ErrServerVerification) {
		t.Fatalf("expected verification failure, got %v", err)
	}
}

func TestScramRejectsForeignNonce(t *testing.T) {
	fixedNonce(t, &nonceFunc, "abc")
	m, _ := New(MechScramSHA512, "", NewCredentials("user", "pencil", "", ""))
	_, _ = m.Start()
	if _, err := m.Next([]byte("r=xyz123,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096")); !errors.Is(err, ErrServerVerification) {
		t.Fatalf("expected verification failure, got %v", err)
	}
}

// RFC 2831 section 4.
func TestDigestMD5Vector(t *testing.T) {
	fixedNonce(t, &cnonceFunc, "OA6MHXh6VqTrRk")
	m := &digestMD5{
		serverName: "elwood.innosoft.com",
		cb:         NewCredentials("chris", "secret", "", ""),
		uri:        "imap/elwood.innosoft.com",
	}
	if first, err := m.Start(); err != nil || first != nil {
		t.Fatalf("digest must wait for the server: %q %v", first, err)
	}
	challenge := `realm="elwood.innosoft.com",nonce="OA6MG9tEQGm2hh",qop="auth",algorithm=md5-sess,charset=utf-8`
	resp, err := m.Next([]byte(challenge))
	if err != nil {
		t.Fatal(err)
	}
	dirs, err := parseDirectives(string(resp))
	if err != nil {
		t.Fatal(err)
	}
	if dirs["response"] != "d388dad90d4bbd760a152321f2143af7" {
		t.Fatalf("response=%s in %s", dirs["response"], resp)
	}
	if dirs["username"] != "chris" || dirs["digest-uri"] != "imap/elwood.innosoft.com" || dirs["nc"] != "00000001" {
		t.Fatalf("unexpected directives %v", dirs)
	}
	if err := m.Complete([]byte("rspauth=ea40f60335c427b5527b84dbabcdfffd")); err != nil {
		t.Fatalf("rspauth rejected: %v", err)
	}
}

func TestDigestMD5NeedsServerName(t *testing.T) {
	if _, err := New(MechDigestMD5, "", NewCredentials("u", "p", "", "")); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing server name, got %v", err)
	}
	req, err := RequirementsOf("digest-md5")
	if err != nil || !req.ServerName || !req.Credentials {
		t.Fatalf("requirements %+v %v", req, err)
	}
}

func TestParseDirectivesQuotedComma(t *testing.T) {
	d, err := parseDirectives(`realm="a,b",nonce="x\"y", qop=auth`)
	if err != nil {
		t.Fatal(err)
	}
	if d["realm"] != "a,b" || d["nonce"] != `x"y` || d["qop"] != "auth" {
		t.Fatalf("got %v", d)
	}
	if _, err := parseDirectives(`nonce="open`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}

type step struct {
	done      bool
	challenge []byte
	err       error
}

type scriptedExchanger struct {
	offered []string
	steps   []step
	sent    [][]byte
}

func (s *scriptedExchanger) Mechanisms(context.Context) ([]string, error) { return s.offered, nil }

func (s *scriptedExchanger) Exchange(_ context.Context, _ string, resp []byte) (bool, []byte, error) {
	s.sent = append(s.sent, resp)
	if len(s.steps) == 0 {
		return false, []byte("more"), nil
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.done, st.challenge, st.err
}

func TestNegotiatorPlainSuccess(t *testing.T) {
	x := &scriptedExchanger{offered: []string{"SCRAM-SHA-256", "PLAIN"}, steps: []step{{done: true}}}
	n := NewNegotiator("plain", "node0", NewCredentials("user", "pw", "", ""), 0)
	if err := n.Run(context.Background(), x); err != nil {
		t.Fatal(err)
	}
	if n.State() != StateAuthenticated || n.Rounds() != 1 {
		t.Fatalf("state=%s rounds=%d", n.State(), n.Rounds())
	}
	if !bytes.Equal(x.sent[0], []byte("\x00user\x00pw")) {
		t.Fatalf("sent %q", x.sent[0])
	}
	if err := n.Run(context.Background(), x); err == nil {
		t.Fatal("second run must fail")
	}
}

func TestNegotiatorMechanismNotOffered(t *testing.T) {
	x := &scriptedExchanger{offered: []string{"SCRAM-SHA-512"}}
	n := NewNegotiator(MechPlain, "", NewCredentials("u", "p", "", ""), 0)
	err := n.Run(context.Background(), x)
	if !errors.Is(err, ErrMechanismNotOffered) {
		t.Fatalf("got %v", err)
	}
	if n.State() != StateRejected || len(x.sent) != 0 {
		t.Fatalf("state=%s sent=%d", n.State(), len(x.sent))
	}
}

func TestNegotiatorRejected(t *testing.T) {
	x := &scriptedExchanger{offered: []string{"PLAIN"}, steps: []step{{err: ErrRejected}}}
	n := NewNegotiator(MechPlain, "", NewCredentials("u", "bad", "", ""), 0)
	if err := n.Run(context.Background(), x); !errors.Is(err, ErrRejected) {
		t.Fatalf("got %v", err)
	}
	if n.State() != StateRejected {
		t.Fatalf("state=%s", n.State())
	}
}

type endless struct{}

func (endless) Name() string                  { return "ENDLESS" }
func (endless) Start() ([]byte, error)        { return []byte("hi"), nil }
func (endless) Next(c []byte) ([]byte, error) { return c, nil }
func (endless) Complete([]byte) error         { return nil }

func TestNegotiatorBoundsRounds(t *testing.T) {
	Register("endless", Requirements{}, func(string, CallbackHandler) (Mechanism, error) { return endless{}, nil })
	x := &scriptedExchanger{offered: []string{"ENDLESS"}}
	n := NewNegotiator("endless", "", nil, 3)
	err := n.Run(context.Background(), x)
	if !errors.Is(err, ErrTooManyRounds) {
		t.Fatalf("got %v", err)
	}
	if len(x.sent) != 3 {
		t.Fatalf("sent %d responses, want 3", len(x.sent))
	}
}

func TestNegotiatorScramEndToEnd(t *testing.T) {
	fixedNonce(t, &nonceFunc, "rOprNGfwEbeRWgbNEkqO")
	x := &scriptedExchanger{
		offered: []string{"SCRAM-SHA-256"},
		steps: []step{
			{challenge: []byte("r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096")},
			{done: true, challenge: []byte("v=6rriTRBi23WpRR/wtup+mMhUZUn/dB5nLTJRsjl95G4=")},
		},
	}
	n := NewNegotiator(MechScramSHA256, "", NewCredentials("user", "pencil", "", ""), 0)
	if err := n.Run(context.Background(), x); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(x.sent[1]), "p=dHzbZapWIk4jUhN+Ute9ytag9zjfMHgsqmmiz7AndVQ=") {
		t.Fatalf("client-final %q", x.sent[1])
	}
}

func TestCredentialsWipe(t *testing.T) {
	c := NewCredentials("u", "secret", "r", "/plugins")
	cp := c.Clone()
	cp.Wipe()
	if cp.HasSecret() {
		t.Fatal("wiped clone still has a secret")
	}
	if v, _ := c.Handle(CallbackPassword); v != "secret" {
		t.Fatalf("original affected by wipe: %q", v)
	}
	if v, _ := c.Handle(CallbackPath); v != "/plugins" {
		t.Fatalf("path %q", v)
	}
}
