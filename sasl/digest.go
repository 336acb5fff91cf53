package sasl

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// cnonceFunc produces DIGEST-MD5 client nonces; tests replace it for fixed vectors.
var cnonceFunc = func() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

// digestService is the service part of the digest-uri.
const digestService = "hotrod"

// digestMD5 implements RFC 2831 with qop=auth. The server speaks first.
type digestMD5 struct {
	serverName string
	cb         CallbackHandler

	step     int
	ha1      string
	nonce    string
	cnonce   string
	uri      string
	verified bool
}

func newDigestMD5(serverName string, cb CallbackHandler) (Mechanism, error) {
	if serverName == "" {
		return nil, fmt.Errorf("%w: DIGEST-MD5 needs a server name", ErrMissingCredential)
	}
	return &digestMD5{serverName: serverName, cb: cb}, nil
}

func (m *digestMD5) Name() string { return MechDigestMD5 }

func (m *digestMD5) Start() ([]byte, error) { return nil, nil }

func (m *digestMD5) Next(challenge []byte) ([]byte, error) {
	m.step++
	switch m.step {
	case 1:
		if len(challenge) == 0 {
			// the server asked for the (empty) initial response first
			m.step = 0
			return nil, nil
		}
		return m.respond(challenge)
	case 2:
		if err := m.verify(challenge); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, ErrUnexpectedChallenge
}

func (m *digestMD5) respond(challenge []byte) ([]byte, error) {
	dirs, err := parseDirectives(string(challenge))
	if err != nil {
		return nil, err
	}
	m.nonce = dirs["nonce"]
	if m.nonce == "" {
		return nil, fmt.Errorf("%w: challenge without nonce", ErrServerVerification)
	}
	if qop, ok := dirs["qop"]; ok && !hasToken(qop, "auth") {
		return nil, fmt.Errorf("%w: server does not offer qop=auth", ErrServerVerification)
	}

	user, err := need(m.cb, CallbackUser)
	if err != nil {
		return nil, err
	}
	pass, err := need(m.cb, CallbackPassword)
	if err != nil {
		return nil, err
	}
	realm := optional(m.cb, CallbackRealm)
	if realm == "" {
		realm = dirs["realm"]
	}
	authz := optional(m.cb, CallbackAuthName)
	if m.cnonce, err = cnonceFunc(); err != nil {
		return nil, err
	}
	if m.uri == "" {
		m.uri = digestService + "/" + m.serverName
	}

	m.ha1 = digestHA1(user, realm, pass, m.nonce, m.cnonce, authz)
	resp := digestResponse(m.ha1, m.nonce, m.cnonce, "AUTHENTICATE:"+m.uri)

	var b strings.Builder
	fmt.Fprintf(&b, "username=%q", user)
	if realm != "" {
		fmt.Fprintf(&b, ",realm=%q", realm)
	}
	fmt.Fprintf(&b, ",nonce=%q,nc=%s,cnonce=%q,digest-uri=%q,response=%s,qop=auth",
		m.nonce, digestNC, m.cnonce, m.uri, resp)
	if _, ok := dirs["charset"]; ok {
		b.WriteString(",charset=utf-8")
	}
	if authz != "" {
		fmt.Fprintf(&b, ",authzid=%q", authz)
	}
	return []byte(b.String()), nil
}

func (m *digestMD5) verify(data []byte) error {
	dirs, err := parseDirectives(string(data))
	if err != nil {
		return err
	}
	want := digestResponse(m.ha1, m.nonce, m.cnonce, ":"+m.uri)
	if subtle.ConstantTimeCompare([]byte(dirs["rspauth"]), []byte(want)) != 1 {
		return ErrServerVerification
	}
	m.verified = true
	return nil
}

func (m *digestMD5) Complete(final []byte) error {
	if m.verified {
		return nil
	}
	if m.ha1 == "" {
		return ErrServerVerification
	}
	return m.verify(final)
}

const digestNC = "00000001"

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func digestHA1(user, realm, pass, nonce, cnonce, authz string) string {
	inner := md5.Sum([]byte(user + ":" + realm + ":" + pass))
	a1 := string(inner[:]) + ":" + nonce + ":" + cnonce
	if authz != "" {
		a1 += ":" + authz
	}
	return md5hex(a1)
}

func digestResponse(ha1, nonce, cnonce, a2 string) string {
	return md5hex(ha1 + ":" + nonce + ":" + digestNC + ":" + cnonce + ":auth:" + md5hex(a2))
}

func hasToken(list, tok string) bool {
	for _, t := range strings.Split(list, ",") {
		if strings.TrimSpace(t) == tok {
			return true
		}
	}
	return false
}

// parseDirectives splits key=value pairs where values may be quoted strings
// containing commas and backslash escapes.
func parseDirectives(s string) (map[string]string, error) {
	out := make(map[string]string)
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ',' || s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			break
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: malformed directive %q", ErrServerVerification, s[i:])
		}
		key := strings.ToLower(strings.TrimSpace(s[i : i+eq]))
		i += eq + 1
		var val strings.Builder
		if i < len(s) && s[i] == '"' {
			i++
			closed := false
			for i < len(s) {
				c := s[i]
				i++
				if c == '\\' && i < len(s) {
					val.WriteByte(s[i])
					i++
					continue
				}
				if c == '"' {
					closed = true
					break
				}
				val.WriteByte(c)
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated quoted value for %s", ErrServerVerification, key)
			}
		} else {
			end := strings.IndexByte(s[i:], ',')
			if end < 0 {
				end = len(s) - i
			}
			val.WriteString(strings.TrimSpace(s[i : i+end]))
			i += end
		}
		out[key] = val.String()
	}
	return out, nil
}
