package hotrodtest

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/crypto/pbkdf2"

	"github.com/unkn0wn-root/hotrod/internal/wire"
)

const scramIterations = 4096

var scramSalt = []byte("hotrodtest-salt")

var serverNonces atomic.Uint64

type scramSession struct {
	user        string
	clientFirst string
	serverFirst string
	nonce       string
}

func (s *Server) auth(sess *session, h wire.RequestHeader, d *wire.Decoder, e *wire.Encoder) error {
	mech := strings.ToUpper(d.String())
	resp := d.Array()
	if d.Err() != nil {
		return nil
	}
	s.mu.Lock()
	offered := false
	for _, m := range s.mechs {
		if strings.EqualFold(m, mech) {
			offered = true
		}
	}
	s.mu.Unlock()
	if !offered {
		return s.reject(e, h, "mechanism %s not offered", mech)
	}

	switch mech {
	case "PLAIN":
		parts := bytes.Split(resp, []byte{0})
		if len(parts) != 3 || !s.checkPassword(string(parts[1]), string(parts[2])) {
			return s.reject(e, h, "invalid credentials")
		}
		return s.authenticated(sess, h, e, nil)

	case "SCRAM-SHA-256":
		if sess.scram == nil {
			return s.scramFirst(sess, h, e, string(resp))
		}
		return s.scramFinal(sess, h, e, string(resp))
	}
	return s.reject(e, h, "mechanism %s not supported", mech)
}

func (s *Server) checkPassword(user, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	want, found := s.users[user]
	return found && hmac.Equal([]byte(want), []byte(password))
}

func (s *Server) password(user string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, found := s.users[user]
	return p, found
}

func (s *Server) authenticated(sess *session, h wire.RequestHeader, e *wire.Encoder, final []byte) error {
	sess.authed = true
	sess.scram = nil
	s.authOK.Add(1)
	ok(e, h, wire.StatusSuccess)
	e.Byte(1)
	e.Array(final)
	return nil
}

// reject answers with an error frame and hangs up.
func (s *Server) reject(e *wire.Encoder, h wire.RequestHeader, format string, args ...any) error {
	s.authFail.Add(1)
	fail(e, h, wire.StatusServerError, "authentication failed: "+format, args...)
	return errHangUp
}

func scramAttr(msg string, key byte) string {
	for _, part := range strings.Split(msg, ",") {
		if len(part) >= 2 && part[0] == key && part[1] == '=' {
			return part[2:]
		}
	}
	return ""
}

func (s *Server) scramFirst(sess *session, h wire.RequestHeader, e *wire.Encoder, msg string) error {
	// gs2 header "n,," or "n,a=<authzid>,"
	i := strings.Index(msg, ",")
	j := -1
	if i >= 0 {
		j = strings.Index(msg[i+1:], ",")
	}
	if !strings.HasPrefix(msg, "n,") || j < 0 {
		return s.reject(e, h, "malformed client-first message")
	}
	bare := msg[i+j+2:]
	user := strings.NewReplacer("=2C", ",", "=3D", "=").Replace(scramAttr(bare, 'n'))
	cnonce := scramAttr(bare, 'r')
	if user == "" || cnonce == "" {
		return s.reject(e, h, "malformed client-first message")
	}
	nonce := fmt.Sprintf("%s%x", cnonce, serverNonces.Add(1)+0x5eed)
	first := fmt.Sprintf("r=%s,s=%s,i=%d", nonce, base64.StdEncoding.EncodeToString(scramSalt), scramIterations)
	sess.scram = &scramSession{user: user, clientFirst: bare, serverFirst: first, nonce: nonce}

	ok(e, h, wire.StatusSuccess)
	e.Byte(0)
	e.Array([]byte(first))
	return nil
}

func hmacSHA256(key []byte, msg string) []byte {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(msg))
	return m.Sum(nil)
}

func (s *Server) scramFinal(sess *session, h wire.RequestHeader, e *wire.Encoder, msg string) error {
	sc := sess.scram
	sess.scram = nil
	idx := strings.LastIndex(msg, ",p=")
	if idx < 0 || scramAttr(msg, 'r') != sc.nonce {
		return s.reject(e, h, "malformed client-final message")
	}
	withoutProof := msg[:idx]
	proof, err := base64.StdEncoding.DecodeString(msg[idx+3:])
	if err != nil {
		return s.reject(e, h, "malformed proof")
	}
	pass, found := s.password(sc.user)
	if !found {
		return s.reject(e, h, "invalid credentials")
	}

	salted := pbkdf2.Key([]byte(pass), scramSalt, scramIterations, sha256.Size, sha256.New)
	clientKey := hmacSHA256(salted, "Client Key")
	stored := sha256.Sum256(clientKey)
	authMessage := sc.clientFirst + "," + sc.serverFirst + "," + withoutProof
	clientSig := hmacSHA256(stored[:], authMessage)
	if len(proof) != len(clientSig) {
		return s.reject(e, h, "invalid credentials")
	}
	recovered := make([]byte, len(proof))
	for i := range proof {
		recovered[i] = proof[i] ^ clientSig[i]
	}
	if got := sha256.Sum256(recovered); !hmac.Equal(got[:], stored[:]) {
		return s.reject(e, h, "invalid credentials")
	}
	serverSig := hmacSHA256(hmacSHA256(salted, "Server Key"), authMessage)
	return s.authenticated(sess, h, e, []byte("v="+base64.StdEncoding.EncodeToString(serverSig)))
}

