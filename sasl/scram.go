package sasl

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// nonceFunc produces client nonces; tests replace it for fixed vectors.
var nonceFunc = func() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

const minScramIterations = 4096

type scram struct {
	name string
	hash func() hash.Hash
	cb   CallbackHandler

	gs2         string
	nonce       string
	clientFirst string // bare, without the gs2 header
	serverSig   []byte
	verified    bool
	step        int
}

func newScramSHA256(_ string, cb CallbackHandler) (Mechanism, error) {
	return &scram{name: MechScramSHA256, hash: sha256.New, cb: cb}, nil
}

func newScramSHA512(_ string, cb CallbackHandler) (Mechanism, error) {
	return &scram{name: MechScramSHA512, hash: sha512.New, cb: cb}, nil
}

func (s *scram) Name() string { return s.name }

var scramEscaper = strings.NewReplacer("=", "=3D", ",", "=2C")

func (s *scram) Start() ([]byte, error) {
	user, err := need(s.cb, CallbackUser)
	if err != nil {
		return nil, err
	}
	nonce, err := nonceFunc()
	if err != nil {
		return nil, err
	}
	s.nonce = nonce
	s.gs2 = "n,,"
	if authz := optional(s.cb, CallbackAuthName); authz != "" {
		s.gs2 = "n,a=" + scramEscaper.Replace(authz) + ","
	}
	s.clientFirst = "n=" + scramEscaper.Replace(user) + ",r=" + nonce
	s.step = 1
	return []byte(s.gs2 + s.clientFirst), nil
}

func scramAttrs(msg string) map[byte]string {
	out := make(map[byte]string)
	for _, part := range strings.Split(msg, ",") {
		if len(part) < 2 || part[1] != '=' {
			continue
		}
		out[part[0]] = part[2:]
	}
	return out
}

func (s *scram) hmac(key []byte, msg string) []byte {
	m := hmac.New(s.hash, key)
	m.Write([]byte(msg))
	return m.Sum(nil)
}

func (s *scram) Next(challenge []byte) ([]byte, error) {
	switch s.step {
	case 1:
		return s.clientFinal(string(challenge))
	case 2:
		if err := s.verify(string(challenge)); err != nil {
			return nil, err
		}
		s.step = 3
		return nil, nil
	}
	return nil, ErrUnexpectedChallenge
}

func (s *scram) clientFinal(serverFirst string) ([]byte, error) {
	attrs := scramAttrs(serverFirst)
	if e, ok := attrs['e']; ok {
		return nil, fmt.Errorf("%w: %s", ErrRejected, e)
	}
	nonce := attrs['r']
	if !strings.HasPrefix(nonce, s.nonce) || len(nonce) == len(s.nonce) {
		return nil, fmt.Errorf("%w: server nonce does not extend client nonce", ErrServerVerification)
	}
	salt, err := base64.StdEncoding.DecodeString(attrs['s'])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: bad salt", ErrServerVerification)
	}
	iter, err := strconv.Atoi(attrs['i'])
	if err != nil || iter < minScramIterations {
		return nil, fmt.Errorf("%w: bad iteration count %q", ErrServerVerification, attrs['i'])
	}
	pass, err := need(s.cb, CallbackPassword)
	if err != nil {
		return nil, err
	}

	salted := pbkdf2.Key([]byte(pass), salt, iter, s.hash().Size(), s.hash)
	clientKey := s.hmac(salted, "Client Key")
	h := s.hash()
	h.Write(clientKey)
	storedKey := h.Sum(nil)

	withoutProof := "c=" + base64.StdEncoding.EncodeToString([]byte(s.gs2)) + ",r=" + nonce
	authMessage := s.clientFirst + "," + serverFirst + "," + withoutProof
	clientSig := s.hmac(storedKey, authMessage)
	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ clientSig[i]
	}
	s.serverSig = s.hmac(s.hmac(salted, "Server Key"), authMessage)
	s.step = 2
	return []byte(withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)), nil
}

func (s *scram) verify(serverFinal string) error {
	attrs := scramAttrs(serverFinal)
	if e, ok := attrs['e']; ok {
		return fmt.Errorf("%w: %s", ErrRejected, e)
	}
	v, err := base64.StdEncoding.DecodeString(attrs['v'])
	if err != nil || !hmac.Equal(v, s.serverSig) {
		return ErrServerVerification
	}
	s.verified = true
	return nil
}

func (s *scram) Complete(final []byte) error {
	if s.verified {
		if len(final) != 0 {
			return ErrUnexpectedChallenge
		}
		return nil
	}
	if s.step != 2 {
		return ErrServerVerification
	}
	return s.verify(string(final))
}
