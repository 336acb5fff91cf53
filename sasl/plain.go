package sasl

type plain struct {
	cb CallbackHandler
}

func newPlain(_ string, cb CallbackHandler) (Mechanism, error) {
	return &plain{cb: cb}, nil
}

func (p *plain) Name() string { return MechPlain }

// Start sends authzid NUL user NUL password (RFC 4616).
func (p *plain) Start() ([]byte, error) {
	user, err := need(p.cb, CallbackUser)
	if err != nil {
		return nil, err
	}
	pass, err := need(p.cb, CallbackPassword)
	if err != nil {
		return nil, err
	}
	authz := optional(p.cb, CallbackAuthName)
	out := make([]byte, 0, len(authz)+len(user)+len(pass)+2)
	out = append(out, authz...)
	out = append(out, 0)
	out = append(out, user...)
	out = append(out, 0)
	out = append(out, pass...)
	return out, nil
}

func (p *plain) Next(challenge []byte) ([]byte, error) {
	if len(challenge) != 0 {
		return nil, ErrUnexpectedChallenge
	}
	return nil, nil
}

func (p *plain) Complete([]byte) error { return nil }

type external struct {
	cb CallbackHandler
}

func newExternal(_ string, cb CallbackHandler) (Mechanism, error) {
	return &external{cb: cb}, nil
}

func (e *external) Name() string { return MechExternal }

// Start sends the optional authorization identity; the identity itself comes
// from the transport (TLS client certificate).
func (e *external) Start() ([]byte, error) {
	return []byte(optional(e.cb, CallbackAuthName)), nil
}

func (e *external) Next(challenge []byte) ([]byte, error) {
	if len(challenge) != 0 {
		return nil, ErrUnexpectedChallenge
	}
	return nil, nil
}

func (e *external) Complete([]byte) error { return nil }
