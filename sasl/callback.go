package sasl

import "fmt"

// CallbackID names a value a mechanism may ask for during negotiation.
type CallbackID int

const (
	CallbackUser CallbackID = iota + 1
	CallbackAuthName
	CallbackPassword
	CallbackRealm
	CallbackPath
)

func (id CallbackID) String() string {
	switch id {
	case CallbackUser:
		return "user"
	case CallbackAuthName:
		return "authname"
	case CallbackPassword:
		return "password"
	case CallbackRealm:
		return "realm"
	case CallbackPath:
		return "path"
	}
	return fmt.Sprintf("callback(%d)", int(id))
}

// CallbackHandler supplies values on demand. Returning "" with a nil error
// means the value is not set.
type CallbackHandler interface {
	Handle(id CallbackID) (string, error)
}

// CallbackFunc adapts a function to CallbackHandler.
type CallbackFunc func(id CallbackID) (string, error)

func (f CallbackFunc) Handle(id CallbackID) (string, error) { return f(id) }

// Credentials owns copies of the values handed to callbacks. The copy held by a
// configuration lives as long as the configuration; each negotiation works on
// a Clone and wipes it when it ends.
type Credentials struct {
	user      string
	authzid   string
	realm     string
	pluginDir string
	password  []byte
}

func NewCredentials(user, password, realm, pluginDir string) *Credentials {
	return &Credentials{
		user:      user,
		realm:     realm,
		pluginDir: pluginDir,
		password:  []byte(password),
	}
}

// WithAuthzID sets the authorization identity sent by PLAIN and EXTERNAL.
func (c *Credentials) WithAuthzID(id string) *Credentials {
	c.authzid = id
	return c
}

func (c *Credentials) User() string  { return c.user }
func (c *Credentials) Realm() string { return c.realm }

// HasSecret reports whether both user and password are set.
func (c *Credentials) HasSecret() bool { return c.user != "" && len(c.password) > 0 }

func (c *Credentials) Clone() *Credentials {
	cp := *c
	cp.password = append([]byte(nil), c.password...)
	return &cp
}

// Wipe zeroes the password copy. The credentials are unusable afterwards.
func (c *Credentials) Wipe() {
	for i := range c.password {
		c.password[i] = 0
	}
	c.password = nil
}

func (c *Credentials) Handle(id CallbackID) (string, error) {
	switch id {
	case CallbackUser:
		return c.user, nil
	case CallbackAuthName:
		return c.authzid, nil
	case CallbackPassword:
		return string(c.password), nil
	case CallbackRealm:
		return c.realm, nil
	case CallbackPath:
		return c.pluginDir, nil
	}
	return "", fmt.Errorf("sasl: unsupported callback %s", id)
}

// need fetches a required callback value.
func need(cb CallbackHandler, id CallbackID) (string, error) {
	if cb == nil {
		return "", fmt.Errorf("%w: no callback handler for %s", ErrMissingCredential, id)
	}
	v, err := cb.Handle(id)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingCredential, id)
	}
	return v, nil
}

// optional fetches a callback value that may be empty.
func optional(cb CallbackHandler, id CallbackID) string {
	if cb == nil {
		return ""
	}
	v, err := cb.Handle(id)
	if err != nil {
		return ""
	}
	return v
}
