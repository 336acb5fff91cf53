package hotrod

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/unkn0wn-root/hotrod/internal/wire"
	"github.com/unkn0wn-root/hotrod/sasl"
)

// ServerAddr is one configured server.
type ServerAddr struct {
	Host string `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

func (a ServerAddr) String() string { return net.JoinHostPort(a.Host, strconv.Itoa(a.Port)) }

// settings is the validated part of the builder state.
type settings struct {
	Servers  []ServerAddr `validate:"required,min=1,dive"`
	Protocol string       `validate:"required"`

	Mechanism  string
	ServerName string `validate:"omitempty,hostname_rfc1123"`
	User       string
	Password   string
	Realm      string
	PluginDir  string

	ConnectTimeout    time.Duration `validate:"gte=0"`
	SocketTimeout     time.Duration `validate:"gte=0"`
	MaxConnsPerServer int           `validate:"gte=0"`
	MaxRetries        int           `validate:"gte=0"`
	MaxAuthRounds     int           `validate:"gte=0"`
}

// ConfigurationBuilder collects settings; Build validates them and returns an
// immutable Configuration. Zero values select defaults.
type ConfigurationBuilder struct {
	s       settings
	errs    []error
	tls     *tls.Config
	logger  Logger
	hooks   Hooks
	handler sasl.CallbackHandler
}

func NewConfigurationBuilder() *ConfigurationBuilder {
	return &ConfigurationBuilder{}
}

// AddServer appends a server; order is preserved and used by Start.
func (b *ConfigurationBuilder) AddServer(host string, port int) *ConfigurationBuilder {
	b.s.Servers = append(b.s.Servers, ServerAddr{Host: host, Port: port})
	return b
}

// AddServers parses "host[:port];host[:port]" and appends each entry.
// A missing port means DefaultPort.
func (b *ConfigurationBuilder) AddServers(list string) *ConfigurationBuilder {
	for _, part := range strings.Split(list, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(part)
		if err != nil {
			host, portStr = strings.Trim(part, "[]"), strconv.Itoa(DefaultPort)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			b.errs = append(b.errs, &ConfigError{Field: "servers", Reason: fmt.Sprintf("bad port in %q", part), Err: err})
			continue
		}
		b.AddServer(host, port)
	}
	return b
}

// Protocol sets the protocol version, e.g. "3.0".
func (b *ConfigurationBuilder) Protocol(version string) *ConfigurationBuilder {
	b.s.Protocol = version
	return b
}

// Sasl enables authentication. serverName is the FQDN some mechanisms bind to
// (DIGEST-MD5 requires it).
func (b *ConfigurationBuilder) Sasl(mechanism, serverName, user, password string) *ConfigurationBuilder {
	b.s.Mechanism = mechanism
	b.s.ServerName = serverName
	b.s.User = user
	b.s.Password = password
	return b
}

func (b *ConfigurationBuilder) SaslRealm(realm string) *ConfigurationBuilder {
	b.s.Realm = realm
	return b
}

// SaslPluginDir is handed to callback handlers asking for CallbackPath.
func (b *ConfigurationBuilder) SaslPluginDir(dir string) *ConfigurationBuilder {
	b.s.PluginDir = dir
	return b
}

// SaslCallbackHandler replaces the credentials-backed handler.
func (b *ConfigurationBuilder) SaslCallbackHandler(h sasl.CallbackHandler) *ConfigurationBuilder {
	b.handler = h
	return b
}

func (b *ConfigurationBuilder) ConnectTimeout(d time.Duration) *ConfigurationBuilder {
	b.s.ConnectTimeout = d
	return b
}

func (b *ConfigurationBuilder) SocketTimeout(d time.Duration) *ConfigurationBuilder {
	b.s.SocketTimeout = d
	return b
}

func (b *ConfigurationBuilder) MaxConnsPerServer(n int) *ConfigurationBuilder {
	b.s.MaxConnsPerServer = n
	return b
}

// MaxRetries enables retries of transport and timeout failures on another
// connection. Zero (the default) disables them.
func (b *ConfigurationBuilder) MaxRetries(n int) *ConfigurationBuilder {
	b.s.MaxRetries = n
	return b
}

func (b *ConfigurationBuilder) MaxAuthRounds(n int) *ConfigurationBuilder {
	b.s.MaxAuthRounds = n
	return b
}

func (b *ConfigurationBuilder) TLS(cfg *tls.Config) *ConfigurationBuilder {
	b.tls = cfg
	return b
}

func (b *ConfigurationBuilder) Logger(l Logger) *ConfigurationBuilder {
	b.logger = l
	return b
}

func (b *ConfigurationBuilder) Hooks(h Hooks) *ConfigurationBuilder {
	b.hooks = h
	return b
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Build validates the collected settings.
func (b *ConfigurationBuilder) Build() (*Configuration, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	s := b.s
	s.Protocol = coalesce(s.Protocol, DefaultProtocol)
	if err := validate.Struct(s); err != nil {
		return nil, validationError(err)
	}
	if s.ConnectTimeout < 0 || s.SocketTimeout < 0 {
		return nil, &ConfigError{Field: "timeouts", Reason: "must not be negative"}
	}
	v, err := wire.ParseVersion(s.Protocol)
	if err != nil {
		return nil, &ConfigError{Field: "protocol", Reason: err.Error(), Err: err}
	}

	cfg := &Configuration{
		servers:        append([]ServerAddr(nil), s.Servers...),
		protocol:       s.Protocol,
		version:        v,
		connectTimeout: coalesce(s.ConnectTimeout, DefaultConnectTimeout),
		socketTimeout:  coalesce(s.SocketTimeout, DefaultSocketTimeout),
		maxConns:       coalesce(s.MaxConnsPerServer, DefaultMaxConnsPerServer),
		maxRetries:     s.MaxRetries,
		maxAuthRounds:  coalesce(s.MaxAuthRounds, DefaultMaxAuthRounds),
		logger:         b.logger,
		hooks:          b.hooks,
	}
	if b.tls != nil {
		cfg.tls = b.tls.Clone()
	}
	if cfg.logger == nil {
		cfg.logger = NopLogger{}
	}
	if cfg.hooks == nil {
		cfg.hooks = NopHooks{}
	}

	if s.Mechanism != "" {
		sc, err := buildSasl(s, b.handler)
		if err != nil {
			return nil, err
		}
		cfg.sasl = sc
	}
	return cfg, nil
}

func buildSasl(s settings, handler sasl.CallbackHandler) (*saslConfig, error) {
	mech := strings.ToUpper(s.Mechanism)
	req, err := sasl.RequirementsOf(mech)
	if err != nil {
		return nil, &ConfigError{Field: "sasl.mechanism", Reason: fmt.Sprintf("unknown mechanism %q", s.Mechanism), Err: err}
	}
	if req.ServerName && s.ServerName == "" {
		return nil, &ConfigError{Field: "sasl.serverName", Reason: mech + " requires a server name"}
	}
	sc := &saslConfig{mechanism: mech, serverName: s.ServerName, handler: handler}
	if handler == nil {
		if req.Credentials && (s.User == "" || s.Password == "") {
			return nil, &ConfigError{Field: "sasl.credentials", Reason: mech + " requires user and password"}
		}
		sc.creds = sasl.NewCredentials(s.User, s.Password, s.Realm, s.PluginDir)
	}
	return sc, nil
}

func validationError(err error) error {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		fe := ves[0]
		reason := fmt.Sprintf("failed %q", fe.Tag())
		if fe.Param() != "" {
			reason = fmt.Sprintf("failed %q (%s)", fe.Tag(), fe.Param())
		}
		if fe.Value() != nil && fe.Field() != "Password" {
			reason += fmt.Sprintf(", got %v", fe.Value())
		}
		return &ConfigError{Field: fe.Namespace(), Reason: reason, Err: err}
	}
	return &ConfigError{Reason: err.Error(), Err: err}
}

type saslConfig struct {
	mechanism  string
	serverName string
	creds      *sasl.Credentials
	handler    sasl.CallbackHandler
}

// callbacks returns the handler for one negotiation and a release func the
// negotiation calls when it ends.
func (s *saslConfig) callbacks() (sasl.CallbackHandler, func()) {
	if s.handler != nil {
		return s.handler, func() {}
	}
	c := s.creds.Clone()
	return c, c.Wipe
}

// Configuration is immutable once built and backs at most one manager.
type Configuration struct {
	servers        []ServerAddr
	protocol       string
	version        wire.Version
	sasl           *saslConfig
	connectTimeout time.Duration
	socketTimeout  time.Duration
	maxConns       int
	maxRetries     int
	maxAuthRounds  int
	tls            *tls.Config
	logger         Logger
	hooks          Hooks

	claimed atomic.Bool
}

func (c *Configuration) Servers() []ServerAddr {
	return append([]ServerAddr(nil), c.servers...)
}

func (c *Configuration) Protocol() string { return c.protocol }

// SaslMechanism returns the configured mechanism, "" when authentication is off.
func (c *Configuration) SaslMechanism() string {
	if c.sasl == nil {
		return ""
	}
	return c.sasl.mechanism
}

func (c *Configuration) ConnectTimeout() time.Duration { return c.connectTimeout }
func (c *Configuration) SocketTimeout() time.Duration  { return c.socketTimeout }
func (c *Configuration) MaxConnsPerServer() int        { return c.maxConns }
func (c *Configuration) MaxRetries() int               { return c.maxRetries }
func (c *Configuration) MaxAuthRounds() int            { return c.maxAuthRounds }
