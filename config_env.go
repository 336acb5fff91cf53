package hotrod

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvConfig mirrors the builder settings as HOTROD_* environment variables.
type EnvConfig struct {
	Servers           string        `env:"HOTROD_SERVERS" envDefault:"127.0.0.1:11222"`
	Protocol          string        `env:"HOTROD_PROTOCOL" envDefault:"3.0"`
	SaslMechanism     string        `env:"HOTROD_SASL_MECHANISM"`
	SaslServerName    string        `env:"HOTROD_SASL_SERVER_NAME"`
	SaslUser          string        `env:"HOTROD_SASL_USER"`
	SaslPassword      string        `env:"HOTROD_SASL_PASSWORD,unset"`
	SaslRealm         string        `env:"HOTROD_SASL_REALM"`
	SaslPluginDir     string        `env:"HOTROD_SASL_PLUGIN_DIR"`
	ConnectTimeout    time.Duration `env:"HOTROD_CONNECT_TIMEOUT"`
	SocketTimeout     time.Duration `env:"HOTROD_SOCKET_TIMEOUT"`
	MaxConnsPerServer int           `env:"HOTROD_MAX_CONNS_PER_SERVER"`
	MaxRetries        int           `env:"HOTROD_MAX_RETRIES"`
	MaxAuthRounds     int           `env:"HOTROD_MAX_AUTH_ROUNDS"`
}

// Builder turns the parsed variables into a builder.
func (e EnvConfig) Builder() *ConfigurationBuilder {
	b := NewConfigurationBuilder().
		AddServers(e.Servers).
		Protocol(e.Protocol).
		ConnectTimeout(e.ConnectTimeout).
		SocketTimeout(e.SocketTimeout).
		MaxConnsPerServer(e.MaxConnsPerServer).
		MaxRetries(e.MaxRetries).
		MaxAuthRounds(e.MaxAuthRounds)
	if e.SaslMechanism != "" {
		b.Sasl(e.SaslMechanism, e.SaslServerName, e.SaslUser, e.SaslPassword).
			SaslRealm(e.SaslRealm).
			SaslPluginDir(e.SaslPluginDir)
	}
	return b
}

// ConfigFromEnv reads HOTROD_* variables. The password variable is unset
// from the environment once read.
func ConfigFromEnv() (*ConfigurationBuilder, error) {
	var e EnvConfig
	if err := env.Parse(&e); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("failed to parse env: %v", err), Err: err}
	}
	return e.Builder(), nil
}
