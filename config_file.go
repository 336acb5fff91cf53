package hotrod

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML form of a configuration.
//
//	servers:
//	  - host: 127.0.0.1
//	    port: 11222
//	protocol: "3.0"
//	sasl:
//	  mechanism: SCRAM-SHA-256
//	  user: app
//	  password: secret
//	connectTimeout: 5s
type FileConfig struct {
	Servers  []ServerAddr `yaml:"servers"`
	Protocol string       `yaml:"protocol"`
	Sasl     *struct {
		Mechanism  string `yaml:"mechanism"`
		ServerName string `yaml:"serverName"`
		User       string `yaml:"user"`
		Password   string `yaml:"password"`
		Realm      string `yaml:"realm"`
		PluginDir  string `yaml:"pluginDir"`
	} `yaml:"sasl"`
	ConnectTimeout    time.Duration `yaml:"connectTimeout"`
	SocketTimeout     time.Duration `yaml:"socketTimeout"`
	MaxConnsPerServer int           `yaml:"maxConnsPerServer"`
	MaxRetries        int           `yaml:"maxRetries"`
	MaxAuthRounds     int           `yaml:"maxAuthRounds"`
}

func (f FileConfig) Builder() *ConfigurationBuilder {
	b := NewConfigurationBuilder().
		Protocol(f.Protocol).
		ConnectTimeout(f.ConnectTimeout).
		SocketTimeout(f.SocketTimeout).
		MaxConnsPerServer(f.MaxConnsPerServer).
		MaxRetries(f.MaxRetries).
		MaxAuthRounds(f.MaxAuthRounds)
	for _, s := range f.Servers {
		b.AddServer(s.Host, coalesce(s.Port, DefaultPort))
	}
	if f.Sasl != nil {
		b.Sasl(f.Sasl.Mechanism, f.Sasl.ServerName, f.Sasl.User, f.Sasl.Password).
			SaslRealm(f.Sasl.Realm).
			SaslPluginDir(f.Sasl.PluginDir)
	}
	return b
}

// ParseConfig decodes YAML into a builder. Unknown fields are rejected.
func ParseConfig(data []byte) (*ConfigurationBuilder, error) {
	var f FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Reason: fmt.Sprintf("parse yaml: %v", err), Err: err}
	}
	return f.Builder(), nil
}

func LoadConfigFile(path string) (*ConfigurationBuilder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "file", Reason: err.Error(), Err: err}
	}
	return ParseConfig(data)
}
