// Package config assembles client connection settings from defaults, TOML,
// dotenv files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/twsync/internal/protocol"
	"github.com/google/uuid"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// ConnectionConfig is everything the client needs to reach and authenticate
// against one server.
type ConnectionConfig interface {
	CACertPath() string
	ClientCertPath() string
	ClientKeyPath() string
	Host() string
	Port() int
	Auth() protocol.Auth
}

// Settings is the concrete configuration assembled from defaults, a TOML file
// and the environment.
type Settings struct {
	ServerHost string
	ServerPort int
	// ServerName is matched against the server certificate. Empty means ServerHost.
	ServerName string
	Protocol   string

	CACertFile     string
	ClientCertFile string
	ClientKeyFile  string

	Organization string
	User         string
	Key          uuid.UUID

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageBytes  uint32
}

var _ ConnectionConfig = Settings{}

func DefaultSettings() Settings {
	return Settings{
		ServerPort:       53589,
		Protocol:         "TLS",
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      15 * time.Second,
		WriteTimeout:     15 * time.Second,
		MaxMessageBytes:  8 << 20,
	}
}

func (s Settings) CACertPath() string     { return s.CACertFile }
func (s Settings) ClientCertPath() string { return s.ClientCertFile }
func (s Settings) ClientKeyPath() string  { return s.ClientKeyFile }
func (s Settings) Host() string           { return s.ServerHost }
func (s Settings) Port() int              { return s.ServerPort }

func (s Settings) Auth() protocol.Auth {
	return protocol.Auth{Organization: s.Organization, User: s.User, Key: s.Key}
}

func (s Settings) VerifyName() string {
	if name := strings.TrimSpace(s.ServerName); name != "" {
		return name
	}
	return s.ServerHost
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.ServerHost) == "" {
		return fmt.Errorf("%w: server_host is required", ErrInvalidConfig)
	}
	if s.ServerPort < 1 || s.ServerPort > 65535 {
		return fmt.Errorf("%w: server_port %d out of range", ErrInvalidConfig, s.ServerPort)
	}
	if strings.TrimSpace(s.Protocol) == "" {
		return fmt.Errorf("%w: tls_protocol is required", ErrInvalidConfig)
	}
	files := []struct{ label, key, path string }{
		{"CA certificate", "ssl_cert_ca_file", s.CACertFile},
		{"Client certificate", "ssl_cert_key_file", s.ClientCertFile},
		{"Private key", "ssl_private_key_file", s.ClientKeyFile},
	}
	for _, f := range files {
		if strings.TrimSpace(f.path) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidConfig, f.key)
		}
		if _, err := os.Stat(f.path); err != nil {
			return fmt.Errorf("%w: %s file '%s' does not exist.", ErrInvalidConfig, f.label, f.path)
		}
	}
	if strings.TrimSpace(s.Organization) == "" {
		return fmt.Errorf("%w: auth_organization is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(s.User) == "" {
		return fmt.Errorf("%w: auth_user is required", ErrInvalidConfig)
	}
	if s.Key == uuid.Nil {
		return fmt.Errorf("%w: auth_key is required", ErrInvalidConfig)
	}
	for key, d := range map[string]time.Duration{
		"connect_timeout":   s.ConnectTimeout,
		"handshake_timeout": s.HandshakeTimeout,
		"read_timeout":      s.ReadTimeout,
		"write_timeout":     s.WriteTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, key)
		}
	}
	return nil
}
