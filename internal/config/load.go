package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// EnvPrefix marks environment overrides: TWSYNC_ plus the upper-cased file key,
// e.g. TWSYNC_SERVER_HOST.
const EnvPrefix = "TWSYNC_"

// twsync.toml key mapping to Settings.
type fileConfig struct {
	ServerHost       string `toml:"server_host"`
	ServerPort       int    `toml:"server_port"`
	ServerName       string `toml:"server_name"`
	Protocol         string `toml:"tls_protocol"`
	CACertFile       string `toml:"ssl_cert_ca_file"`
	ClientCertFile   string `toml:"ssl_cert_key_file"`
	ClientKeyFile    string `toml:"ssl_private_key_file"`
	Organization     string `toml:"auth_organization"`
	User             string `toml:"auth_user"`
	Key              string `toml:"auth_key"`
	ConnectTimeout   string `toml:"connect_timeout"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	ReadTimeout      string `toml:"read_timeout"`
	WriteTimeout     string `toml:"write_timeout"`
	MaxMessageBytes  int64  `toml:"max_message_bytes"`
}

var fileKeys = []string{
	"server_host",
	"server_port",
	"server_name",
	"tls_protocol",
	"ssl_cert_ca_file",
	"ssl_cert_key_file",
	"ssl_private_key_file",
	"auth_organization",
	"auth_user",
	"auth_key",
	"connect_timeout",
	"handshake_timeout",
	"read_timeout",
	"write_timeout",
	"max_message_bytes",
}

// Load assembles Settings from defaults, the optional TOML file at path, the
// optional dotenv files and the process environment, then validates them.
func Load(path string, dotenv ...string) (Settings, error) {
	cfg := DefaultSettings()
	if strings.TrimSpace(path) != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return Settings{}, err
		}
	}
	env, err := Environ(dotenv...)
	if err != nil {
		return Settings{}, err
	}
	if err := ApplyEnv(&cfg, env); err != nil {
		return Settings{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	log.Debug().
		Str("host", cfg.ServerHost).
		Int("port", cfg.ServerPort).
		Str("protocol", cfg.Protocol).
		Str("org", cfg.Organization).
		Str("user", cfg.User).
		Msg("config.Load")
	return cfg, nil
}

// LoadFile overlays the keys defined in the TOML file at path onto
// DefaultSettings. It does not validate.
func LoadFile(path string) (Settings, error) {
	cfg := DefaultSettings()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Settings{}, fmt.Errorf("load twsync config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Settings{}, fmt.Errorf("load twsync config: unknown key %q in %s", undecoded[0].String(), path)
	}

	if meta.IsDefined("server_host") {
		cfg.ServerHost = strings.TrimSpace(raw.ServerHost)
	}
	if meta.IsDefined("server_port") {
		cfg.ServerPort = raw.ServerPort
	}
	if meta.IsDefined("server_name") {
		cfg.ServerName = strings.TrimSpace(raw.ServerName)
	}
	if meta.IsDefined("tls_protocol") {
		cfg.Protocol = strings.TrimSpace(raw.Protocol)
	}
	if meta.IsDefined("ssl_cert_ca_file") {
		cfg.CACertFile = resolvePath(path, raw.CACertFile)
	}
	if meta.IsDefined("ssl_cert_key_file") {
		cfg.ClientCertFile = resolvePath(path, raw.ClientCertFile)
	}
	if meta.IsDefined("ssl_private_key_file") {
		cfg.ClientKeyFile = resolvePath(path, raw.ClientKeyFile)
	}
	if meta.IsDefined("auth_organization") {
		cfg.Organization = strings.TrimSpace(raw.Organization)
	}
	if meta.IsDefined("auth_user") {
		cfg.User = strings.TrimSpace(raw.User)
	}
	if meta.IsDefined("auth_key") {
		if err := cfg.set("auth_key", raw.Key); err != nil {
			return Settings{}, fmt.Errorf("load twsync config: %w", err)
		}
	}
	durations := map[string]string{
		"connect_timeout":   raw.ConnectTimeout,
		"handshake_timeout": raw.HandshakeTimeout,
		"read_timeout":      raw.ReadTimeout,
		"write_timeout":     raw.WriteTimeout,
	}
	for key, value := range durations {
		if !meta.IsDefined(key) {
			continue
		}
		if err := cfg.set(key, value); err != nil {
			return Settings{}, fmt.Errorf("load twsync config: %w", err)
		}
	}
	if meta.IsDefined("max_message_bytes") {
		if raw.MaxMessageBytes < 0 || raw.MaxMessageBytes > math.MaxUint32 {
			return Settings{}, fmt.Errorf("load twsync config: max_message_bytes %d out of range", raw.MaxMessageBytes)
		}
		cfg.MaxMessageBytes = uint32(raw.MaxMessageBytes)
	}
	return cfg, nil
}

// Credential paths in a config file are relative to the file's directory.
func resolvePath(configPath string, p string) string {
	resolved := strings.TrimSpace(p)
	if resolved == "" || filepath.IsAbs(resolved) {
		return resolved
	}
	return filepath.Join(filepath.Dir(configPath), resolved)
}

// Environ returns the TWSYNC_ variables from the dotenv files overlaid with the
// process environment. Process values win.
func Environ(dotenv ...string) (map[string]string, error) {
	env := make(map[string]string)
	if len(dotenv) > 0 {
		values, err := godotenv.Read(dotenv...)
		if err != nil {
			return nil, fmt.Errorf("load twsync env: %w", err)
		}
		for k, v := range values {
			if strings.HasPrefix(k, EnvPrefix) {
				env[k] = v
			}
		}
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}
	return env, nil
}

// ApplyEnv overlays TWSYNC_* values from env onto cfg.
func ApplyEnv(cfg *Settings, env map[string]string) error {
	for _, key := range fileKeys {
		name := EnvPrefix + strings.ToUpper(key)
		value, ok := env[name]
		if !ok {
			continue
		}
		if err := cfg.set(key, value); err != nil {
			return fmt.Errorf("load twsync env: %s: %w", name, err)
		}
	}
	return nil
}

func (s *Settings) set(key string, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case "server_host":
		s.ServerHost = value
	case "server_port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("cannot resolve port '%s' because it is not parsable", value)
		}
		s.ServerPort = port
	case "server_name":
		s.ServerName = value
	case "tls_protocol":
		s.Protocol = value
	case "ssl_cert_ca_file":
		s.CACertFile = value
	case "ssl_cert_key_file":
		s.ClientCertFile = value
	case "ssl_private_key_file":
		s.ClientKeyFile = value
	case "auth_organization":
		s.Organization = value
	case "auth_user":
		s.User = value
	case "auth_key":
		key, err := uuid.Parse(value)
		if err != nil {
			return fmt.Errorf("authentication key '%s' is not a parsable UUID", value)
		}
		s.Key = key
	case "connect_timeout", "handshake_timeout", "read_timeout", "write_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s '%s' is not a duration", key, value)
		}
		switch key {
		case "connect_timeout":
			s.ConnectTimeout = d
		case "handshake_timeout":
			s.HandshakeTimeout = d
		case "read_timeout":
			s.ReadTimeout = d
		default:
			s.WriteTimeout = d
		}
	case "max_message_bytes":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("max_message_bytes '%s' is not a 32-bit size", value)
		}
		s.MaxMessageBytes = uint32(n)
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}
