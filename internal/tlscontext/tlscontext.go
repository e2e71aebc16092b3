// Package tlscontext derives an immutable mutual-TLS client context from a
// keystore.Store: the store's ca_N entries become the trust anchors and its
// "key" entry becomes the presented client identity.
package tlscontext

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/twsync/internal/keys"
	"github.com/danmuck/twsync/internal/keystore"
	"github.com/rs/zerolog/log"
)

const DefaultProtocol = "TLS"

var (
	ErrUnsupportedProtocol = errors.New("tlscontext: unsupported protocol")
	ErrInit                = errors.New("tlscontext: init failed")
)

type versionRange struct {
	min uint16
	max uint16
}

var protocols = map[string]versionRange{
	"tls":     {min: tls.VersionTLS12},
	"tlsv1.2": {min: tls.VersionTLS12, max: tls.VersionTLS12},
	"tlsv1.3": {min: tls.VersionTLS13, max: tls.VersionTLS13},
}

// Context is safe for concurrent use; every Config call returns a fresh clone.
type Context struct {
	protocol string
	base     *tls.Config
}

// New resolves protocol and initializes a context from store. pass must be the
// passphrase store was sealed with.
func New(protocol string, store *keystore.Store, pass keystore.Passphrase) (*Context, error) {
	versions, ok := protocols[strings.ToLower(strings.TrimSpace(protocol))]
	if !ok {
		return nil, fmt.Errorf("%w: cannot create context for protocol '%s'", ErrUnsupportedProtocol, protocol)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil keystore", ErrInit)
	}

	identity, err := loadKeyMaterial(store, pass)
	if err != nil {
		return nil, err
	}
	roots, err := loadTrustMaterial(store, pass)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("protocol", protocol).Int("chain", len(identity.Certificate)).Msg("tlscontext.New")
	return &Context{
		protocol: protocol,
		base: &tls.Config{
			MinVersion:   versions.min,
			MaxVersion:   versions.max,
			RootCAs:      roots,
			Certificates: []tls.Certificate{identity},
		},
	}, nil
}

// FromMaterial generates a fresh passphrase, seals m into a store and derives a
// context from it. The passphrase does not outlive this call.
func FromMaterial(protocol string, m keys.Material) (*Context, error) {
	pass, err := keystore.NewPassphrase()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}
	store, err := keystore.Build(m, pass)
	if err != nil {
		return nil, err
	}
	return New(protocol, store, pass)
}

// FromFiles runs the whole chain: load files, build store, derive context.
func FromFiles(protocol string, paths keys.Paths) (*Context, error) {
	m, err := keys.Load(paths)
	if err != nil {
		return nil, err
	}
	return FromMaterial(protocol, m)
}

func (c *Context) Protocol() string {
	return c.protocol
}

// Config returns a client tls.Config that verifies the peer as serverName.
func (c *Context) Config(serverName string) *tls.Config {
	cfg := c.base.Clone()
	cfg.ServerName = serverName
	return cfg
}

func loadKeyMaterial(store *keystore.Store, pass keystore.Passphrase) (tls.Certificate, error) {
	identity, err := store.Identity(pass)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: key material: %w", ErrInit, err)
	}
	return identity, nil
}

func loadTrustMaterial(store *keystore.Store, pass keystore.Passphrase) (*x509.CertPool, error) {
	anchors, err := store.TrustAnchors(pass)
	if err != nil {
		return nil, fmt.Errorf("%w: trust material: %w", ErrInit, err)
	}
	pool := x509.NewCertPool()
	for _, cert := range anchors {
		pool.AddCert(cert)
	}
	return pool, nil
}
