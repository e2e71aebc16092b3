// Package keystore assembles decoded credential material into an in-memory,
// passphrase-protected store. Trust anchors sit under aliases ca_0, ca_1, ...
// and the client identity under the alias "key". Both sections are PKCS#12
// containers sealed with the same passphrase; nothing is ever written to disk.
package keystore

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/danmuck/twsync/internal/keys"
	"github.com/rs/zerolog/log"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

const (
	TrustAliasPrefix = "ca_"
	IdentityAlias    = "key"
)

var (
	ErrBuild  = errors.New("keystore: build failed")
	ErrAccess = errors.New("keystore: entry access failed")
)

var encoder = pkcs12.Modern

// Store holds sealed trust and identity sections. Exactly one Store exists per
// client.
type Store struct {
	aliases  []string
	trust    []byte
	identity []byte
}

// Build seals m under pass. It fails with ErrBuild when an entry cannot be
// added.
func Build(m keys.Material, pass Passphrase) (*Store, error) {
	if pass.IsZero() {
		return nil, fmt.Errorf("%w: empty passphrase", ErrBuild)
	}
	s := &Store{}
	seen := make(map[string]struct{})
	add := func(alias string) error {
		if _, dup := seen[alias]; dup {
			return fmt.Errorf("duplicate alias %q", alias)
		}
		seen[alias] = struct{}{}
		s.aliases = append(s.aliases, alias)
		return nil
	}

	entries := make([]pkcs12.TrustStoreEntry, 0, len(m.TrustAnchors))
	for i, cert := range m.TrustAnchors {
		alias := fmt.Sprintf("%s%d", TrustAliasPrefix, i)
		if cert == nil {
			return nil, fmt.Errorf("%w: could not add CA certificate '%s' as %s: empty entry", ErrBuild, m.Paths.CACert, alias)
		}
		if err := add(alias); err != nil {
			return nil, fmt.Errorf("%w: could not add CA certificate '%s': %w", ErrBuild, m.Paths.CACert, err)
		}
		entries = append(entries, pkcs12.TrustStoreEntry{Cert: cert, FriendlyName: alias})
	}
	if len(entries) > 0 {
		trust, err := encoder.EncodeTrustStoreEntries(entries, pass.value)
		if err != nil {
			return nil, fmt.Errorf("%w: could not add CA certificates of '%s': %w", ErrBuild, m.Paths.CACert, err)
		}
		s.trust = trust
	}

	if m.Key == nil {
		return nil, fmt.Errorf("%w: no private key loaded from '%s'", ErrBuild, m.Paths.ClientKey)
	}
	if len(m.Chain) == 0 || m.Chain[0] == nil {
		return nil, fmt.Errorf("%w: no certificate chain loaded from '%s'", ErrBuild, m.Paths.ClientCert)
	}
	if err := add(IdentityAlias); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}
	identity, err := encoder.Encode(m.Key, m.Chain[0], m.Chain[1:], pass.value)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: could not add private cert '%s' and key '%s': %w",
			ErrBuild, m.Paths.ClientCert, m.Paths.ClientKey, err,
		)
	}
	s.identity = identity

	log.Debug().Strs("aliases", s.aliases).Msg("keystore.Build")
	return s, nil
}

// Aliases lists entry names in insertion order.
func (s *Store) Aliases() []string {
	out := make([]string, len(s.aliases))
	copy(out, s.aliases)
	return out
}

// TrustAnchors unseals the ca_N entries in alias order.
func (s *Store) TrustAnchors(pass Passphrase) ([]*x509.Certificate, error) {
	if s.trust == nil {
		return []*x509.Certificate{}, nil
	}
	certs, err := pkcs12.DecodeTrustStore(s.trust, pass.value)
	if err != nil {
		return nil, fmt.Errorf("%w: trust anchors: %w", ErrAccess, err)
	}
	return certs, nil
}

// Identity unseals the "key" entry as a TLS certificate with its full chain.
func (s *Store) Identity(pass Passphrase) (tls.Certificate, error) {
	key, leaf, rest, err := pkcs12.DecodeChain(s.identity, pass.value)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %s: %w", ErrAccess, IdentityAlias, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return tls.Certificate{}, fmt.Errorf("%w: %s: key of type %T cannot sign", ErrAccess, IdentityAlias, key)
	}
	chain := make([][]byte, 0, 1+len(rest))
	chain = append(chain, leaf.Raw)
	for _, c := range rest {
		chain = append(chain, c.Raw)
	}
	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  signer,
		Leaf:        leaf,
	}, nil
}
