// Package keys turns credential files into decoded trust anchors, a client
// certificate chain and an RSA private key. It performs no TLS work.
package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidInput       = errors.New("keys: invalid input")
	ErrCertificateDecode  = errors.New("keys: certificate decode failed")
	ErrUnsupportedKeyType = errors.New("keys: unsupported private key type")
	ErrKeyDecode          = errors.New("keys: private key decode failed")
)

// Paths names the three credential files.
type Paths struct {
	CACert     string
	ClientCert string
	ClientKey  string
}

// Material is the decoded credential set. Chain is leaf-first.
type Material struct {
	Paths        Paths
	TrustAnchors []*x509.Certificate
	Chain        []*x509.Certificate
	Key          *rsa.PrivateKey
}

// Load validates that every path exists, then decodes all three files.
func Load(paths Paths) (Material, error) {
	if err := requireFile(paths.CACert, "CA certificate"); err != nil {
		return Material{}, err
	}
	if err := requireFile(paths.ClientCert, "Private key certificate"); err != nil {
		return Material{}, err
	}
	if err := requireFile(paths.ClientKey, "Private key"); err != nil {
		return Material{}, err
	}

	anchors, err := LoadCertificates(paths.CACert)
	if err != nil {
		return Material{}, err
	}
	chain, err := LoadCertificates(paths.ClientCert)
	if err != nil {
		return Material{}, err
	}
	key, err := LoadPrivateKey(paths.ClientKey)
	if err != nil {
		return Material{}, err
	}

	log.Debug().
		Int("trust_anchors", len(anchors)).
		Int("chain", len(chain)).
		Str("key_file", paths.ClientKey).
		Msg("keys.Load")
	return Material{
		Paths:        paths,
		TrustAnchors: anchors,
		Chain:        chain,
		Key:          key,
	}, nil
}

func requireFile(path string, what string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: %s path is empty", ErrInvalidInput, what)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s '%s' does not exist", ErrInvalidInput, what, path)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s '%s' is a directory", ErrInvalidInput, what, path)
	}
	return nil
}
