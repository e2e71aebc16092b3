package keys

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

const pemCertificateType = "CERTIFICATE"

// LoadCertificates decodes every certificate in path, in file order.
func LoadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read '%s': %w", ErrCertificateDecode, path, err)
	}
	certs, err := ParseCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %w", ErrCertificateDecode, path, err)
	}
	return certs, nil
}

// ParseCertificates decodes one certificate at a time from data until it is
// exhausted. Data is either concatenated DER (which always opens with a
// SEQUENCE tag) or concatenated PEM blocks. Empty input yields an empty,
// non-nil slice.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	if len(data) > 0 && data[0] == 0x30 {
		return parseDERCertificates(data)
	}
	return parsePEMCertificates(data)
}

func parsePEMCertificates(rest []byte) ([]*x509.Certificate, error) {
	out := []*x509.Certificate{}
	for len(bytes.TrimSpace(rest)) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("certificate %d: trailing data is not a PEM block", len(out))
		}
		if block.Type != pemCertificateType {
			return nil, fmt.Errorf("certificate %d: unexpected PEM block %q", len(out), block.Type)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("certificate %d: %w", len(out), err)
		}
		out = append(out, cert)
	}
	return out, nil
}

func parseDERCertificates(data []byte) ([]*x509.Certificate, error) {
	out := []*x509.Certificate{}
	s := cryptobyte.String(data)
	for !s.Empty() {
		var element cryptobyte.String
		if !s.ReadASN1Element(&element, cbasn1.SEQUENCE) {
			return nil, fmt.Errorf("certificate %d: malformed DER sequence", len(out))
		}
		cert, err := x509.ParseCertificate(element)
		if err != nil {
			return nil, fmt.Errorf("certificate %d: %w", len(out), err)
		}
		out = append(out, cert)
	}
	return out, nil
}
