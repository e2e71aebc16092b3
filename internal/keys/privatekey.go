package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

const (
	pemExtension      = ".pem"
	pkcs1LabelSuffix  = "RSA PRIVATE KEY"
	pkcs8LabelSuffix  = "PRIVATE KEY"
	pkcs1TwoPrimeVers = 0
)

// EncodedKey is the result of the single parse step over a key file: either
// PKCS1 or PKCS8.
type EncodedKey interface {
	isEncodedKey()
}

// PKCS1 carries the raw RSA parameter sequence of an RFC 8017 RSAPrivateKey.
type PKCS1 struct {
	N, E, D, P, Q, Dp, Dq, Qinv *big.Int
}

// PKCS8 carries a DER-encoded, algorithm-tagged PrivateKeyInfo.
type PKCS8 struct {
	DER []byte
}

func (PKCS1) isEncodedKey() {}
func (PKCS8) isEncodedKey() {}

// LoadPrivateKey reads path and decodes it by file extension: *.pem files hold
// one PEM block, anything else is raw PKCS#8 DER.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read '%s': %w", ErrKeyDecode, path, err)
	}
	return ParsePrivateKey(path, data)
}

// ParsePrivateKey decodes data, using name only to select PEM or DER handling
// and to label errors.
func ParsePrivateKey(name string, data []byte) (*rsa.PrivateKey, error) {
	encoded, err := ParseEncodedKey(name, data)
	if err != nil {
		return nil, err
	}
	key, err := PrivateKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %w", ErrKeyDecode, name, err)
	}
	return key, nil
}

// ParseEncodedKey classifies the key file contents without building the key.
func ParseEncodedKey(name string, data []byte) (EncodedKey, error) {
	if !strings.EqualFold(filepath.Ext(name), pemExtension) {
		return PKCS8{DER: data}, nil
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: '%s': no PEM block found", ErrKeyDecode, name)
	}
	switch {
	case strings.HasSuffix(block.Type, pkcs1LabelSuffix):
		params, err := parsePKCS1(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: '%s': %w", ErrKeyDecode, name, err)
		}
		return params, nil
	case strings.HasSuffix(block.Type, pkcs8LabelSuffix):
		return PKCS8{DER: block.Bytes}, nil
	default:
		return nil, fmt.Errorf("%w: '%s' has PEM label %q", ErrUnsupportedKeyType, name, block.Type)
	}
}

// PrivateKey builds the RSA key an EncodedKey describes.
func PrivateKey(k EncodedKey) (*rsa.PrivateKey, error) {
	switch k := k.(type) {
	case PKCS1:
		return k.privateKey()
	case PKCS8:
		return k.privateKey()
	default:
		return nil, fmt.Errorf("unknown key encoding %T", k)
	}
}

func parsePKCS1(der []byte) (PKCS1, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() {
		return PKCS1{}, errors.New("pkcs1: malformed RSAPrivateKey sequence")
	}

	var version int
	if !seq.ReadASN1Integer(&version) {
		return PKCS1{}, errors.New("pkcs1: malformed version")
	}
	if version != pkcs1TwoPrimeVers {
		return PKCS1{}, fmt.Errorf("pkcs1: unsupported version %d", version)
	}

	p := PKCS1{
		N: new(big.Int), E: new(big.Int), D: new(big.Int),
		P: new(big.Int), Q: new(big.Int),
		Dp: new(big.Int), Dq: new(big.Int), Qinv: new(big.Int),
	}
	for _, field := range []*big.Int{p.N, p.E, p.D, p.P, p.Q, p.Dp, p.Dq, p.Qinv} {
		if !seq.ReadASN1Integer(field) {
			return PKCS1{}, errors.New("pkcs1: malformed integer parameter")
		}
	}
	if !seq.Empty() {
		return PKCS1{}, errors.New("pkcs1: trailing data in sequence")
	}
	return p, nil
}

func (p PKCS1) privateKey() (*rsa.PrivateKey, error) {
	if p.N.Sign() <= 0 || p.D.Sign() <= 0 || p.P.Sign() <= 0 || p.Q.Sign() <= 0 {
		return nil, errors.New("pkcs1: non-positive parameter")
	}
	if !p.E.IsInt64() || p.E.Int64() < 2 || p.E.Int64() > 1<<31-1 {
		return nil, errors.New("pkcs1: public exponent out of range")
	}

	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: p.N, E: int(p.E.Int64())},
		D:         p.D,
		Primes:    []*big.Int{p.P, p.Q},
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	key.Precompute()
	if key.Precomputed.Dp == nil || key.Precomputed.Dq == nil || key.Precomputed.Qinv == nil {
		return nil, errors.New("pkcs1: CRT precomputation failed")
	}
	if key.Precomputed.Dp.Cmp(p.Dp) != 0 || key.Precomputed.Dq.Cmp(p.Dq) != 0 || key.Precomputed.Qinv.Cmp(p.Qinv) != 0 {
		return nil, errors.New("pkcs1: CRT parameters do not match primes")
	}
	return key, nil
}

func (p PKCS8) privateKey() (*rsa.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(p.DER)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("pkcs8: expected RSA key, got %T", parsed)
	}
	return key, nil
}
