package tlstest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// KeyFormat selects how an issued private key is written to disk.
type KeyFormat int

const (
	KeyPKCS1PEM KeyFormat = iota
	KeyPKCS8PEM
	KeyPKCS8DER
)

type Authority struct {
	cert   *x509.Certificate
	key    *rsa.PrivateKey
	caPath string
}

// Issued is one certificate signed by an Authority plus its key on disk.
type Issued struct {
	Cert     *x509.Certificate
	Key      *rsa.PrivateKey
	CertPath string
	KeyPath  string
}

func NewAuthority(t testing.TB, dir string, commonName string) *Authority {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate ca key: %v", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create ca cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}

	caPath := filepath.Join(dir, sanitize(commonName)+".ca.pem")
	if err := writePEM(caPath, "CERTIFICATE", der, 0o644); err != nil {
		t.Fatalf("write ca cert: %v", err)
	}

	return &Authority{
		cert:   cert,
		key:    key,
		caPath: caPath,
	}
}

func (a *Authority) CAFile() string {
	return a.caPath
}

func (a *Authority) Certificate() *x509.Certificate {
	return a.cert
}

func (a *Authority) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.cert)
	return pool
}

func (a *Authority) IssueServerCert(t testing.TB, dir string, commonName string, dnsNames []string, ips []net.IP) Issued {
	t.Helper()
	return a.issueCert(t, dir, commonName, x509.ExtKeyUsageServerAuth, dnsNames, ips, KeyPKCS1PEM)
}

func (a *Authority) IssueClientCert(t testing.TB, dir string, commonName string, format KeyFormat) Issued {
	t.Helper()
	return a.issueCert(t, dir, commonName, x509.ExtKeyUsageClientAuth, nil, nil, format)
}

// ServerTLSConfig returns a server config that requires client certificates
// signed by a.
func (a *Authority) ServerTLSConfig(t testing.TB, server Issued) *tls.Config {
	t.Helper()
	pair := tls.Certificate{
		Certificate: [][]byte{server.Cert.Raw},
		PrivateKey:  server.Key,
		Leaf:        server.Cert,
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{pair},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    a.Pool(),
	}
}

// WriteChain writes the given certificates, in order, as concatenated PEM
// blocks.
func WriteChain(t testing.TB, path string, certs ...*x509.Certificate) string {
	t.Helper()
	var data []byte
	for _, c := range certs {
		data = append(data, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write chain: %v", err)
	}
	return path
}

// WriteKey writes key to dir in the requested encoding and returns its path.
func WriteKey(t testing.TB, dir string, name string, key *rsa.PrivateKey, format KeyFormat) string {
	t.Helper()
	base := sanitize(name)
	switch format {
	case KeyPKCS1PEM:
		path := filepath.Join(dir, base+".pkcs1.pem")
		if err := writePEM(path, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0o600); err != nil {
			t.Fatalf("write key: %v", err)
		}
		return path
	case KeyPKCS8PEM, KeyPKCS8DER:
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			t.Fatalf("marshal pkcs8: %v", err)
		}
		if format == KeyPKCS8DER {
			path := filepath.Join(dir, base+".pkcs8.der")
			if err := os.WriteFile(path, der, 0o600); err != nil {
				t.Fatalf("write key: %v", err)
			}
			return path
		}
		path := filepath.Join(dir, base+".pkcs8.pem")
		if err := writePEM(path, "PRIVATE KEY", der, 0o600); err != nil {
			t.Fatalf("write key: %v", err)
		}
		return path
	default:
		t.Fatalf("unknown key format %d", format)
		return ""
	}
}

func (a *Authority) issueCert(
	t testing.TB,
	dir string,
	commonName string,
	usage x509.ExtKeyUsage,
	dnsNames []string,
	ips []net.IP,
	format KeyFormat,
) Issued {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     dnsNames,
		IPAddresses:  ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, a.cert, &key.PublicKey, a.key)
	if err != nil {
		t.Fatalf("create signed cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse signed cert: %v", err)
	}

	certPath := filepath.Join(dir, fmt.Sprintf("%s.cert.pem", sanitize(commonName)))
	if err := writePEM(certPath, "CERTIFICATE", der, 0o644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	return Issued{
		Cert:     cert,
		Key:      key,
		CertPath: certPath,
		KeyPath:  WriteKey(t, dir, commonName, key, format),
	}
}

func writePEM(path string, blockType string, der []byte, perm os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return os.WriteFile(path, data, perm)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "cert"
	}
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
