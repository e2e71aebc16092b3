package keystore

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/danmuck/twsync/internal/keys"
	"github.com/danmuck/twsync/internal/testutil/testlog"
	"github.com/danmuck/twsync/internal/testutil/tlstest"
)

func material(t *testing.T, anchors int) keys.Material {
	t.Helper()
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "twsync-ca")
	client := ca.IssueClientCert(t, dir, "client", tlstest.KeyPKCS8PEM)
	m := keys.Material{
		Paths: keys.Paths{CACert: ca.CAFile(), ClientCert: client.CertPath, ClientKey: client.KeyPath},
		Chain: []*x509.Certificate{client.Cert, ca.Certificate()},
		Key:   client.Key,
	}
	for i := 0; i < anchors; i++ {
		m.TrustAnchors = append(m.TrustAnchors, tlstest.NewAuthority(t, dir, fmt.Sprintf("anchor-%d", i)).Certificate())
	}
	return m
}

func mustPassphrase(t *testing.T) Passphrase {
	t.Helper()
	p, err := NewPassphrase()
	if err != nil {
		t.Fatalf("passphrase: %v", err)
	}
	return p
}

func TestBuildAssignsSequentialAliases(t *testing.T) {
	testlog.Start(t)
	m := material(t, 3)
	s, err := Build(m, mustPassphrase(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []string{"ca_0", "ca_1", "ca_2", "key"}
	got := s.Aliases()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("aliases=%v want %v", got, want)
	}
}

func TestTrustAnchorsRoundTripInOrder(t *testing.T) {
	testlog.Start(t)
	m := material(t, 2)
	pass := mustPassphrase(t)
	s, err := Build(m, pass)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	anchors, err := s.TrustAnchors(pass)
	if err != nil {
		t.Fatalf("trust anchors: %v", err)
	}
	if len(anchors) != 2 {
		t.Fatalf("expected 2 anchors, got %d", len(anchors))
	}
	for i := range anchors {
		if !anchors[i].Equal(m.TrustAnchors[i]) {
			t.Fatalf("anchor %d out of order", i)
		}
	}
}

func TestIdentityCarriesKeyAndChain(t *testing.T) {
	testlog.Start(t)
	m := material(t, 1)
	pass := mustPassphrase(t)
	s, err := Build(m, pass)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	id, err := s.Identity(pass)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if len(id.Certificate) != 2 {
		t.Fatalf("expected chain of 2, got %d", len(id.Certificate))
	}
	if !id.Leaf.Equal(m.Chain[0]) {
		t.Fatalf("leaf mismatch")
	}
	key, ok := id.PrivateKey.(*rsa.PrivateKey)
	if !ok || !key.Equal(m.Key) {
		t.Fatalf("private key mismatch: %T", id.PrivateKey)
	}
}

func TestWrongPassphraseIsRejected(t *testing.T) {
	testlog.Start(t)
	m := material(t, 1)
	s, err := Build(m, mustPassphrase(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	other := mustPassphrase(t)
	if _, err := s.Identity(other); !errors.Is(err, ErrAccess) {
		t.Fatalf("expected ErrAccess, got %v", err)
	}
	if _, err := s.TrustAnchors(other); !errors.Is(err, ErrAccess) {
		t.Fatalf("expected ErrAccess, got %v", err)
	}
}

func TestBuildWithoutTrustAnchors(t *testing.T) {
	testlog.Start(t)
	m := material(t, 0)
	pass := mustPassphrase(t)
	s, err := Build(m, pass)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	anchors, err := s.TrustAnchors(pass)
	if err != nil {
		t.Fatalf("trust anchors: %v", err)
	}
	if anchors == nil || len(anchors) != 0 {
		t.Fatalf("expected empty anchors, got %v", anchors)
	}
}

func TestBuildFailures(t *testing.T) {
	testlog.Start(t)
	m := material(t, 1)

	if _, err := Build(m, Passphrase{}); !errors.Is(err, ErrBuild) {
		t.Fatalf("empty passphrase: expected ErrBuild, got %v", err)
	}

	noChain := m
	noChain.Chain = nil
	_, err := Build(noChain, mustPassphrase(t))
	if !errors.Is(err, ErrBuild) || !strings.Contains(err.Error(), m.Paths.ClientCert) {
		t.Fatalf("empty chain: expected ErrBuild naming cert file, got %v", err)
	}

	noKey := m
	noKey.Key = nil
	_, err = Build(noKey, mustPassphrase(t))
	if !errors.Is(err, ErrBuild) || !strings.Contains(err.Error(), m.Paths.ClientKey) {
		t.Fatalf("missing key: expected ErrBuild naming key file, got %v", err)
	}
}

func TestPassphraseNeverRenders(t *testing.T) {
	testlog.Start(t)
	p := mustPassphrase(t)
	if p.IsZero() {
		t.Fatalf("expected generated passphrase")
	}
	if q := mustPassphrase(t); q.value == p.value {
		t.Fatalf("passphrases must differ")
	}
	for _, s := range []string{fmt.Sprint(p), fmt.Sprintf("%v %+v %#v %s", p, p, p, p)} {
		if strings.Contains(s, p.value) {
			t.Fatalf("passphrase leaked: %q", s)
		}
	}
	b, err := json.Marshal(struct{ P Passphrase }{p})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), p.value) {
		t.Fatalf("passphrase leaked in json: %s", b)
	}
}
