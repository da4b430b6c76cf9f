package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRun_VersionFlag(t *testing.T) {
	oldVersion := version
	t.Cleanup(func() { version = oldVersion })
	version = "v4.5.6"

	var stdout, stderr bytes.Buffer
	code := run([]string{"--version"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr=%q)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "v4.5.6") {
		t.Fatalf("expected version in output, got %q", stdout.String())
	}
}

func TestRun_CheckAndForCockpitTLSAreMutuallyExclusive(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--check", "--for-cockpit-tls"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "mutually exclusive") {
		t.Fatalf("expected mutual exclusion error, got %q", stderr.String())
	}
}

func TestRun_CheckReportsExistingCertificate(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t, time.Now().Add(90*24*time.Hour))
	writeTestPair(t, dir, "1-admin.cert", certPEM, keyPEM)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--dir", dir, "--check"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr=%q)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Would use certificate") {
		t.Fatalf("expected existing-certificate message, got %q", stdout.String())
	}
}

func TestRun_CheckReportsMissingCertificate(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--dir", t.TempDir(), "--check"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d (stderr=%q)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Would create a self-signed certificate") {
		t.Fatalf("expected reissue message, got %q", stdout.String())
	}
}

func TestRun_ForCockpitTLSRequiresRuntimeDirectory(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t, time.Now().Add(90*24*time.Hour))
	writeTestPair(t, dir, "1-admin.cert", certPEM, keyPEM)

	t.Setenv("RUNTIME_DIRECTORY", "")
	os.Unsetenv("RUNTIME_DIRECTORY")

	var stdout, stderr bytes.Buffer
	code := run([]string{"--dir", dir, "--for-cockpit-tls"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d (stderr=%q)", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "RUNTIME_DIRECTORY") {
		t.Fatalf("expected RUNTIME_DIRECTORY error, got %q", stderr.String())
	}
}

func TestRun_DefaultModeUsesExistingCertificate(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t, time.Now().Add(90*24*time.Hour))
	certPath := writeTestPair(t, dir, "1-admin.cert", certPEM, keyPEM)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--dir", dir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr=%q)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), certPath) {
		t.Fatalf("expected ready document to mention %q, got %q", certPath, stdout.String())
	}
}

func writeTestPair(t *testing.T, dir, certName string, certPEM, keyPEM []byte) string {
	t.Helper()
	certPath := filepath.Join(dir, certName)
	if err := os.WriteFile(certPath, certPEM, 0600); err != nil {
		t.Fatal(err)
	}
	keyPath := strings.TrimSuffix(certPath, filepath.Ext(certPath)) + ".key"
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		t.Fatal(err)
	}
	return certPath
}

func generateTestCert(t *testing.T, notAfter time.Time) (certPEM, keyPEM []byte) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}
