package httpchannel

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

// Material is a PEM blob supplied either literally or via a filesystem path.
type Material struct {
	Data string
	File string
}

func (m *Material) load() ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	if m.Data != "" {
		return []byte(m.Data), nil
	}
	if m.File != "" {
		return os.ReadFile(m.File)
	}
	return nil, nil
}

// TLSOptions mirrors the "tls" object of an http-stream1 open command.
type TLSOptions struct {
	Certificate *Material
	Key         *Material
	Authority   *Material
	// Validate defaults to true; a false value accepts any server certificate.
	Validate *bool
}

func (o *TLSOptions) validate() bool {
	if o == nil || o.Validate == nil {
		return true
	}
	return *o.Validate
}

// UntrustedServerError marks a TLS handshake rejected because the server
// certificate did not chain to the supplied (or default) trust anchors. The
// session manager maps this to problem.UnknownHostKey, the same token SSH
// host key mismatches use, so the browser handles both uniformly.
type UntrustedServerError struct {
	Err error
}

func (e *UntrustedServerError) Error() string { return fmt.Sprintf("httpchannel: untrusted server certificate: %v", e.Err) }
func (e *UntrustedServerError) Unwrap() error { return e.Err }

// buildTLSConfig constructs a *tls.Config for opts and a stable fingerprint
// string used as part of the keep-alive pool key, so connections dialed
// with different certificate/authority material are never shared.
func buildTLSConfig(serverName string, opts *TLSOptions) (*tls.Config, string, error) {
	cfg := &tls.Config{ServerName: serverName}
	h := sha256.New()

	if opts == nil {
		return cfg, "", nil
	}

	certPEM, err := opts.Certificate.load()
	if err != nil {
		return nil, "", err
	}
	keyPEM, err := opts.Key.load()
	if err != nil {
		return nil, "", err
	}
	if len(certPEM) > 0 || len(keyPEM) > 0 {
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, "", fmt.Errorf("httpchannel: client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
		h.Write(certPEM)
		h.Write(keyPEM)
	}

	authorityPEM, err := opts.Authority.load()
	if err != nil {
		return nil, "", err
	}
	if len(authorityPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(authorityPEM) {
			return nil, "", errors.New("httpchannel: authority: no certificates found")
		}
		cfg.RootCAs = pool
		h.Write(authorityPEM)
	}

	if !opts.validate() {
		cfg.InsecureSkipVerify = true
		h.Write([]byte("insecure"))
	}

	return cfg, hex.EncodeToString(h.Sum(nil)), nil
}
