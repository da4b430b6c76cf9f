// Package knownhosts wraps golang.org/x/crypto/ssh/knownhosts into a
// HostKeyCallback that, besides failing the ssh.Dial on a mismatch, records
// the observed key and fingerprint so the caller can translate the failure
// into a gateway-level close carrying them, per the session manager's
// unknown-host-key problem.
package knownhosts

import (
	"crypto/sha256"
	"encoding/base64"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	xknownhosts "golang.org/x/crypto/ssh/knownhosts"
)

// Store is a trust store backed by one or more OpenSSH known_hosts files.
type Store struct {
	callback ssh.HostKeyCallback
}

// Load reads the given known_hosts files. Missing files are treated as an
// empty store rather than an error, matching a freshly provisioned host.
func Load(paths ...string) (*Store, error) {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return &Store{callback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			return &unknownHostKeyError{key: key}
		}}, nil
	}
	cb, err := xknownhosts.New(existing...)
	if err != nil {
		return nil, err
	}
	return &Store{callback: cb}, nil
}

// unknownHostKeyError is returned by Store's own empty-store fallback for
// every key; a Store loaded from files returns xknownhosts' own errors.
type unknownHostKeyError struct {
	key ssh.PublicKey
}

func (e *unknownHostKeyError) Error() string { return "unknown host key" }

// Callback returns an ssh.HostKeyCallback that records the first verification
// failure into *result (if non-nil) instead of only returning an error.
func (s *Store) Callback(result *VerifyResult) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := s.callback(hostname, remote, key)
		if err != nil && result != nil {
			result.Key = base64.StdEncoding.EncodeToString(key.Marshal())
			result.Fingerprint = Fingerprint(key)
		}
		return err
	}
}

// VerifyResult captures the host key observed during a failed verification.
type VerifyResult struct {
	Key         string
	Fingerprint string
}

// Fingerprint renders an SSH public key as "SHA256:<base64, no padding>",
// matching ssh-keygen's default fingerprint format.
func Fingerprint(key ssh.PublicKey) string {
	sum := sha256.Sum256(key.Marshal())
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])
}
