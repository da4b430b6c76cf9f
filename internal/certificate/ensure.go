package certificate

import (
	"os"
	"time"
)

// DefaultSearchDir is the directory an unconfigured gateway looks for a
// certificate in, matching cockpit-certificate-ensure.c's compiled-in
// PACKAGE_SYSCONF_DIR/cockpit/ws-certs.d.
const DefaultSearchDir = "/etc/cockpit/ws-certs.d"

// Found is the result of locating and validating dir's certificate.
type Found struct {
	Pair Pair
	OK   bool // false: no usable certificate exists, caller should reissue
}

// Find locates and validates the certificate in dir, the way
// cockpit_certificate_find treats an expired self-signed certificate as
// equivalent to no certificate at all: only the gateway's own self-signed
// certificate is ours to replace, so any other validation failure is
// returned as an error instead of triggering a silent reissue.
func Find(dir string, tolerateMerged bool) (Found, error) {
	path, err := Locate(dir)
	if err != nil {
		return Found{}, err
	}
	if path == "" {
		return Found{}, nil
	}
	pair, err := Read(path, tolerateMerged)
	if err != nil {
		return Found{}, err
	}
	_, leaf, err := Validate(pair)
	if err != nil {
		return Found{}, err
	}
	if IsSelfSigned(path) && NeedsReissue(leaf, time.Now()) {
		return Found{}, nil
	}
	return Found{Pair: pair, OK: true}, nil
}

// Ensure finds a usable certificate under dir, reissuing a fresh
// self-signed one when none is found or the existing one is due for
// renewal, matching cockpit-certificate-ensure.c's default (no-flag) mode.
func Ensure(dir string, subject Subject, tolerateMerged bool) (Pair, error) {
	found, err := Find(dir, tolerateMerged)
	if err != nil {
		return Pair{}, err
	}
	if found.OK {
		return found.Pair, nil
	}
	return Reissue(dir, subject)
}

// Check reports whether dir's certificate would need a reissue, without
// performing one, matching the --check mode.
func Check(dir string, tolerateMerged bool) (needsReissue bool, certificateFilename string, err error) {
	found, err := Find(dir, tolerateMerged)
	if err != nil {
		return false, "", err
	}
	if !found.OK {
		return true, "", nil
	}
	return false, found.Pair.CertificateFilename, nil
}

// DefaultSubject derives the Subject used for a freshly reissued
// self-signed certificate from the local hostname, falling back to
// "localhost" when it cannot be determined.
func DefaultSubject(machineID string) Subject {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	return Subject{MachineID: machineID, Hostname: hostname}
}
