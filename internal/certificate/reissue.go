package certificate

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Subject fields used for the self-signed certificate, per
// cockpit-certificate-ensure.c's helper script convention.
type Subject struct {
	MachineID string
	Hostname  string
}

// Reissue generates a fresh self-signed certificate at
// <dir>/0-self-signed.cert (and its sibling .key), preferring the sscg
// helper and falling back to a raw openssl invocation. The result files are
// written via temporary names and renamed into place atomically.
func Reissue(dir string, subject Subject) (Pair, error) {
	certPath := filepath.Join(dir, SelfSignedFilename)
	keyPath := KeyPath(certPath)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return Pair{}, err
	}

	if err := reissueWithSSCG(certPath, keyPath, subject); err != nil {
		if err := reissueWithOpenSSL(certPath, keyPath, subject); err != nil {
			return Pair{}, fmt.Errorf("certificate: reissue failed: %w", err)
		}
	}

	return Read(certPath, false)
}

func reissueWithSSCG(certPath, keyPath string, subject Subject) error {
	tmpCert := certPath + ".tmp"
	tmpKey := keyPath + ".tmp"
	defer os.Remove(tmpCert)
	defer os.Remove(tmpKey)

	cmd := exec.Command("sscg",
		"--quiet",
		"--cert-file", tmpCert,
		"--cert-key-file", tmpKey,
		"--ca-file", os.DevNull,
		"--lifetime", "3650",
		"--hostname", subject.Hostname,
		"--organization", subject.MachineID,
		"--subject-alt-name", "IP:127.0.0.1",
		"--subject-alt-name", "DNS:localhost",
	)
	if err := cmd.Run(); err != nil {
		return err
	}
	return commitTempPair(tmpCert, tmpKey, certPath, keyPath)
}

func reissueWithOpenSSL(certPath, keyPath string, subject Subject) error {
	tmpCert := certPath + ".tmp"
	tmpKey := keyPath + ".tmp"
	defer os.Remove(tmpCert)
	defer os.Remove(tmpKey)

	subj := fmt.Sprintf("/O=%s/CN=%s", subject.MachineID, subject.Hostname)
	cmd := exec.Command("openssl", "req",
		"-x509",
		"-nodes",
		"-newkey", "rsa:2048",
		"-keyout", tmpKey,
		"-out", tmpCert,
		"-days", "3650",
		"-subj", subj,
		"-addext", "subjectAltName=DNS:localhost,IP:127.0.0.1",
		"-addext", "basicConstraints=CA:TRUE",
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("openssl: %w", err)
	}
	return commitTempPair(tmpCert, tmpKey, certPath, keyPath)
}

func commitTempPair(tmpCert, tmpKey, certPath, keyPath string) error {
	if err := os.Chmod(tmpCert, 0444); err != nil {
		return err
	}
	if err := os.Chmod(tmpKey, 0400); err != nil {
		return err
	}
	if err := os.Rename(tmpCert, certPath); err != nil {
		return err
	}
	return os.Rename(tmpKey, keyPath)
}
