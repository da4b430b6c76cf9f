package certificate

import (
	"os"
	"path/filepath"
)

// PublishRuntime creates <runtimeDir>/server/ (owned by runtimeDir's own
// uid/gid) containing "cert" and "key" (mode 0400) plus "cert.source" and
// "key.source" symlinks back to pair's original files, for other cockpit
// components that read certificate material from the runtime directory
// instead of the configured search directory.
func PublishRuntime(runtimeDir string, pair Pair) error {
	info, err := os.Stat(runtimeDir)
	if err != nil {
		return err
	}

	serverDir := filepath.Join(runtimeDir, "server")
	if err := os.Mkdir(serverDir, 0700); err != nil && !os.IsExist(err) {
		return err
	}
	if err := chownLike(serverDir, info); err != nil {
		return err
	}

	if err := os.Symlink(pair.CertificateFilename, filepath.Join(serverDir, "cert.source")); err != nil && !os.IsExist(err) {
		return err
	}
	if err := os.Symlink(pair.KeyFilename, filepath.Join(serverDir, "key.source")); err != nil && !os.IsExist(err) {
		return err
	}

	if err := writeRuntimeFile(serverDir, "cert", pair.Certificate, info); err != nil {
		return err
	}
	return writeRuntimeFile(serverDir, "key", pair.Key, info)
}

func writeRuntimeFile(dir, name string, data []byte, ownerLike os.FileInfo) error {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0400)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return chownLike(path, ownerLike)
}

// RuntimeDir resolves the directory to publish into, preferring the
// RUNTIME_DIRECTORY environment variable systemd sets for a unit's
// state, falling back to fallback when unset.
func RuntimeDir(fallback string) string {
	if v := os.Getenv("RUNTIME_DIRECTORY"); v != "" {
		return v
	}
	return fallback
}
