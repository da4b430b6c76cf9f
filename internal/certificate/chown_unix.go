package certificate

import (
	"os"
	"syscall"
)

// chownLike sets path's owner to match ownerLike's owning uid/gid, the way
// cockpit-certificate-ensure.c copies the parent runtime directory's
// ownership onto the files it creates underneath it.
func chownLike(path string, ownerLike os.FileInfo) error {
	st, ok := ownerLike.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	return os.Chown(path, int(st.Uid), int(st.Gid))
}
