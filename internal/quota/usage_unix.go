//go:build unix

package quota

import "golang.org/x/sys/unix"

// filesystemAvailable reports how many more bytes the filesystem holding
// dir could grant to an unprivileged writer.
func filesystemAvailable(dir string) (int64, bool) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, false
	}
	return int64(st.Bavail) * int64(st.Bsize), true
}
