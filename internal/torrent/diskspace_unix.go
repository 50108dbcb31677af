//go:build unix

package torrent

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// freeSpace returns the bytes available to unprivileged users at path.
func freeSpace(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
