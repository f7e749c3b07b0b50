//go:build unix

package fileutil

import (
	"os"

	"golang.org/x/sys/unix"
)

// OpenNoFollow opens a file read-only without following symlinks.
// Uses O_NOFOLLOW to prevent symlink traversal on the final path component.
func OpenNoFollow(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY|unix.O_NOFOLLOW, 0)
}
