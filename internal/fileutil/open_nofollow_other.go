//go:build !unix

package fileutil

import "os"

// OpenNoFollow is a best-effort equivalent of O_NOFOLLOW. On this platform
// it may follow reparse points and symlinks; CopyFile still rejects anything
// that is not a regular file.
func OpenNoFollow(path string) (*os.File, error) {
	return os.Open(path)
}
