// Package fileutil provides the filesystem helpers used while staging an
// export: owner-only workspace directories, symlink-safe opens of files from
// the backup store, and copies that keep the source modification time.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// SecureMkdirAll creates a directory path and all parents that do not yet
// exist. The final directory's mode is forced to perm regardless of umask.
func SecureMkdirAll(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}
	return os.Chmod(path, perm)
}

// SecureWriteFile writes data to a new file at path. It fails if the file
// already exists so that two items mapping to the same name never silently
// overwrite each other.
func SecureWriteFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// CopyFile copies the regular file at src to a new file at dst and sets the
// copy's modification time to the source's. src is opened without following
// a symlink in its final component; dst must not exist.
// Returns the number of bytes copied.
func CopyFile(src, dst string, perm os.FileMode) (int64, error) {
	in, err := OpenNoFollow(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", src)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return 0, fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return 0, fmt.Errorf("close %s: %w", dst, err)
	}

	// Timestamps are best-effort; some filesystems reject them.
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return n, nil
}

// Exists reports whether path names an existing file or directory.
// Errors other than "not exist" (e.g. permission denied) count as existing,
// since the path may still be there.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
