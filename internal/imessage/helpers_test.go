package imessage

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"testing"
	"time"
)

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return tm
}

// tarModTime returns the modification time recorded for name in a plain
// tar archive.
func tarModTime(t *testing.T, path, name string) time.Time {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read tar: %v", err)
		}
		if hdr.Name == name {
			return hdr.ModTime
		}
	}
	t.Fatalf("%s not in archive", name)
	return time.Time{}
}
