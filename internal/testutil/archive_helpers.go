package testutil

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// ReadArchive opens the archive at path, choosing the decoder from its
// extension, and returns its entries as name → content. Directory entries
// map to "".
func ReadArchive(t *testing.T, path string) map[string]string {
	t.Helper()

	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		return readZip(t, path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch lower := strings.ToLower(path); {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		gz, err := gzip.NewReader(f)
		MustNoErr(t, err, "gzip reader")
		defer gz.Close()
		r = gz
	case strings.HasSuffix(lower, ".tar.bz"), strings.HasSuffix(lower, ".tar.bz2"):
		bz, err := bzip2.NewReader(f, nil)
		MustNoErr(t, err, "bzip2 reader")
		defer bz.Close()
		r = bz
	case strings.HasSuffix(lower, ".tar.xz"):
		xr, err := xz.NewReader(f)
		MustNoErr(t, err, "xz reader")
		r = xr
	}
	return readTar(t, r)
}

func readTar(t *testing.T, r io.Reader) map[string]string {
	t.Helper()

	entries := make(map[string]string)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		MustNoErr(t, err, "read tar header")
		data, err := io.ReadAll(tr)
		MustNoErr(t, err, "read tar entry "+hdr.Name)
		entries[hdr.Name] = string(data)
	}
	return entries
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()

	zr, err := zip.OpenReader(path)
	MustNoErr(t, err, "open zip")
	defer zr.Close()

	entries := make(map[string]string)
	for _, zf := range zr.File {
		rc, err := zf.Open()
		MustNoErr(t, err, "open zip entry "+zf.Name)
		data, err := io.ReadAll(rc)
		rc.Close()
		MustNoErr(t, err, "read zip entry "+zf.Name)
		entries[zf.Name] = string(data)
	}
	return entries
}
