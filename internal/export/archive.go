package export

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// ArchiveStats describes a written archive.
type ArchiveStats struct {
	Path    string
	Entries int   // files and directories written
	Size    int64 // archive size on disk
}

// entryWriter adds one staged file or directory to an archive.
type entryWriter interface {
	add(rel string, info fs.FileInfo, src string) error
	close() error
}

// WriteArchive packs every file and directory under srcDir into a new
// archive at dstPath. Entry names are relative to srcDir and use forward
// slashes. The archive is written to a temporary file beside dstPath and
// renamed into place, so a failed or cancelled run never leaves a partial
// archive behind. ctx is checked between entries.
func WriteArchive(ctx context.Context, srcDir, dstPath string, format Format) (ArchiveStats, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dstPath), ".smsvault-*.partial")
	if err != nil {
		return ArchiveStats{}, fmt.Errorf("create archive: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	w, err := newEntryWriter(tmp, format)
	if err != nil {
		return ArchiveStats{}, err
	}

	stats := ArchiveStats{Path: dstPath}
	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}
		if err := w.add(filepath.ToSlash(rel), info, path); err != nil {
			return err
		}
		stats.Entries++
		return nil
	})
	if err != nil {
		w.close()
		return ArchiveStats{}, fmt.Errorf("write archive: %w", err)
	}

	if err := w.close(); err != nil {
		return ArchiveStats{}, fmt.Errorf("finalize archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return ArchiveStats{}, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return ArchiveStats{}, fmt.Errorf("chmod archive: %w", err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		return ArchiveStats{}, fmt.Errorf("move archive into place: %w", err)
	}
	committed = true

	if info, err := os.Stat(dstPath); err == nil {
		stats.Size = info.Size()
	}
	return stats, nil
}

func newEntryWriter(out io.Writer, format Format) (entryWriter, error) {
	switch format {
	case FormatZip:
		zw := zip.NewWriter(out)
		zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, flate.DefaultCompression)
		})
		return &zipEntryWriter{zw: zw}, nil
	case FormatTar:
		return newTarEntryWriter(out, nil), nil
	case FormatTarGz:
		gz := gzip.NewWriter(out)
		return newTarEntryWriter(gz, gz), nil
	case FormatTarBz2:
		bz, err := bzip2.NewWriter(out, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			return nil, fmt.Errorf("bzip2 writer: %w", err)
		}
		return newTarEntryWriter(bz, bz), nil
	case FormatTarXz:
		xw, err := xz.NewWriter(out)
		if err != nil {
			return nil, fmt.Errorf("xz writer: %w", err)
		}
		return newTarEntryWriter(xw, xw), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

type tarEntryWriter struct {
	tw         *tar.Writer
	compressor io.Closer // nil for plain tar
}

func newTarEntryWriter(w io.Writer, compressor io.Closer) *tarEntryWriter {
	return &tarEntryWriter{tw: tar.NewWriter(w), compressor: compressor}
}

func (t *tarEntryWriter) add(rel string, info fs.FileInfo, src string) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("tar header %s: %w", rel, err)
	}
	hdr.Name = rel
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := t.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar write error: %w", err)
	}
	if info.IsDir() {
		return nil
	}
	return copyInto(t.tw, src)
}

func (t *tarEntryWriter) close() error {
	err := t.tw.Close()
	if t.compressor != nil {
		if cerr := t.compressor.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type zipEntryWriter struct {
	zw *zip.Writer
}

func (z *zipEntryWriter) add(rel string, info fs.FileInfo, src string) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header %s: %w", rel, err)
	}
	hdr.Name = rel
	if info.IsDir() {
		hdr.Name += "/"
		hdr.Method = zip.Store
	} else {
		hdr.Method = zip.Deflate
	}
	w, err := z.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip write error: %w", err)
	}
	if info.IsDir() {
		return nil
	}
	return copyInto(w, src)
}

func (z *zipEntryWriter) close() error {
	return z.zw.Close()
}

func copyInto(w io.Writer, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(src), err)
	}
	return nil
}
