// Package export packs a staged export directory into a single archive in
// one of several container formats.
package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Format identifies an archive container.
type Format string

const (
	FormatZip    Format = "zip"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "gztar"
	FormatTarBz2 Format = "bztar"
	FormatTarXz  Format = "xztar"
)

// ErrUnsupportedFormat matches every *UnsupportedFormatError.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// UnsupportedFormatError reports a destination whose extension maps to no
// known archive format.
type UnsupportedFormatError struct {
	Path      string
	Supported []string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unknown archive format for output %q (supported: %s)",
		e.Path, strings.Join(e.Supported, ", "))
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

type extFormat struct {
	ext    string
	format Format
}

// Formats maps destination file extensions to archive formats. The zero
// value matches nothing; use DefaultFormats.
type Formats struct {
	byExt []extFormat // longest extension first
}

// DefaultFormats returns the table of supported destination extensions.
func DefaultFormats() Formats {
	return NewFormats(map[string]Format{
		".zip":     FormatZip,
		".tar":     FormatTar,
		".tar.gz":  FormatTarGz,
		".tgz":     FormatTarGz,
		".tar.bz":  FormatTarBz2,
		".tar.bz2": FormatTarBz2,
		".tbz2":    FormatTarBz2,
		".tar.xz":  FormatTarXz,
		".txz":     FormatTarXz,
	})
}

// NewFormats builds a lookup table from an extension → format map.
// Extensions are matched case-insensitively.
func NewFormats(m map[string]Format) Formats {
	byExt := make([]extFormat, 0, len(m))
	for ext, f := range m {
		byExt = append(byExt, extFormat{ext: strings.ToLower(ext), format: f})
	}
	sort.Slice(byExt, func(i, j int) bool {
		if len(byExt[i].ext) != len(byExt[j].ext) {
			return len(byExt[i].ext) > len(byExt[j].ext)
		}
		return byExt[i].ext < byExt[j].ext
	})
	return Formats{byExt: byExt}
}

// ForPath returns the archive format implied by path's extension. The
// longest matching extension wins, so "out.tar.gz" is gztar, not tar.
func (f Formats) ForPath(path string) (Format, error) {
	name := strings.ToLower(filepath.Base(path))
	for _, e := range f.byExt {
		if strings.HasSuffix(name, e.ext) && len(name) > len(e.ext) {
			return e.format, nil
		}
	}
	return "", &UnsupportedFormatError{Path: path, Supported: f.Extensions()}
}

// Extensions lists the recognized extensions in sorted order.
func (f Formats) Extensions() []string {
	exts := make([]string, len(f.byExt))
	for i, e := range f.byExt {
		exts[i] = e.ext
	}
	sort.Strings(exts)
	return exts
}
