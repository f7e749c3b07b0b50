package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/smsvault/internal/testutil"
)

// stageTree creates a small export workspace with nested directories.
func stageTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "chats/chat_1.json", []byte(`{"chat_id": 1}`))
	testutil.WriteFile(t, dir, "chats/chat_2.json", []byte(`{"chat_id": 2}`))
	testutil.WriteFile(t, dir, "attachments/A06F-ms-G5Go5i.gif", []byte("GIF89a"))
	return dir
}

func TestWriteArchive_AllFormats(t *testing.T) {
	want := map[string]string{
		"attachments/":                  "",
		"attachments/A06F-ms-G5Go5i.gif": "GIF89a",
		"chats/":                        "",
		"chats/chat_1.json":             `{"chat_id": 1}`,
		"chats/chat_2.json":             `{"chat_id": 2}`,
	}

	tests := []struct {
		name   string
		format Format
	}{
		{"messages.zip", FormatZip},
		{"messages.tar", FormatTar},
		{"messages.tar.gz", FormatTarGz},
		{"messages.tar.bz", FormatTarBz2},
		{"messages.tar.xz", FormatTarXz},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := stageTree(t)
			outDir := t.TempDir()
			dst := filepath.Join(outDir, tt.name)

			stats, err := WriteArchive(context.Background(), src, dst, tt.format)
			if err != nil {
				t.Fatalf("WriteArchive: %v", err)
			}
			if stats.Path != dst {
				t.Errorf("stats.Path = %q, want %q", stats.Path, dst)
			}
			if stats.Entries != len(want) {
				t.Errorf("stats.Entries = %d, want %d", stats.Entries, len(want))
			}
			if stats.Size <= 0 {
				t.Errorf("stats.Size = %d, want > 0", stats.Size)
			}

			got := testutil.ReadArchive(t, dst)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("archive contents mismatch (-want +got):\n%s", diff)
			}

			entries, err := os.ReadDir(outDir)
			testutil.MustNoErr(t, err, "read output dir")
			if len(entries) != 1 {
				t.Errorf("output dir has %d entries, want only the archive", len(entries))
			}
		})
	}
}

func TestWriteArchive_EmptyWorkspace(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "empty.zip")
	stats, err := WriteArchive(context.Background(), t.TempDir(), dst, FormatZip)
	if err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	if stats.Entries != 0 {
		t.Errorf("stats.Entries = %d, want 0", stats.Entries)
	}
	if got := testutil.ReadArchive(t, dst); len(got) != 0 {
		t.Errorf("archive has entries %v, want none", got)
	}
}

func TestWriteArchive_CancelledLeavesNothing(t *testing.T) {
	src := stageTree(t)
	outDir := t.TempDir()
	dst := filepath.Join(outDir, "messages.tar.gz")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WriteArchive(ctx, src, dst, FormatTarGz)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WriteArchive error = %v, want context.Canceled", err)
	}
	testutil.MustNotExist(t, dst)
	testutil.AssertDirEmpty(t, outDir)
}

func TestWriteArchive_MissingDestinationDir(t *testing.T) {
	src := stageTree(t)
	dst := filepath.Join(t.TempDir(), "missing", "messages.zip")

	_, err := WriteArchive(context.Background(), src, dst, FormatZip)
	if err == nil {
		t.Fatal("expected error for missing destination directory")
	}
	testutil.MustNotExist(t, dst)
}

func TestWriteArchive_UnknownFormat(t *testing.T) {
	outDir := t.TempDir()
	dst := filepath.Join(outDir, "messages.rar")

	_, err := WriteArchive(context.Background(), stageTree(t), dst, Format("rar"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}
	testutil.AssertDirEmpty(t, outDir)
}

func TestWriteArchive_SkipsSymlinks(t *testing.T) {
	src := stageTree(t)
	if err := os.Symlink("/etc/passwd", filepath.Join(src, "attachments", "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	dst := filepath.Join(t.TempDir(), "messages.tar")

	if _, err := WriteArchive(context.Background(), src, dst, FormatTar); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	got := testutil.ReadArchive(t, dst)
	if _, ok := got["attachments/link"]; ok {
		t.Error("symlink was archived")
	}
}
