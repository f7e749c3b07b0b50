package backup

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// homePrefix is the placeholder the messages database uses for the mobile
// user's home directory in attachment paths.
const homePrefix = "~/"

// NotFoundError reports an attachment whose logical path does not resolve to
// a file in the backup store. It matches fs.ErrNotExist with errors.Is.
type NotFoundError struct {
	LogicalPath string // path as recorded in the messages database
	ProbedPath  string // store path that was checked
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("failed to find attachment %s at %s", e.LogicalPath, e.ProbedPath)
}

func (e *NotFoundError) Unwrap() error { return fs.ErrNotExist }

// AttachmentID returns the storage identifier for an attachment's logical
// path, e.g. "~/Library/SMS/Attachments/64/04/<uuid>/img.gif" hashes
// "MediaDomain-Library/SMS/Attachments/64/04/<uuid>/img.gif".
func AttachmentID(logicalPath string) string {
	return FileID(MediaDomain, strings.TrimPrefix(logicalPath, homePrefix))
}

// LocateAttachment returns the store path holding the attachment recorded
// as logicalPath. It returns a *NotFoundError when nothing is there.
func (l Layout) LocateAttachment(logicalPath string) (string, error) {
	if logicalPath == "" {
		return "", &NotFoundError{LogicalPath: logicalPath}
	}
	probed := StoragePath(l.Root, AttachmentID(logicalPath))
	info, err := os.Stat(probed)
	if err != nil || info.IsDir() {
		return "", &NotFoundError{LogicalPath: logicalPath, ProbedPath: probed}
	}
	return probed, nil
}

// DestFilename flattens a logical attachment path into a single file name by
// joining its parent directory name and base name with "-". Attachments are
// stored one per uuid-named directory, so the result is unique in practice
// even when many attachments share a base name like "IMG_0001.JPG".
func DestFilename(logicalPath string) string {
	segments := strings.Split(logicalPath, "/")
	if len(segments) > 2 {
		segments = segments[len(segments)-2:]
	}
	return strings.Join(segments, "-")
}
