package imessage

import (
	"context"
	"errors"
	"fmt"
)

// ErrInterrupted is returned when the context is cancelled during an
// export. The returned error also matches the context's error.
var ErrInterrupted = errors.New("export interrupted")

// SourceUnreadableError reports that the backup's databases could not be
// read. Encrypted is set when the failure looks like an encrypted backup.
type SourceUnreadableError struct {
	Path      string
	Encrypted bool
	Err       error
}

func (e *SourceUnreadableError) Error() string {
	if e.Encrypted {
		return fmt.Sprintf("read %s: backup appears to be encrypted, only unencrypted backups are supported: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *SourceUnreadableError) Unwrap() error { return e.Err }

// ChatExportError reports a chat whose document could not be written.
type ChatExportError struct {
	ChatID int64
	Err    error
}

func (e *ChatExportError) Error() string {
	return fmt.Sprintf("export chat %d: %v", e.ChatID, e.Err)
}

func (e *ChatExportError) Unwrap() error { return e.Err }

// AttachmentCopyError reports an attachment that was found in the store but
// could not be copied into the workspace.
type AttachmentCopyError struct {
	LogicalPath string
	Err         error
}

func (e *AttachmentCopyError) Error() string {
	return fmt.Sprintf("copy attachment %s: %v", e.LogicalPath, e.Err)
}

func (e *AttachmentCopyError) Unwrap() error { return e.Err }

// interrupted wraps ctx's error as an ErrInterrupted.
func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
}

// IsInterrupted reports whether err is the result of a cancelled export.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}
