// Package imessage exports the Messages history stored in an unencrypted
// iPhone backup. It reads the device's sms.db and AddressBook databases,
// correlates messages, chats and contacts, copies attachments out of the
// backup store and packs one JSON document per chat into an archive.
package imessage

import (
	"database/sql"
	"time"

	"github.com/wesm/smsvault/internal/export"
)

// MessageRow is one row of the messages query: a message joined to its
// chat, its sender handle and at most one attachment. A message with N
// attachments yields N rows.
type MessageRow struct {
	RowID          int64          // message.ROWID
	ChatIdentifier string         // chat.chat_identifier
	Sender         sql.NullString // handle.id (NULL when handle_id is 0)
	IsFromMe       int            // message.is_from_me
	Text           sql.NullString // message.text
	Date           int64          // message.date (device epoch, s or ns)
	AttachmentPath sql.NullString // attachment.filename ("~/Library/SMS/...")
}

// ContactRow is one person from the address book with their phone numbers
// and e-mail addresses joined by ",".
type ContactRow struct {
	RowID       int64          // ABPerson.ROWID
	FirstName   sql.NullString // ABPerson.First
	LastName    sql.NullString // ABPerson.Last
	Identifiers string         // ABMultiValue.value, comma-joined
}

// ChatRow is one conversation with its participants' handle ids joined by ",".
type ChatRow struct {
	RowID           int64          // chat.ROWID
	ChatIdentifier  string         // chat.chat_identifier
	DisplayName     sql.NullString // chat.display_name
	LastMessageDate sql.NullInt64  // MAX(message.date) over the chat
	Participants    string         // handle.id, comma-joined
}

// Message is a single message ready for export. Dates are Unix seconds.
type Message struct {
	ID             int64
	ChatIdentifier string
	Sender         sql.NullString
	IsFromMe       bool
	Text           string
	Date           int64
	AttachmentPath string // logical device path; empty when none
}

// HasAttachment reports whether the message references an attachment.
func (m Message) HasAttachment() bool {
	return m.AttachmentPath != ""
}

// Contact is an address book entry. Identifiers are E.164 phone numbers or
// verbatim e-mail addresses, in address book order.
type Contact struct {
	ID          int64
	FirstName   string
	LastName    string
	Identifiers []string
}

// Chat is a conversation. Participants are raw handle ids in database order.
type Chat struct {
	ID              int64
	ChatIdentifier  string
	DisplayName     sql.NullString
	LastMessageDate int64
	Participants    []string
}

// ExportOptions configures one export run.
type ExportOptions struct {
	// BackupDir is the root of the iPhone backup (the directory holding
	// Manifest.plist and the two-character store subdirectories).
	BackupDir string

	// Output is the archive to create. Its extension selects the format.
	Output string

	// Region is the ISO 3166 region used to parse phone numbers written
	// without a country code. Default: "US".
	Region string

	// Workers bounds parallel attachment copies and chat writes. Default: 4.
	Workers int

	// TempDir is where the staging workspace is created. Empty means the
	// OS temp directory.
	TempDir string
}

// DefaultRegion is the phone number region used when none is configured.
const DefaultRegion = "US"

// DefaultOptions returns ExportOptions with sensible defaults.
func DefaultOptions() ExportOptions {
	return ExportOptions{
		Region:  DefaultRegion,
		Workers: 4,
	}
}

// ExportSummary holds statistics from a completed export.
type ExportSummary struct {
	Duration           time.Duration
	Output             string
	Format             export.Format
	ArchiveSize        int64
	ArchiveEntries     int
	Messages           int64
	Contacts           int64
	Chats              int64
	AttachmentsTotal   int64 // distinct logical paths
	AttachmentsCopied  int64
	AttachmentsMissing int64
	AttachmentsFailed  int64
	BytesCopied        int64
	ChatsWritten       int64
	ChatsFailed        int64
	Errors             int64
}

// Phase names a stage of the export pipeline.
type Phase string

const (
	PhaseFetching    Phase = "fetching"
	PhaseAttachments Phase = "attachments"
	PhaseChats       Phase = "chats"
	PhaseArchiving   Phase = "archiving"
)

// ExportProgress provides callbacks for export progress reporting. Calls
// are serialized by the exporter even when items are processed in parallel.
type ExportProgress interface {
	OnStart()
	OnPhase(phase Phase, total int)
	OnItem(phase Phase, done, total int, current string)
	OnError(err error)
	OnComplete(summary *ExportSummary)
}

// NullProgress is a no-op implementation of ExportProgress.
type NullProgress struct{}

func (NullProgress) OnStart()                       {}
func (NullProgress) OnPhase(Phase, int)             {}
func (NullProgress) OnItem(Phase, int, int, string) {}
func (NullProgress) OnError(error)                  {}
func (NullProgress) OnComplete(*ExportSummary)      {}
