package imessage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/wesm/smsvault/internal/backup"
)

// RowSource yields the raw rows an export is built from.
type RowSource interface {
	Messages(ctx context.Context) ([]MessageRow, error)
	Contacts(ctx context.Context) ([]ContactRow, error)
	Chats(ctx context.Context) ([]ChatRow, error)
	Close() error
}

// SQLiteSource reads rows from the messages and address book databases of
// a backup. Both databases are opened read-only.
type SQLiteSource struct {
	messagesPath string
	contactsPath string
	messages     *sql.DB
	contacts     *sql.DB
}

// OpenSource opens the two databases of the backup at l. Errors are
// *SourceUnreadableError.
func OpenSource(l backup.Layout) (*SQLiteSource, error) {
	messages, err := openReadOnly(l.MessagesDB())
	if err != nil {
		return nil, err
	}
	contacts, err := openReadOnly(l.ContactsDB())
	if err != nil {
		messages.Close()
		return nil, err
	}
	return &SQLiteSource{
		messagesPath: l.MessagesDB(),
		contactsPath: l.ContactsDB(),
		messages:     messages,
		contacts:     contacts,
	}, nil
}

// openReadOnly opens a SQLite file without ever creating or modifying it.
func openReadOnly(path string) (*sql.DB, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &SourceUnreadableError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &SourceUnreadableError{Path: path, Err: fmt.Errorf("not a regular file")}
	}

	// Use file: URI to safely handle paths containing '?' or other special characters.
	dsn := (&url.URL{
		Scheme:   "file",
		OmitHost: true,
		Path:     path,
		RawQuery: "mode=ro&_busy_timeout=5000",
	}).String()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &SourceUnreadableError{Path: path, Err: err}
	}
	return db, nil
}

// Close closes both databases.
func (s *SQLiteSource) Close() error {
	return errors.Join(s.messages.Close(), s.contacts.Close())
}

// Messages returns one row per (message, attachment) pair, ordered by date
// then ROWID. Messages not joined to any chat are skipped.
func (s *SQLiteSource) Messages(ctx context.Context) ([]MessageRow, error) {
	rows, err := s.messages.QueryContext(ctx, `
		SELECT
			m.ROWID,
			COALESCE(c.chat_identifier, ''),
			h.id,
			COALESCE(m.is_from_me, 0),
			m.text,
			COALESCE(m.date, 0),
			a.filename
		FROM message m
		JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
		JOIN chat c ON c.ROWID = cmj.chat_id
		LEFT JOIN handle h ON h.ROWID = m.handle_id
		LEFT JOIN message_attachment_join maj ON maj.message_id = m.ROWID
		LEFT JOIN attachment a ON a.ROWID = maj.attachment_id
		ORDER BY m.date, m.ROWID, a.ROWID
	`)
	if err != nil {
		return nil, s.readError(s.messagesPath, "fetch messages", err)
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var r MessageRow
		if err := rows.Scan(
			&r.RowID, &r.ChatIdentifier, &r.Sender, &r.IsFromMe,
			&r.Text, &r.Date, &r.AttachmentPath,
		); err != nil {
			return nil, s.readError(s.messagesPath, "scan message", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.readError(s.messagesPath, "fetch messages", err)
	}
	return out, nil
}

// Contacts returns every person with at least one phone number or e-mail
// address, ordered by ROWID. Identifiers keep address book order.
func (s *SQLiteSource) Contacts(ctx context.Context) ([]ContactRow, error) {
	rows, err := s.contacts.QueryContext(ctx, `
		SELECT p.ROWID, p.First, p.Last, v.value
		FROM ABPerson p
		JOIN ABMultiValue v ON v.record_id = p.ROWID
		WHERE v.property IN (3, 4)
		  AND v.value IS NOT NULL AND v.value != ''
		ORDER BY p.ROWID, v.UID
	`)
	if err != nil {
		return nil, s.readError(s.contactsPath, "fetch contacts", err)
	}
	defer rows.Close()

	var out []ContactRow
	var idents []string
	flush := func() {
		if len(out) > 0 {
			out[len(out)-1].Identifiers = strings.Join(idents, ",")
		}
		idents = idents[:0]
	}
	for rows.Next() {
		var r ContactRow
		var value string
		if err := rows.Scan(&r.RowID, &r.FirstName, &r.LastName, &value); err != nil {
			return nil, s.readError(s.contactsPath, "scan contact", err)
		}
		if len(out) == 0 || out[len(out)-1].RowID != r.RowID {
			flush()
			out = append(out, r)
		}
		idents = append(idents, value)
	}
	if err := rows.Err(); err != nil {
		return nil, s.readError(s.contactsPath, "fetch contacts", err)
	}
	flush()
	return out, nil
}

// Chats returns every chat ordered by ROWID, with the date of its newest
// message and its participants' handle ids.
func (s *SQLiteSource) Chats(ctx context.Context) ([]ChatRow, error) {
	rows, err := s.messages.QueryContext(ctx, `
		SELECT
			c.ROWID,
			COALESCE(c.chat_identifier, ''),
			c.display_name,
			(SELECT MAX(m.date)
			   FROM chat_message_join cmj
			   JOIN message m ON m.ROWID = cmj.message_id
			  WHERE cmj.chat_id = c.ROWID)
		FROM chat c
		ORDER BY c.ROWID
	`)
	if err != nil {
		return nil, s.readError(s.messagesPath, "fetch chats", err)
	}
	defer rows.Close()

	var out []ChatRow
	for rows.Next() {
		var r ChatRow
		if err := rows.Scan(&r.RowID, &r.ChatIdentifier, &r.DisplayName, &r.LastMessageDate); err != nil {
			return nil, s.readError(s.messagesPath, "scan chat", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.readError(s.messagesPath, "fetch chats", err)
	}
	rows.Close()

	participants, err := s.chatParticipants(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Participants = strings.Join(participants[out[i].RowID], ",")
	}
	return out, nil
}

// chatParticipants returns chat ROWID → handle ids in handle order.
func (s *SQLiteSource) chatParticipants(ctx context.Context) (map[int64][]string, error) {
	rows, err := s.messages.QueryContext(ctx, `
		SELECT chj.chat_id, h.id
		FROM chat_handle_join chj
		JOIN handle h ON h.ROWID = chj.handle_id
		ORDER BY chj.chat_id, h.ROWID
	`)
	if err != nil {
		return nil, s.readError(s.messagesPath, "fetch chat participants", err)
	}
	defer rows.Close()

	result := make(map[int64][]string)
	for rows.Next() {
		var chatID int64
		var handle string
		if err := rows.Scan(&chatID, &handle); err != nil {
			return nil, s.readError(s.messagesPath, "scan chat participant", err)
		}
		result[chatID] = append(result[chatID], handle)
	}
	if err := rows.Err(); err != nil {
		return nil, s.readError(s.messagesPath, "fetch chat participants", err)
	}
	return result, nil
}

// readError wraps a query failure as a *SourceUnreadableError. Context
// cancellation passes through unchanged.
func (s *SQLiteSource) readError(path, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &SourceUnreadableError{
		Path:      path,
		Encrypted: isNotADatabase(err),
		Err:       fmt.Errorf("%s: %w", op, err),
	}
}

// isNotADatabase reports whether err is SQLite refusing a file that has no
// valid database header, which is how an encrypted backup's databases look.
func isNotADatabase(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrNotADB
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return sqliteErrPtr.Code == sqlite3.ErrNotADB
	}
	return strings.Contains(err.Error(), "file is not a database")
}
