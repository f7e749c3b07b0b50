// Package backuptest builds synthetic iPhone backup directories for tests.
// Databases are real SQLite files with the subset of the device schema the
// exporter reads, stored at their content-addressed locations.
package backuptest

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"howett.net/plist"

	"github.com/wesm/smsvault/internal/backup"
)

const messagesSchema = `
CREATE TABLE handle (
	ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	service TEXT DEFAULT 'iMessage'
);
CREATE TABLE chat (
	ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
	guid TEXT,
	chat_identifier TEXT,
	display_name TEXT
);
CREATE TABLE message (
	ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
	guid TEXT,
	text TEXT,
	handle_id INTEGER DEFAULT 0,
	is_from_me INTEGER DEFAULT 0,
	date INTEGER
);
CREATE TABLE attachment (
	ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT,
	mime_type TEXT
);
CREATE TABLE chat_message_join (chat_id INTEGER, message_id INTEGER);
CREATE TABLE chat_handle_join (chat_id INTEGER, handle_id INTEGER);
CREATE TABLE message_attachment_join (message_id INTEGER, attachment_id INTEGER);
`

const contactsSchema = `
CREATE TABLE ABPerson (
	ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
	First TEXT,
	Last TEXT,
	Organization TEXT
);
CREATE TABLE ABMultiValue (
	UID INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id INTEGER,
	property INTEGER,
	label INTEGER,
	value TEXT
);
`

// AddressBook multi-value property codes.
const (
	PropertyPhone = 3
	PropertyEmail = 4
)

// Backup is a synthetic backup rooted at Root.
type Backup struct {
	Root     string
	Layout   backup.Layout
	Messages *sql.DB
	Contacts *sql.DB
	T        testing.TB

	handles map[string]int64
}

// New creates an empty backup in a fresh temp directory with both databases
// present and schema loaded.
func New(t testing.TB) *Backup {
	t.Helper()

	root := t.TempDir()
	l := backup.NewLayout(root)
	b := &Backup{
		Root:    root,
		Layout:  l,
		T:       t,
		handles: make(map[string]int64),
	}
	b.Messages = openDB(t, l.MessagesDB(), messagesSchema)
	b.Contacts = openDB(t, l.ContactsDB(), contactsSchema)
	return b
}

func openDB(t testing.TB, path, schema string) *sql.DB {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("create store dir: %v", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func (b *Backup) exec(db *sql.DB, query string, args ...any) int64 {
	b.T.Helper()
	res, err := db.Exec(query, args...)
	if err != nil {
		b.T.Fatalf("exec %q: %v", query, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		b.T.Fatalf("last insert id: %v", err)
	}
	return id
}

// Handle returns the handle ROWID for id, inserting it on first use.
func (b *Backup) Handle(id string) int64 {
	b.T.Helper()
	if rowID, ok := b.handles[id]; ok {
		return rowID
	}
	rowID := b.exec(b.Messages, `INSERT INTO handle (id) VALUES (?)`, id)
	b.handles[id] = rowID
	return rowID
}

// AddChat inserts a chat with the given participants and returns its ROWID.
// An empty displayName is stored as NULL.
func (b *Backup) AddChat(identifier, displayName string, participants ...string) int64 {
	b.T.Helper()
	var name any
	if displayName != "" {
		name = displayName
	}
	chatID := b.exec(b.Messages,
		`INSERT INTO chat (guid, chat_identifier, display_name) VALUES (?, ?, ?)`,
		"iMessage;-;"+identifier, identifier, name)
	for _, p := range participants {
		b.exec(b.Messages, `INSERT INTO chat_handle_join (chat_id, handle_id) VALUES (?, ?)`,
			chatID, b.Handle(p))
	}
	return chatID
}

// Message describes a message row to insert.
type Message struct {
	Sender      string // handle id; empty stores handle_id 0
	FromMe      bool
	Text        *string
	Date        int64
	Attachments []string // logical paths, e.g. "~/Library/SMS/Attachments/..."
}

// Text returns a pointer to s for Message.Text.
func Text(s string) *string { return &s }

// AddMessage inserts a message into chatID and returns its ROWID.
func (b *Backup) AddMessage(chatID int64, m Message) int64 {
	b.T.Helper()
	var handleID int64
	if m.Sender != "" {
		handleID = b.Handle(m.Sender)
	}
	fromMe := 0
	if m.FromMe {
		fromMe = 1
	}
	var text any
	if m.Text != nil {
		text = *m.Text
	}
	msgID := b.exec(b.Messages,
		`INSERT INTO message (text, handle_id, is_from_me, date) VALUES (?, ?, ?, ?)`,
		text, handleID, fromMe, m.Date)
	b.exec(b.Messages, `INSERT INTO chat_message_join (chat_id, message_id) VALUES (?, ?)`, chatID, msgID)
	for _, path := range m.Attachments {
		attID := b.exec(b.Messages, `INSERT INTO attachment (filename) VALUES (?)`, path)
		b.exec(b.Messages, `INSERT INTO message_attachment_join (message_id, attachment_id) VALUES (?, ?)`,
			msgID, attID)
	}
	return msgID
}

// AddContact inserts a person with the given phone numbers or e-mail
// addresses (anything containing "@" is stored as an e-mail) and returns
// its ROWID. Empty first or last names are stored as NULL.
func (b *Backup) AddContact(first, last string, identifiers ...string) int64 {
	b.T.Helper()
	personID := b.exec(b.Contacts, `INSERT INTO ABPerson (First, Last) VALUES (?, ?)`,
		nullIfEmpty(first), nullIfEmpty(last))
	for _, ident := range identifiers {
		prop := PropertyPhone
		if strings.Contains(ident, "@") {
			prop = PropertyEmail
		}
		b.exec(b.Contacts, `INSERT INTO ABMultiValue (record_id, property, value) VALUES (?, ?, ?)`,
			personID, prop, ident)
	}
	return personID
}

// StoreAttachment writes content at the store location of logicalPath and
// returns that location.
func (b *Backup) StoreAttachment(logicalPath string, content []byte) string {
	b.T.Helper()
	path := backup.StoragePath(b.Root, backup.AttachmentID(logicalPath))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		b.T.Fatalf("create store dir: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		b.T.Fatalf("write attachment: %v", err)
	}
	return path
}

// WriteManifest writes an XML Manifest.plist with the given encryption flag.
func (b *Backup) WriteManifest(encrypted bool) {
	b.T.Helper()
	b.writePlist(b.Layout.ManifestPlist(), backup.Manifest{
		IsEncrypted: encrypted,
		Version:     "10.0",
		Lockdown: backup.Lockdown{
			DeviceName:     "Test iPhone",
			ProductType:    "iPhone14,2",
			ProductVersion: "17.4",
			BuildVersion:   "21E219",
		},
	})
}

// WriteInfo writes an XML Info.plist.
func (b *Backup) WriteInfo(info backup.Info) {
	b.T.Helper()
	b.writePlist(b.Layout.InfoPlist(), info)
}

func (b *Backup) writePlist(path string, v any) {
	b.T.Helper()
	data, err := plist.MarshalIndent(v, plist.XMLFormat, "\t")
	if err != nil {
		b.T.Fatalf("marshal plist: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		b.T.Fatalf("write plist: %v", err)
	}
}

// CorruptMessagesDB overwrites sms.db with bytes SQLite rejects as not a
// database, which is what an encrypted backup looks like.
func (b *Backup) CorruptMessagesDB() {
	b.T.Helper()
	if err := b.Messages.Close(); err != nil {
		b.T.Fatalf("close messages db: %v", err)
	}
	junk := make([]byte, 4096)
	for i := range junk {
		junk[i] = byte(i*31 + 7)
	}
	if err := os.WriteFile(b.Layout.MessagesDB(), junk, 0644); err != nil {
		b.T.Fatalf("write junk db: %v", err)
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
