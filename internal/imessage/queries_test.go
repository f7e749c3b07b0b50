package imessage

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wesm/smsvault/internal/backup"
	"github.com/wesm/smsvault/internal/testutil/backuptest"
)

func openTestSource(t *testing.T, b *backuptest.Backup) *SQLiteSource {
	t.Helper()
	src, err := OpenSource(b.Layout)
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	t.Cleanup(func() { src.Close() })
	return src
}

func TestSQLiteSource_Messages(t *testing.T) {
	b := backuptest.New(t)
	family := b.AddChat("family", "Family Chat", "+11111111111")
	b.AddMessage(family, backuptest.Message{
		Sender: "+11111111111", Text: backuptest.Text("later"), Date: 501811998000000000,
	})
	b.AddMessage(family, backuptest.Message{
		Sender: "+11111111111", Text: backuptest.Text("two pictures"), Date: 501787857000000000,
		Attachments: []string{"~/a/1.jpg", "~/a/2.jpg"},
	})
	b.AddMessage(family, backuptest.Message{FromMe: true, Date: 501823640000000000})

	rows, err := openTestSource(t, b).Messages(context.Background())
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}

	str := func(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }
	want := []MessageRow{
		{RowID: 2, ChatIdentifier: "family", Sender: str("+11111111111"), Text: str("two pictures"), Date: 501787857000000000, AttachmentPath: str("~/a/1.jpg")},
		{RowID: 2, ChatIdentifier: "family", Sender: str("+11111111111"), Text: str("two pictures"), Date: 501787857000000000, AttachmentPath: str("~/a/2.jpg")},
		{RowID: 1, ChatIdentifier: "family", Sender: str("+11111111111"), Text: str("later"), Date: 501811998000000000},
		{RowID: 3, ChatIdentifier: "family", IsFromMe: 1, Date: 501823640000000000},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("Messages mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteSource_Contacts(t *testing.T) {
	b := backuptest.New(t)
	b.AddContact("Dad", "", "+1 (111) 111-1111", "+12222222222", "dad@gmail.com")
	b.AddContact("No", "Numbers")
	b.AddContact("Mom", "", "4444444444")
	b.AddContact("John", "Smith", "3333333333")

	rows, err := openTestSource(t, b).Contacts(context.Background())
	if err != nil {
		t.Fatalf("Contacts: %v", err)
	}

	str := func(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }
	want := []ContactRow{
		{RowID: 1, FirstName: str("Dad"), Identifiers: "+1 (111) 111-1111,+12222222222,dad@gmail.com"},
		{RowID: 3, FirstName: str("Mom"), Identifiers: "4444444444"},
		{RowID: 4, FirstName: str("John"), LastName: str("Smith"), Identifiers: "3333333333"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("Contacts mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteSource_Chats(t *testing.T) {
	b := backuptest.New(t)
	family := b.AddChat("chat36260175973343405", "Family Chat", "+11111111111", "+11111111112", "+11111111113")
	brother := b.AddChat("chat45372165166753", "", "+11111111111", "+11111111114")
	b.AddChat("quiet", "")
	b.AddMessage(family, backuptest.Message{Sender: "+11111111112", Date: 501787857000000000})
	b.AddMessage(family, backuptest.Message{Sender: "+11111111113", Date: 501823640000000000})
	b.AddMessage(brother, backuptest.Message{FromMe: true, Date: 501967624000000000})

	rows, err := openTestSource(t, b).Chats(context.Background())
	if err != nil {
		t.Fatalf("Chats: %v", err)
	}

	want := []ChatRow{
		{
			RowID:           1,
			ChatIdentifier:  "chat36260175973343405",
			DisplayName:     sql.NullString{String: "Family Chat", Valid: true},
			LastMessageDate: sql.NullInt64{Int64: 501823640000000000, Valid: true},
			Participants:    "+11111111111,+11111111112,+11111111113",
		},
		{
			RowID:           2,
			ChatIdentifier:  "chat45372165166753",
			LastMessageDate: sql.NullInt64{Int64: 501967624000000000, Valid: true},
			Participants:    "+11111111111,+11111111114",
		},
		{RowID: 3, ChatIdentifier: "quiet"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("Chats mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenSource_MissingDatabase(t *testing.T) {
	_, err := OpenSource(backup.NewLayout(t.TempDir()))

	var sue *SourceUnreadableError
	if !errors.As(err, &sue) {
		t.Fatalf("error = %v, want *SourceUnreadableError", err)
	}
	if sue.Encrypted {
		t.Error("Encrypted = true for a missing database")
	}
}

func TestSQLiteSource_NotADatabase(t *testing.T) {
	b := backuptest.New(t)
	b.CorruptMessagesDB()

	_, err := openTestSource(t, b).Messages(context.Background())

	var sue *SourceUnreadableError
	if !errors.As(err, &sue) {
		t.Fatalf("error = %v, want *SourceUnreadableError", err)
	}
	if !sue.Encrypted {
		t.Errorf("Encrypted = false, want true (err: %v)", err)
	}
	if sue.Path != b.Layout.MessagesDB() {
		t.Errorf("Path = %q, want %q", sue.Path, b.Layout.MessagesDB())
	}
}
