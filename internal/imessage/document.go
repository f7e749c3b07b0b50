package imessage

import (
	"bytes"
	"encoding/json"

	"github.com/wesm/smsvault/internal/backup"
	"github.com/wesm/smsvault/internal/export"
)

// ChatDocument is the JSON written to chats/chat_<id>.json.
type ChatDocument struct {
	ChatID          int64             `json:"chat_id"`
	ChatIdentifier  string            `json:"chat_identifier"`
	DisplayName     *string           `json:"display_name"`
	LastMessageDate int64             `json:"last_message_date"`
	Participants    map[string]string `json:"participants"`
	Messages        []MessageDocument `json:"messages"`
}

// MessageDocument is one entry of ChatDocument.Messages. AttachmentPath is
// the attachment's file name inside the archive's attachments/ directory,
// or null when the message has none or its attachment was refused a name.
type MessageDocument struct {
	ID             int64   `json:"id"`
	Date           int64   `json:"date"`
	Sender         *string `json:"sender"`
	IsFromMe       bool    `json:"is_from_me"`
	Text           string  `json:"text"`
	AttachmentPath *string `json:"attachment_path"`
}

// chatDocument maps a chat and its correlated data to its document.
// attachments maps logical attachment paths to their archive names.
func chatDocument(chat Chat, messages []Message, participants, attachments map[string]string) ChatDocument {
	doc := ChatDocument{
		ChatID:          chat.ID,
		ChatIdentifier:  chat.ChatIdentifier,
		LastMessageDate: chat.LastMessageDate,
		Participants:    participants,
		Messages:        make([]MessageDocument, len(messages)),
	}
	if chat.DisplayName.Valid {
		name := chat.DisplayName.String
		doc.DisplayName = &name
	}
	if doc.Participants == nil {
		doc.Participants = map[string]string{}
	}
	for i, m := range messages {
		doc.Messages[i] = messageDocument(m, attachments)
	}
	return doc
}

// messageDocument maps a message to its document entry. An attachment with
// no entry in attachments is written as null so the document never points
// at another message's file.
func messageDocument(m Message, attachments map[string]string) MessageDocument {
	doc := MessageDocument{
		ID:       m.ID,
		Date:     m.Date,
		IsFromMe: m.IsFromMe,
		Text:     m.Text,
	}
	if m.Sender.Valid {
		sender := m.Sender.String
		doc.Sender = &sender
	}
	if name, ok := attachments[m.AttachmentPath]; ok && m.HasAttachment() {
		doc.AttachmentPath = &name
	}
	return doc
}

// AttachmentFilename is the name an attachment gets inside the archive's
// attachments/ directory: the last two segments of its logical path joined
// with "-", with characters that are unsafe in file names replaced.
func AttachmentFilename(logicalPath string) string {
	return export.SanitizeFilename(backup.DestFilename(logicalPath))
}

// validFilename reports whether name can be created inside a directory
// without escaping it.
func validFilename(name string) bool {
	return name != "" && name != "." && name != ".."
}

// encodeDocument renders v as indented JSON. Map keys are sorted, so equal
// inputs give byte-identical output.
func encodeDocument(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
