package imessage

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/wesm/smsvault/internal/textutil"
)

// appleEpoch is 2001-01-01T00:00:00Z in Unix seconds.
const appleEpoch = 978307200

// ConvertTimestamp converts a device timestamp to Unix seconds. Since
// iOS 11 the messages database stores nanoseconds since 2001-01-01; older
// backups store seconds. Values beyond appleEpoch·10⁶ can only be
// nanoseconds.
func ConvertTimestamp(v int64) int64 {
	if v > appleEpoch*1_000_000 {
		return v/1_000_000_000 + appleEpoch
	}
	return v + appleEpoch
}

// NormalizeIdentifiers splits a comma-separated identifier list and
// rewrites every phone number in E.164 form, parsing numbers without a
// country code in region. E-mail addresses and anything that does not parse
// as a phone number are kept verbatim. The result has one entry per input
// token, in input order, so "" yields [""].
func NormalizeIdentifiers(csv, region string) []string {
	tokens := strings.Split(csv, ",")
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = normalizeIdentifier(tok, region)
	}
	return out
}

// normalizeIdentifier returns tok in E.164 form if it parses as a phone
// number, otherwise tok unchanged.
// Input: "(222) 222-2222", region "US"
// Output: "+12222222222"
func normalizeIdentifier(tok, region string) string {
	// libphonenumber happily extracts digits from "john2024@example.com".
	if strings.Contains(tok, "@") {
		return tok
	}
	num, err := phonenumbers.Parse(tok, region)
	if err != nil {
		return tok
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// splitParticipants splits a comma-separated handle list. Entries are kept
// raw; they are matched against normalized contact identifiers. "" is a chat
// with no handles and yields no participants.
func splitParticipants(csv string) []string {
	if csv == "" {
		return []string{}
	}
	return strings.Split(csv, ",")
}

// messageFromRow maps a messages query row to a Message.
func messageFromRow(row MessageRow) Message {
	var text string
	if row.Text.Valid {
		text = strings.TrimSpace(textutil.EnsureUTF8(row.Text.String))
	}
	var attachment string
	if row.AttachmentPath.Valid {
		attachment = row.AttachmentPath.String
	}
	return Message{
		ID:             row.RowID,
		ChatIdentifier: row.ChatIdentifier,
		Sender:         row.Sender,
		IsFromMe:       row.IsFromMe == 1,
		Text:           text,
		Date:           ConvertTimestamp(row.Date),
		AttachmentPath: attachment,
	}
}

// contactFromRow maps a contacts query row to a Contact, normalizing its
// identifiers in region.
func contactFromRow(row ContactRow, region string) Contact {
	return Contact{
		ID:          row.RowID,
		FirstName:   row.FirstName.String,
		LastName:    row.LastName.String,
		Identifiers: NormalizeIdentifiers(row.Identifiers, region),
	}
}

// chatFromRow maps a chats query row to a Chat. A chat without messages
// has a zero LastMessageDate.
func chatFromRow(row ChatRow) Chat {
	var last int64
	if row.LastMessageDate.Valid {
		last = ConvertTimestamp(row.LastMessageDate.Int64)
	}
	return Chat{
		ID:              row.RowID,
		ChatIdentifier:  row.ChatIdentifier,
		DisplayName:     row.DisplayName,
		LastMessageDate: last,
		Participants:    splitParticipants(row.Participants),
	}
}

// FullName returns "First Last" with absent parts omitted.
func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}
