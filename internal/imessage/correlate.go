package imessage

// Correlation joins messages and contacts to chats. Build it once per run;
// lookups do not scan the full message or contact lists.
type Correlation struct {
	byChat map[string][]Message
	names  map[string]string // identifier → full name of its first contact
	empty  []Message
}

// Correlate indexes messages by chat identifier and contact identifiers by
// value. Message order within a chat is the order of messages; when several
// contacts share an identifier the earliest contact in contacts wins.
func Correlate(messages []Message, contacts []Contact) *Correlation {
	c := &Correlation{
		byChat: make(map[string][]Message),
		names:  make(map[string]string),
		empty:  []Message{},
	}
	for _, m := range messages {
		c.byChat[m.ChatIdentifier] = append(c.byChat[m.ChatIdentifier], m)
	}
	for _, contact := range contacts {
		name := contact.FullName()
		for _, ident := range contact.Identifiers {
			if _, ok := c.names[ident]; !ok {
				c.names[ident] = name
			}
		}
	}
	return c
}

// Messages returns the messages whose chat identifier equals chat's.
// The result is never nil.
func (c *Correlation) Messages(chat Chat) []Message {
	if msgs, ok := c.byChat[chat.ChatIdentifier]; ok {
		return msgs
	}
	return c.empty
}

// ParticipantNames maps each of chat's participants to the full name of the
// first contact that lists it, or to the participant identifier itself
// when no contact does.
func (c *Correlation) ParticipantNames(chat Chat) map[string]string {
	names := make(map[string]string, len(chat.Participants))
	for _, id := range chat.Participants {
		if name, ok := c.names[id]; ok {
			names[id] = name
		} else {
			names[id] = id
		}
	}
	return names
}
