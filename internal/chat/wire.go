package chat

import (
	v1 "github.com/Edmundtutu/edumanage-chat/contracts/chat/v1"
)

// Converters between domain types and the v1 wire contract. Seq never leaves
// the server; message ids are the public cursor.

func toWireMessage(m Message) v1.Message {
	out := v1.Message{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		SenderRole: m.SenderRole,
		Kind:       m.Kind,
		Text:       m.Text,
		SentAt:     m.SentAt,
	}
	if m.Attachment != nil {
		out.Attachment = &v1.Attachment{
			URL:       m.Attachment.URL,
			FileName:  m.Attachment.FileName,
			SizeLabel: m.Attachment.SizeLabel,
		}
	}
	return out
}

func toWireMessages(msgs []Message) []v1.Message {
	out := make([]v1.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toWireMessage(m))
	}
	return out
}

func toWireRoom(r Room) v1.Room {
	out := v1.Room{
		ID:             r.ID,
		Kind:           r.Kind,
		Name:           r.Name,
		Participants:   r.Participants,
		CreatedAt:      r.CreatedAt,
		LastActivityAt: r.LastActivityAt,
	}
	if r.LastMessage != nil {
		m := toWireMessage(*r.LastMessage)
		out.LastMessage = &m
	}
	return out
}

func toWireRooms(rooms []Room) []v1.Room {
	out := make([]v1.Room, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, toWireRoom(r))
	}
	return out
}

func toWireTyping(marks []TypingMark) []v1.TypingUser {
	out := make([]v1.TypingUser, 0, len(marks))
	for _, m := range marks {
		out = append(out, v1.TypingUser{
			UserID:    m.UserID,
			Name:      m.DisplayName,
			StartedAt: m.StartedAt,
		})
	}
	return out
}

func toWireContacts(profiles []Profile) []v1.Contact {
	out := make([]v1.Contact, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, v1.Contact{ID: p.ID, Name: p.Name, Role: p.Role})
	}
	return out
}

// Exported views for callers outside the package (the read-only HTTP API).

func WireRooms(rooms []Room) []v1.Room { return toWireRooms(rooms) }

func WireMessages(msgs []Message) []v1.Message { return toWireMessages(msgs) }

func WireContacts(profiles []Profile) []v1.Contact { return toWireContacts(profiles) }

func fromWireAttachment(a *v1.Attachment) *Attachment {
	if a == nil {
		return nil
	}
	return &Attachment{
		URL:       a.URL,
		FileName:  a.FileName,
		SizeLabel: a.SizeLabel,
	}
}
