package chat

import (
	"strings"
	"time"
)

// Message kinds.
const (
	KindText  = "text"
	KindImage = "image"
	KindVideo = "video"
	KindAudio = "audio"
	KindFile  = "file"
)

// Attachment references a blob held by the external file store.
// The chat core stores the reference only, never the bytes.
type Attachment struct {
	URL       string
	FileName  string
	SizeLabel string
}

// Message is a persisted chat message.
//
// Immutable once stored. Sender fields are captured at send time and are not
// refreshed if the sender's profile later changes; history keeps what was true
// when the message was sent.
type Message struct {
	ID          string
	RoomID      string
	ClientMsgID string
	SenderID    string
	SenderName  string
	SenderRole  string
	Kind        string
	Text        string
	Attachment  *Attachment
	SentAt      time.Time

	// Seq is the per-room insertion sequence assigned by the message log.
	// It is the authoritative ordering key; SentAt ties are broken by Seq.
	Seq int64
}

func validKind(kind string) bool {
	switch kind {
	case KindText, KindImage, KindVideo, KindAudio, KindFile:
		return true
	}
	return false
}

// validateContent enforces the minimal message shape: a known kind and at
// least one of text / attachment, with the text length cap applied.
func validateContent(kind, text string, att *Attachment) error {
	if !validKind(kind) {
		return invalid("kind", "unknown message kind")
	}
	text = strings.TrimSpace(text)
	if text == "" && att == nil {
		return invalid("text", "either text or attachment is required")
	}
	if len([]rune(text)) > maxMessageChars {
		return invalid("text", "message too long")
	}
	if att != nil && strings.TrimSpace(att.URL) == "" {
		return invalid("attachment", "missing url")
	}
	return nil
}
