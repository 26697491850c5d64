package v1

import "time"

// Room kinds (wire-stable).
const (
	RoomKindDirect = "direct"
	RoomKindGroup  = "group"
)

// Message kinds (wire-stable).
const (
	MessageKindText  = "text"
	MessageKindImage = "image"
	MessageKindVideo = "video"
	MessageKindAudio = "audio"
	MessageKindFile  = "file"
)

// Attachment references a blob produced by the external file store.
// The chat core never stores binary payloads, only this reference.
type Attachment struct {
	URL       string `json:"url"`
	FileName  string `json:"file_name,omitempty"`
	SizeLabel string `json:"size_label,omitempty"`
}

// Message is the canonical wire representation of a stored chat message.
// Sender fields are captured at send time and never live-refreshed.
type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"room_id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	SenderRole string      `json:"sender_role"`
	Kind       string      `json:"kind"`
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	SentAt     time.Time   `json:"sent_at"`
}

// Room is the wire representation of room metadata.
type Room struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Name           string    `json:"name"`
	Participants   []string  `json:"participants"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	LastMessage    *Message  `json:"last_message,omitempty"`
}

// TypingUser is one non-stale typing mark as seen by other participants.
type TypingUser struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
}

// ---- Payloads ----

// HelloPayload carries the caller identity from the external identity
// provider. The server trusts it verbatim. School/class membership feeds the
// contact-availability query.
type HelloPayload struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	Role     string   `json:"role"`
	SchoolID string   `json:"school_id,omitempty"`
	ClassIDs []string `json:"class_ids,omitempty"`
}

// HelloAckPayload confirms the session and returns the server session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// RoomDirectPayload requests the direct room with another user.
type RoomDirectPayload struct {
	OtherID string `json:"other_id"`
}

// RoomCreatePayload requests creation of a group room.
type RoomCreatePayload struct {
	ParticipantIDs []string `json:"participant_ids"`
	Name           string   `json:"name,omitempty"`
}

// RoomJoinPayload opens a subscription to an existing room.
type RoomJoinPayload struct {
	RoomID string `json:"room_id"`
}

// RoomOpenedPayload confirms an open/create/join and returns room metadata.
type RoomOpenedPayload struct {
	Room Room `json:"room"`
}

// RoomsStatePayload returns the caller's rooms ordered by last activity desc.
type RoomsStatePayload struct {
	Rooms []Room `json:"rooms"`
}

// MessageSendPayload requests sending a message into a room.
// ClientMsgID makes retries after a lost ack idempotent.
type MessageSendPayload struct {
	RoomID      string      `json:"room_id"`
	ClientMsgID string      `json:"client_msg_id"`
	Kind        string      `json:"kind"`
	Text        string      `json:"text,omitempty"`
	Attachment  *Attachment `json:"attachment,omitempty"`
}

// MessageAckPayload confirms a send request and returns the stored message.
type MessageAckPayload struct {
	RoomID      string  `json:"room_id"`
	ClientMsgID string  `json:"client_msg_id"`
	Message     Message `json:"message"`
}

// RoomSnapshotPayload is the full ordered message list for a room.
type RoomSnapshotPayload struct {
	RoomID   string    `json:"room_id"`
	Messages []Message `json:"messages"`
}

// HistoryFetchPayload requests a history window for a room.
type HistoryFetchPayload struct {
	RoomID  string `json:"room_id"`
	AfterID string `json:"after_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// HistoryChunkPayload returns messages for a history fetch request.
type HistoryChunkPayload struct {
	RoomID   string    `json:"room_id"`
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// TypingSetPayload marks the caller as typing or not typing in a room.
type TypingSetPayload struct {
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

// TypingStatePayload is the current non-stale typing set for a room,
// excluding the receiving user.
type TypingStatePayload struct {
	RoomID string       `json:"room_id"`
	Users  []TypingUser `json:"users"`
}

// Contact is one user the caller may start a chat with.
type Contact struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// ContactsStatePayload returns the caller's available contacts.
type ContactsStatePayload struct {
	Contacts []Contact `json:"contacts"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
