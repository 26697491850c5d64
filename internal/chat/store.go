package chat

import (
	"context"
	"time"
)

// AppendInput describes a message append request.
// Now is the server clock; the zero value means time.Now().UTC().
type AppendInput struct {
	RoomID      string
	ClientMsgID string
	SenderID    string
	SenderName  string
	SenderRole  string
	Kind        string
	Text        string
	Attachment  *Attachment
	Now         time.Time
}

// AppendResult is the append operation result.
// Duplicated is true when ClientMsgID was already stored for the room; the
// original message is returned unchanged and no new row is written.
type AppendResult struct {
	Message    Message
	Duplicated bool
}

// ListResult is a window of room history.
type ListResult struct {
	Messages []Message
	HasMore  bool
}

// MessageStore is the per-room append-only message log.
//
// Requirements:
//   - Append assigns id and SentAt, and atomically updates the owning room's
//     LastActivityAt/LastMessage: a directory reader never observes a
//     LastMessage that is not durably appended.
//   - Idempotency per (room_id, client_msg_id); duplicates waste no seq.
//   - ListSince returns seq-ascending order from the cursor (exclusive);
//     limit <= 0 means the full history (snapshot delivery).
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (AppendResult, error)
	ListSince(ctx context.Context, roomID, afterID string, limit int) (ListResult, error)
	Latest(ctx context.Context, roomID string) (*Message, error)
}

// CreateRoomInput describes a room creation request.
type CreateRoomInput struct {
	Kind         string
	Participants []string
	Name         string
	Now          time.Time
}

// RoomStore is the room directory: metadata, lookup, creation.
//
// Direct-room creation is an idempotent compare-and-swap on the canonical
// participant-pair key: concurrent creates for the same pair converge on one
// room.
type RoomStore interface {
	// CreateRoom creates a room, or returns the existing one (existed=true)
	// for a direct pair that already has a room.
	CreateRoom(ctx context.Context, in CreateRoomInput) (room Room, existed bool, err error)
	FindDirectRoom(ctx context.Context, userA, userB string) (*Room, error)
	GetRoom(ctx context.Context, roomID string) (Room, error)
	// ListRoomsForUser returns the user's rooms ordered by LastActivityAt desc.
	ListRoomsForUser(ctx context.Context, userID string) ([]Room, error)
}

// Store bundles the two durable collections behind one backend.
type Store interface {
	MessageStore
	RoomStore
	Close() error
}
