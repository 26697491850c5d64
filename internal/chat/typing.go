package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// TypingMark is an ephemeral "user is typing in room" fact.
// Marks are never part of the durable history.
type TypingMark struct {
	RoomID      string
	UserID      string
	DisplayName string
	StartedAt   time.Time
}

// TypingStore tracks short-lived typing marks, keyed by (room, user).
//
// Semantics:
//   - SetTyping(true) upserts a mark with a fresh StartedAt; SetTyping(false)
//     deletes it. Both are idempotent, last-writer-wins.
//   - ListTyping filters marks younger than TypingStaleAfter and excludes the
//     requesting user. Stale marks may be lazily removed on read.
//
// The store is best-effort: unavailability degrades typing indicators
// silently and must never block message sending.
type TypingStore interface {
	SetTyping(ctx context.Context, roomID, userID, displayName string, isTyping bool) error
	ListTyping(ctx context.Context, roomID, excludeUserID string) ([]TypingMark, error)
}

// MemoryTypingStore is the in-process TypingStore.
type MemoryTypingStore struct {
	mu    sync.Mutex
	rooms map[string]map[string]TypingMark

	// now is swappable in tests.
	now func() time.Time
}

// NewMemoryTypingStore constructs an in-memory TypingStore.
func NewMemoryTypingStore() *MemoryTypingStore {
	return &MemoryTypingStore{
		rooms: make(map[string]map[string]TypingMark),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetTyping upserts or deletes the (room, user) mark.
func (s *MemoryTypingStore) SetTyping(ctx context.Context, roomID, userID, displayName string, isTyping bool) error {
	if roomID == "" || userID == "" {
		return invalid("typing", "missing room_id or user_id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !isTyping {
		if marks, ok := s.rooms[roomID]; ok {
			delete(marks, userID)
			if len(marks) == 0 {
				delete(s.rooms, roomID)
			}
		}
		return nil
	}

	marks := s.rooms[roomID]
	if marks == nil {
		marks = make(map[string]TypingMark)
		s.rooms[roomID] = marks
	}
	marks[userID] = TypingMark{
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: displayName,
		StartedAt:   s.now(),
	}
	return nil
}

// ListTyping returns non-stale marks excluding excludeUserID, reaping stale
// entries as it goes.
func (s *MemoryTypingStore) ListTyping(ctx context.Context, roomID, excludeUserID string) ([]TypingMark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	marks := s.rooms[roomID]
	if len(marks) == 0 {
		return nil, nil
	}

	out := make([]TypingMark, 0, len(marks))
	for userID, m := range marks {
		if now.Sub(m.StartedAt) >= TypingStaleAfter {
			delete(marks, userID)
			continue
		}
		if userID == excludeUserID {
			continue
		}
		out = append(out, m)
	}
	if len(marks) == 0 {
		delete(s.rooms, roomID)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
