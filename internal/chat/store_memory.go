package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	memMaxMessagesPerRoom = 10_000
)

// MemoryStore is the non-durable Store used when no database is configured.
// It keeps the same semantics as the Postgres store:
//   - Append: idempotent per client_msg_id, seq allocation, atomic room
//     metadata update
//   - CreateRoom: direct dedupe via the canonical pair key
//
// Locking: the store mutex guards the maps; each room carries its own lock so
// appends in different rooms never contend.
type MemoryStore struct {
	mu        sync.RWMutex
	rooms     map[string]*memRoom
	directIdx map[string]string // DirectKey -> room id
}

type memRoom struct {
	mu     sync.Mutex
	meta   Room
	seq    int64
	dedupe map[string]Message // client_msg_id -> stored message
	msgs   []Message          // ordered by seq
}

// NewMemoryStore constructs an in-memory Store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:     make(map[string]*memRoom),
		directIdx: make(map[string]string),
	}
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

// CreateRoom creates a room, deduplicating direct rooms on the pair key.
func (s *MemoryStore) CreateRoom(ctx context.Context, in CreateRoomInput) (Room, bool, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, false, err
	}

	participants := normalizeParticipants(in.Participants)
	switch in.Kind {
	case RoomDirect:
		if len(participants) != 2 {
			return Room{}, false, invalid("participants", "direct room requires exactly 2 distinct participants")
		}
	case RoomGroup:
		if len(participants) < 2 {
			return Room{}, false, invalid("participants", "group room requires at least 2 distinct participants")
		}
	default:
		return Room{}, false, invalid("kind", "unknown room kind")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	name := in.Name
	if name == "" {
		if in.Kind == RoomDirect {
			name = defaultDirectName
		} else {
			name = defaultGroupName
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Kind == RoomDirect {
		key := DirectKey(participants[0], participants[1])
		if id, ok := s.directIdx[key]; ok {
			if r := s.rooms[id]; r != nil {
				return r.snapshotMeta(), true, nil
			}
		}
	}

	meta := Room{
		ID:             NewRoomID(now),
		Kind:           in.Kind,
		Name:           name,
		Participants:   participants,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	r := &memRoom{
		meta:   meta,
		dedupe: make(map[string]Message),
		msgs:   make([]Message, 0, 64),
	}
	s.rooms[meta.ID] = r
	if in.Kind == RoomDirect {
		s.directIdx[DirectKey(participants[0], participants[1])] = meta.ID
	}

	return r.snapshotMeta(), false, nil
}

// FindDirectRoom returns the direct room for the unordered pair, or nil.
func (s *MemoryStore) FindDirectRoom(ctx context.Context, userA, userB string) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	id, ok := s.directIdx[DirectKey(userA, userB)]
	r := s.rooms[id]
	s.mu.RUnlock()

	if !ok || r == nil {
		return nil, nil
	}
	meta := r.snapshotMeta()
	return &meta, nil
}

// GetRoom returns room metadata by id.
func (s *MemoryStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	s.mu.RLock()
	r := s.rooms[roomID]
	s.mu.RUnlock()

	if r == nil {
		return Room{}, ErrNotFound
	}
	return r.snapshotMeta(), nil
}

// ListRoomsForUser returns the user's rooms ordered by LastActivityAt desc.
func (s *MemoryStore) ListRoomsForUser(ctx context.Context, userID string) ([]Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	rooms := make([]*memRoom, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	out := make([]Room, 0, 8)
	for _, r := range rooms {
		meta := r.snapshotMeta()
		if meta.HasParticipant(userID) {
			out = append(out, meta)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Append persists a message with idempotency and monotonic seq allocation,
// updating the room's LastActivityAt/LastMessage under the same room lock.
func (s *MemoryStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if in.RoomID == "" || in.ClientMsgID == "" || in.SenderID == "" {
		return AppendResult{}, invalid("append", "missing room_id, client_msg_id or sender_id")
	}
	if err := validateContent(in.Kind, in.Text, in.Attachment); err != nil {
		return AppendResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.RLock()
	r := s.rooms[in.RoomID]
	s.mu.RUnlock()
	if r == nil {
		return AppendResult{}, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.dedupe[in.ClientMsgID]; ok {
		return AppendResult{Message: existing, Duplicated: true}, nil
	}

	r.seq++
	msg := Message{
		ID:          NewMessageID(now),
		RoomID:      in.RoomID,
		ClientMsgID: in.ClientMsgID,
		SenderID:    in.SenderID,
		SenderName:  in.SenderName,
		SenderRole:  in.SenderRole,
		Kind:        in.Kind,
		Text:        in.Text,
		Attachment:  in.Attachment,
		SentAt:      now,
		Seq:         r.seq,
	}
	r.dedupe[in.ClientMsgID] = msg
	r.msgs = append(r.msgs, msg)

	// Bound memory when running without a database: the oldest messages fall
	// out of snapshots and cursor paging once evicted (their ids become
	// unknown cursors), and their dedupe entries go with them. The Postgres
	// store keeps full history.
	if len(r.msgs) > memMaxMessagesPerRoom {
		for _, old := range r.msgs[:len(r.msgs)-memMaxMessagesPerRoom] {
			delete(r.dedupe, old.ClientMsgID)
		}
		r.msgs = r.msgs[len(r.msgs)-memMaxMessagesPerRoom:]
	}

	last := msg
	r.meta.LastActivityAt = msg.SentAt
	r.meta.LastMessage = &last

	return AppendResult{Message: msg, Duplicated: false}, nil
}

// ListSince returns messages ordered by seq ASC from the cursor (exclusive).
// limit <= 0 returns the full history.
func (s *MemoryStore) ListSince(ctx context.Context, roomID, afterID string, limit int) (ListResult, error) {
	if roomID == "" {
		return ListResult{}, invalid("room_id", "missing")
	}
	if err := ctx.Err(); err != nil {
		return ListResult{}, err
	}

	s.mu.RLock()
	r := s.rooms[roomID]
	s.mu.RUnlock()
	if r == nil {
		return ListResult{}, ErrNotFound
	}

	r.mu.Lock()
	snap := append([]Message(nil), r.msgs...)
	r.mu.Unlock()

	start := 0
	if afterID != "" {
		idx := -1
		for i, m := range snap {
			if m.ID == afterID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ListResult{}, ErrNotFound
		}
		start = idx + 1
	}
	snap = snap[start:]

	if limit <= 0 {
		return ListResult{Messages: snap, HasMore: false}, nil
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	hasMore := len(snap) > limit
	if hasMore {
		snap = snap[:limit]
	}
	return ListResult{Messages: snap, HasMore: hasMore}, nil
}

// Latest returns the most recent message of the room, or nil when empty.
func (s *MemoryStore) Latest(ctx context.Context, roomID string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	r := s.rooms[roomID]
	s.mu.RUnlock()
	if r == nil {
		return nil, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return nil, nil
	}
	last := r.msgs[len(r.msgs)-1]
	return &last, nil
}

// snapshotMeta copies room metadata under the room lock.
func (r *memRoom) snapshotMeta() Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta := r.meta
	meta.Participants = append([]string(nil), r.meta.Participants...)
	if r.meta.LastMessage != nil {
		last := *r.meta.LastMessage
		meta.LastMessage = &last
	}
	return meta
}
