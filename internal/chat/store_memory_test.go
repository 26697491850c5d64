package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func mustCreateRoom(t *testing.T, store *MemoryStore, kind string, participants ...string) Room {
	t.Helper()

	room, _, err := store.CreateRoom(context.Background(), CreateRoomInput{
		Kind:         kind,
		Participants: participants,
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room
}

func TestMemoryStore_CreateDirectRoom_Dedupe(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	first, existed, err := store.CreateRoom(ctx, CreateRoomInput{
		Kind:         RoomDirect,
		Participants: []string{"alice", "bob"},
	})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if existed {
		t.Fatalf("create first: expected existed=false")
	}
	if first.Name != defaultDirectName {
		t.Fatalf("expected default name %q, got %q", defaultDirectName, first.Name)
	}

	// Reversed participant order must converge on the same room.
	second, existed, err := store.CreateRoom(ctx, CreateRoomInput{
		Kind:         RoomDirect,
		Participants: []string{"bob", "alice"},
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if !existed {
		t.Fatalf("create second: expected existed=true")
	}
	if second.ID != first.ID {
		t.Fatalf("room id mismatch: %q vs %q", first.ID, second.ID)
	}

	found, err := store.FindDirectRoom(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("find direct: %v", err)
	}
	if found == nil || found.ID != first.ID {
		t.Fatalf("find direct: expected %q, got %+v", first.ID, found)
	}
}

func TestMemoryStore_CreateDirectRoom_ConcurrentConverges(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	const n = 16

	var wg sync.WaitGroup
	wg.Add(n)

	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()

			room, _, err := store.CreateRoom(ctx, CreateRoomInput{
				Kind:         RoomDirect,
				Participants: []string{"alice", "bob"},
			})
			if err != nil {
				t.Errorf("concurrent create: %v", err)
				return
			}
			ids <- room.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	if len(seen) != 1 {
		t.Fatalf("expected all creates to converge on one room, got %d ids", len(seen))
	}
}

func TestMemoryStore_CreateRoom_Validation(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	cases := []struct {
		name         string
		kind         string
		participants []string
	}{
		{"direct with one participant", RoomDirect, []string{"alice"}},
		{"direct with duplicate participant", RoomDirect, []string{"alice", "alice"}},
		{"group with one participant", RoomGroup, []string{"alice"}},
		{"unknown kind", "broadcast", []string{"alice", "bob"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := store.CreateRoom(ctx, CreateRoomInput{
				Kind:         tc.kind,
				Participants: tc.participants,
			})
			if !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestMemoryStore_Append_OrderDedupeNoSeqWaste(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	room := mustCreateRoom(t, store, RoomDirect, "alice", "bob")

	first, err := store.Append(ctx, AppendInput{
		RoomID:      room.ID,
		ClientMsgID: "c-1",
		SenderID:    "alice",
		Kind:        KindText,
		Text:        "hello",
	})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.Duplicated {
		t.Fatalf("append first: expected Duplicated=false")
	}
	if first.Message.Seq != 1 {
		t.Fatalf("append first: expected seq=1, got %d", first.Message.Seq)
	}
	if first.Message.ID == "" {
		t.Fatalf("append first: expected a message id")
	}

	dup, err := store.Append(ctx, AppendInput{
		RoomID:      room.ID,
		ClientMsgID: "c-1", // duplicate on purpose
		SenderID:    "alice",
		Kind:        KindText,
		Text:        "hello",
	})
	if err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if !dup.Duplicated {
		t.Fatalf("append duplicate: expected Duplicated=true")
	}
	if dup.Message.ID != first.Message.ID || dup.Message.Seq != first.Message.Seq {
		t.Fatalf("append duplicate: expected the original message back")
	}

	second, err := store.Append(ctx, AppendInput{
		RoomID:      room.ID,
		ClientMsgID: "c-2",
		SenderID:    "bob",
		Kind:        KindText,
		Text:        "hi",
	})
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if second.Message.Seq != 2 {
		t.Fatalf("duplicate wasted a seq: expected seq=2, got %d", second.Message.Seq)
	}
}

func TestMemoryStore_Append_UpdatesRoomMeta(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	room := mustCreateRoom(t, store, RoomDirect, "alice", "bob")

	now := time.Now().UTC().Truncate(time.Millisecond)
	res, err := store.Append(ctx, AppendInput{
		RoomID:      room.ID,
		ClientMsgID: "c-1",
		SenderID:    "alice",
		Kind:        KindText,
		Text:        "hello",
		Now:         now,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if !got.LastActivityAt.Equal(now) {
		t.Fatalf("expected LastActivityAt=%v, got %v", now, got.LastActivityAt)
	}
	if got.LastMessage == nil || got.LastMessage.ID != res.Message.ID {
		t.Fatalf("expected LastMessage to reference the appended message")
	}
}

func TestMemoryStore_ListSince_CursorAndLimit(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	room := mustCreateRoom(t, store, RoomDirect, "alice", "bob")

	for i := 0; i < 5; i++ {
		if _, err := store.Append(ctx, AppendInput{
			RoomID:      room.ID,
			ClientMsgID: fmt.Sprintf("c-%d", i),
			SenderID:    "alice",
			Kind:        KindText,
			Text:        fmt.Sprintf("m%d", i),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// Full history.
	all, err := store.ListSince(ctx, room.ID, "", 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all.Messages) != 5 || all.HasMore {
		t.Fatalf("list all: expected 5 messages, HasMore=false; got %d, %v", len(all.Messages), all.HasMore)
	}
	for i := 1; i < len(all.Messages); i++ {
		if all.Messages[i].Seq <= all.Messages[i-1].Seq {
			t.Fatalf("messages not in seq order at index %d", i)
		}
	}

	// Window with limit.
	win, err := store.ListSince(ctx, room.ID, "", 2)
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(win.Messages) != 2 || !win.HasMore {
		t.Fatalf("list window: expected 2 messages, HasMore=true; got %d, %v", len(win.Messages), win.HasMore)
	}

	// Resume from the cursor.
	rest, err := store.ListSince(ctx, room.ID, win.Messages[1].ID, 10)
	if err != nil {
		t.Fatalf("list rest: %v", err)
	}
	if len(rest.Messages) != 3 || rest.HasMore {
		t.Fatalf("list rest: expected 3 messages, HasMore=false; got %d, %v", len(rest.Messages), rest.HasMore)
	}
	if rest.Messages[0].Seq != win.Messages[1].Seq+1 {
		t.Fatalf("cursor not exclusive: got seq=%d", rest.Messages[0].Seq)
	}

	// Unknown cursor.
	if _, err := store.ListSince(ctx, room.ID, "no-such-id", 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown cursor: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListRoomsForUser_OrderedByActivity(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	r1 := mustCreateRoom(t, store, RoomDirect, "alice", "bob")
	r2 := mustCreateRoom(t, store, RoomDirect, "alice", "carol")
	_ = mustCreateRoom(t, store, RoomDirect, "dave", "erin") // alice not a member

	base := time.Now().UTC()

	// r1 first, then r2: r2 must sort before r1.
	if _, err := store.Append(ctx, AppendInput{
		RoomID: r1.ID, ClientMsgID: "c-1", SenderID: "alice", Kind: KindText, Text: "one", Now: base,
	}); err != nil {
		t.Fatalf("append r1: %v", err)
	}
	if _, err := store.Append(ctx, AppendInput{
		RoomID: r2.ID, ClientMsgID: "c-2", SenderID: "alice", Kind: KindText, Text: "two", Now: base.Add(time.Second),
	}); err != nil {
		t.Fatalf("append r2: %v", err)
	}

	rooms, err := store.ListRoomsForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
	if rooms[0].ID != r2.ID || rooms[1].ID != r1.ID {
		t.Fatalf("expected order [%s %s], got [%s %s]", r2.ID, r1.ID, rooms[0].ID, rooms[1].ID)
	}
}

func TestMemoryStore_Latest(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	room := mustCreateRoom(t, store, RoomDirect, "alice", "bob")

	latest, err := store.Latest(ctx, room.ID)
	if err != nil {
		t.Fatalf("latest empty: %v", err)
	}
	if latest != nil {
		t.Fatalf("latest empty: expected nil, got %+v", latest)
	}

	if _, err := store.Append(ctx, AppendInput{
		RoomID: room.ID, ClientMsgID: "c-1", SenderID: "alice", Kind: KindText, Text: "one",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	res, err := store.Append(ctx, AppendInput{
		RoomID: room.ID, ClientMsgID: "c-2", SenderID: "bob", Kind: KindText, Text: "two",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	latest, err = store.Latest(ctx, room.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.ID != res.Message.ID {
		t.Fatalf("latest: expected %q, got %+v", res.Message.ID, latest)
	}
}

func TestMemoryStore_Append_UnknownRoom(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	_, err := store.Append(context.Background(), AppendInput{
		RoomID: "missing", ClientMsgID: "c-1", SenderID: "alice", Kind: KindText, Text: "x",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_Append_EvictionTrimsDedupeIndex(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	room := mustCreateRoom(t, store, RoomDirect, "alice", "bob")

	const over = 25
	total := memMaxMessagesPerRoom + over
	for i := 0; i < total; i++ {
		if _, err := store.Append(ctx, AppendInput{
			RoomID:      room.ID,
			ClientMsgID: fmt.Sprintf("c-%d", i),
			SenderID:    "alice",
			Kind:        KindText,
			Text:        "x",
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	list, err := store.ListSince(ctx, room.ID, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Messages) != memMaxMessagesPerRoom {
		t.Fatalf("expected %d retained messages, got %d", memMaxMessagesPerRoom, len(list.Messages))
	}
	if got := list.Messages[0].ClientMsgID; got != fmt.Sprintf("c-%d", over) {
		t.Fatalf("oldest retained message is %q, want c-%d", got, over)
	}

	store.mu.RLock()
	r := store.rooms[room.ID]
	store.mu.RUnlock()

	r.mu.Lock()
	dedupeLen := len(r.dedupe)
	r.mu.Unlock()
	if dedupeLen != memMaxMessagesPerRoom {
		t.Fatalf("dedupe index not trimmed with eviction: %d entries", dedupeLen)
	}

	// An evicted id behaves like any unknown cursor.
	if _, err := store.ListSince(ctx, room.ID, list.Messages[0].ID, 0); err != nil {
		t.Fatalf("cursor on oldest retained message: %v", err)
	}
}
