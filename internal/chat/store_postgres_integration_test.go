package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when CHATD_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_DirectRoom_CASConverges(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store := mustNewPGStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const n = 8

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
		t.Fatalf("expected one room for the pair, got %d", len(seen))
	}

	var cnt int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+pgIdent(schema, "rooms")+` WHERE kind = 'direct'`,
	).Scan(&cnt); err != nil {
		t.Fatalf("count rooms: %v", err)
	}
	if cnt != 1 {
		t.Fatalf("expected 1 direct room row, got %d", cnt)
	}
}

func TestPostgresStore_Append_DedupeAndRoomMeta(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store := mustNewPGStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	room, _, err := store.CreateRoom(ctx, CreateRoomInput{
		Kind:         RoomDirect,
		Participants: []string{"alice", "bob"},
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	clientMsgID := "cmsg-" + randomHex(8)
	// Truncate to Postgres timestamptz precision so round-trips compare equal.
	now := time.Now().UTC().Truncate(time.Microsecond)
	first, err := store.Append(ctx, AppendInput{
		RoomID:      room.ID,
		ClientMsgID: clientMsgID,
		SenderID:    "alice",
		SenderName:  "Alice",
		SenderRole:  RoleTeacher,
		Kind:        KindText,
		Text:        "hello",
		Now:         now,
	})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.Duplicated || first.Message.Seq != 1 {
		t.Fatalf("append first: duplicated=%v seq=%d", first.Duplicated, first.Message.Seq)
	}

	second, err := store.Append(ctx, AppendInput{
		RoomID:      room.ID,
		ClientMsgID: clientMsgID, // duplicate on purpose
		SenderID:    "alice",
		SenderName:  "Alice",
		SenderRole:  RoleTeacher,
		Kind:        KindText,
		Text:        "hello",
	})
	if err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if !second.Duplicated || second.Message.ID != first.Message.ID {
		t.Fatalf("append duplicate: expected the original message back")
	}

	// Room meta was updated in the same transaction as the insert.
	got, err := store.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if got.LastMessage == nil || got.LastMessage.ID != first.Message.ID {
		t.Fatalf("expected LastMessage=%q, got %+v", first.Message.ID, got.LastMessage)
	}
	if !got.LastActivityAt.Equal(first.Message.SentAt) {
		t.Fatalf("expected LastActivityAt=%v, got %v", first.Message.SentAt, got.LastActivityAt)
	}

	var cnt int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+pgIdent(schema, "messages")+` WHERE room_id = $1`,
		room.ID,
	).Scan(&cnt); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if cnt != 1 {
		t.Fatalf("expected 1 message row, got %d", cnt)
	}
}

func TestPostgresStore_ConcurrentAppend_NoGaps(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store := mustNewPGStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	room, _, err := store.CreateRoom(ctx, CreateRoomInput{
		Kind:         RoomGroup,
		Participants: []string{"alice", "bob", "carol"},
		Name:         "it-concurrency",
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	const n = 32

	var wg sync.WaitGroup
	wg.Add(n)

	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()

			_, err := store.Append(ctx, AppendInput{
				RoomID:      room.ID,
				ClientMsgID: fmt.Sprintf("cmsg-%d-%s", i, randomHex(5)),
				SenderID:    "alice",
				SenderName:  "Alice",
				SenderRole:  RoleTeacher,
				Kind:        KindText,
				Text:        fmt.Sprintf("m%d", i),
			})
			if err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrent append error: %v", err)
	}

	out, err := store.ListSince(ctx, room.ID, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out.Messages) != n {
		t.Fatalf("expected %d messages, got %d", n, len(out.Messages))
	}

	// Strict: seqs must be exactly 1..n in order.
	for i, m := range out.Messages {
		if m.Seq != int64(i+1) {
			t.Fatalf("seq gap at index %d: got %d", i, m.Seq)
		}
	}
}

func TestPostgresStore_ListSince_CursorPaging(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store := mustNewPGStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	room, _, err := store.CreateRoom(ctx, CreateRoomInput{
		Kind:         RoomDirect,
		Participants: []string{"alice", "bob"},
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, AppendInput{
			RoomID:      room.ID,
			ClientMsgID: fmt.Sprintf("cmsg-%d", i),
			SenderID:    "alice",
			SenderName:  "Alice",
			SenderRole:  RoleTeacher,
			Kind:        KindText,
			Text:        fmt.Sprintf("m%d", i),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	win, err := store.ListSince(ctx, room.ID, "", 2)
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(win.Messages) != 2 || !win.HasMore {
		t.Fatalf("window: expected 2 messages, HasMore=true; got %d, %v", len(win.Messages), win.HasMore)
	}

	rest, err := store.ListSince(ctx, room.ID, win.Messages[1].ID, 50)
	if err != nil {
		t.Fatalf("list rest: %v", err)
	}
	if len(rest.Messages) != 1 || rest.HasMore {
		t.Fatalf("rest: expected 1 message, HasMore=false; got %d, %v", len(rest.Messages), rest.HasMore)
	}
	if rest.Messages[0].Seq != 3 {
		t.Fatalf("rest: expected seq=3, got %d", rest.Messages[0].Seq)
	}

	if _, err := store.ListSince(ctx, room.ID, "no-such-id", 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown cursor: expected ErrNotFound, got %v", err)
	}
}

// ---- test helpers ----

func mustNewPGStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	return st
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("CHATD_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: CHATD_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse CHATD_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "chat_it_" + randomHex(8)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	rooms := pgIdent(schema, "rooms")
	participants := pgIdent(schema, "room_participants")
	cursors := pgIdent(schema, "room_cursors")
	messages := pgIdent(schema, "messages")

	// Must remain semantically aligned with migrations/001_chat.sql.
	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id               text PRIMARY KEY,
  kind             text NOT NULL CHECK (kind IN ('direct', 'group')),
  name             text NOT NULL,
  direct_key       text UNIQUE,
  created_at       timestamptz NOT NULL,
  last_activity_at timestamptz NOT NULL,
  last_message_id  text
);

CREATE TABLE IF NOT EXISTS %s (
  room_id text NOT NULL REFERENCES %s (id),
  user_id text NOT NULL,
  PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS %s (
  room_id    text PRIMARY KEY,
  next_seq   bigint NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  room_id       text NOT NULL,
  seq           bigint NOT NULL,
  id            text NOT NULL UNIQUE,
  client_msg_id text NOT NULL,
  sender_id     text NOT NULL,
  sender_name   text NOT NULL,
  sender_role   text NOT NULL,
  kind          text NOT NULL,
  text          text NOT NULL DEFAULT '',
  attachment    jsonb,
  sent_at       timestamptz NOT NULL,
  PRIMARY KEY (room_id, seq),
  UNIQUE (room_id, client_msg_id)
);
`, rooms, participants, rooms, cursors, messages)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}
