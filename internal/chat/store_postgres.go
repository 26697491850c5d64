// Package chat contains the edumanage realtime chat core: room directory,
// message log, typing store, fan-out broker and websocket gateway.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Per-room transactional advisory locks serialize the append path, so seq
//   allocation, the message insert and the rooms.last_message_id update commit
//   together: a directory reader never sees a LastMessage that is not durable.
// - Different rooms never contend.
//
// Expected schema (see migrations/001_chat.sql): rooms, room_participants,
// room_cursors, messages.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "chat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "chat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// CreateRoom creates a room. Direct rooms are a compare-and-swap on the
// canonical pair key: ON CONFLICT (direct_key) DO NOTHING, then read back the
// winner, so concurrent creates for the same pair converge on one room.
func (s *PostgresStore) CreateRoom(ctx context.Context, in CreateRoomInput) (Room, bool, error) {
	if s == nil || s.pool == nil {
		return Room{}, false, errors.New("chat: nil store")
	}

	participants := normalizeParticipants(in.Participants)
	var directKey *string
	switch in.Kind {
	case RoomDirect:
		if len(participants) != 2 {
			return Room{}, false, invalid("participants", "direct room requires exactly 2 distinct participants")
		}
		k := DirectKey(participants[0], participants[1])
		directKey = &k
	case RoomGroup:
		if len(participants) < 2 {
			return Room{}, false, invalid("participants", "group room requires at least 2 distinct participants")
		}
	default:
		return Room{}, false, invalid("kind", "unknown room kind")
	}
	if err := ctx.Err(); err != nil {
		return Room{}, false, err
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Room{}, false, storageErr("create room: begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rooms := pgIdent(s.schema, "rooms")
	members := pgIdent(s.schema, "room_participants")

	roomID := NewRoomID(now)

	tag, err := tx.Exec(ctx,
		`INSERT INTO `+rooms+` (id, kind, name, direct_key, created_at, last_activity_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (direct_key) DO NOTHING`,
		roomID, in.Kind, name, directKey, now,
	)
	if err != nil {
		return Room{}, false, storageErr("create room: insert", err)
	}

	if tag.RowsAffected() == 0 && directKey != nil {
		// Lost the race (or the room already existed): return the winner.
		var existingID string
		if err := tx.QueryRow(ctx,
			`SELECT id FROM `+rooms+` WHERE direct_key = $1`, *directKey,
		).Scan(&existingID); err != nil {
			return Room{}, false, storageErr("create room: read winner", err)
		}
		existing, err := s.getRoomTx(ctx, tx, existingID)
		if err != nil {
			return Room{}, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Room{}, false, storageErr("create room: commit", err)
		}
		return existing, true, nil
	}

	for _, p := range participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+members+` (room_id, user_id) VALUES ($1, $2)
			 ON CONFLICT (room_id, user_id) DO NOTHING`,
			roomID, p,
		); err != nil {
			return Room{}, false, storageErr("create room: participant", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Room{}, false, storageErr("create room: commit", err)
	}

	return Room{
		ID:             roomID,
		Kind:           in.Kind,
		Name:           name,
		Participants:   participants,
		CreatedAt:      now,
		LastActivityAt: now,
	}, false, nil
}

// FindDirectRoom returns the direct room for the unordered pair, or nil.
func (s *PostgresStore) FindDirectRoom(ctx context.Context, userA, userB string) (*Room, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, invalid("participants", "missing user id")
	}

	rooms := pgIdent(s.schema, "rooms")

	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM `+rooms+` WHERE direct_key = $1`, DirectKey(userA, userB),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find direct room", err)
	}

	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetRoom returns room metadata with participants and the denormalized
// last message.
func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	if s == nil || s.pool == nil {
		return Room{}, errors.New("chat: nil store")
	}
	return s.getRoomQ(ctx, s.pool, roomID)
}

func (s *PostgresStore) getRoomTx(ctx context.Context, tx pgx.Tx, roomID string) (Room, error) {
	return s.getRoomQ(ctx, tx, roomID)
}

// queryRower is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) getRoomQ(ctx context.Context, q queryRower, roomID string) (Room, error) {
	rooms := pgIdent(s.schema, "rooms")
	members := pgIdent(s.schema, "room_participants")
	messages := pgIdent(s.schema, "messages")

	var r Room
	var lastMsgID *string
	err := q.QueryRow(ctx,
		`SELECT id, kind, name, created_at, last_activity_at, last_message_id
		   FROM `+rooms+` WHERE id = $1`,
		roomID,
	).Scan(&r.ID, &r.Kind, &r.Name, &r.CreatedAt, &r.LastActivityAt, &lastMsgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, storageErr("get room", err)
	}

	rows, err := q.Query(ctx,
		`SELECT user_id FROM `+members+` WHERE room_id = $1 ORDER BY user_id`, roomID,
	)
	if err != nil {
		return Room{}, storageErr("get room: participants", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return Room{}, storageErr("get room: scan participant", err)
		}
		r.Participants = append(r.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return Room{}, storageErr("get room: participants", err)
	}

	if lastMsgID != nil {
		m, err := scanMessageRow(q.QueryRow(ctx,
			selectMessageCols+` FROM `+messages+` WHERE id = $1`, *lastMsgID,
		))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return Room{}, storageErr("get room: last message", err)
		}
		if err == nil {
			r.LastMessage = &m
		}
	}

	return r, nil
}

// ListRoomsForUser returns the user's rooms ordered by last activity desc.
func (s *PostgresStore) ListRoomsForUser(ctx context.Context, userID string) ([]Room, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("user_id", "missing")
	}

	rooms := pgIdent(s.schema, "rooms")
	members := pgIdent(s.schema, "room_participants")

	rows, err := s.pool.Query(ctx,
		`SELECT r.id
		   FROM `+rooms+` r
		   JOIN `+members+` m ON m.room_id = r.id
		  WHERE m.user_id = $1
		  ORDER BY r.last_activity_at DESC, r.id DESC`,
		userID,
	)
	if err != nil {
		return nil, storageErr("list rooms", err)
	}
	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, storageErr("list rooms: scan", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("list rooms", err)
	}

	out := make([]Room, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRoom(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Append appends a message with idempotency and monotonic seq allocation, and
// updates the room's last_activity_at/last_message_id in the same transaction.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if s == nil || s.pool == nil {
		return AppendResult{}, errors.New("chat: nil store")
	}
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendResult{}, storageErr("append: begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rooms := pgIdent(s.schema, "rooms")
	cursors := pgIdent(s.schema, "room_cursors")
	messages := pgIdent(s.schema, "messages")

	// Serialize all writes per room to guarantee:
	// - No seq waste for duplicates
	// - Strict monotonic ordering without races
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.RoomID); err != nil {
		return AppendResult{}, storageErr("append: advisory lock", err)
	}

	var kind string
	err = tx.QueryRow(ctx, `SELECT kind FROM `+rooms+` WHERE id = $1`, in.RoomID).Scan(&kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return AppendResult{}, ErrNotFound
	}
	if err != nil {
		return AppendResult{}, storageErr("append: room lookup", err)
	}

	existing, err := scanMessageRow(tx.QueryRow(ctx,
		selectMessageCols+` FROM `+messages+` WHERE room_id = $1 AND client_msg_id = $2`,
		in.RoomID, in.ClientMsgID,
	))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return AppendResult{}, storageErr("append: commit", err)
		}
		return AppendResult{Message: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendResult{}, storageErr("append: dedupe lookup", err)
	}

	// Cursor row ensures monotonic seq allocation.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (room_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (room_id) DO NOTHING`,
		in.RoomID,
	); err != nil {
		return AppendResult{}, storageErr("append: cursor init", err)
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE room_id = $1
		RETURNING (next_seq - 1)`,
		in.RoomID,
	).Scan(&seq); err != nil {
		return AppendResult{}, storageErr("append: seq", err)
	}

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
		Seq:         seq,
	}

	var attJSON []byte
	if msg.Attachment != nil {
		attJSON, err = json.Marshal(msg.Attachment)
		if err != nil {
			return AppendResult{}, fmt.Errorf("append: encode attachment: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     room_id, seq, id, client_msg_id, sender_id, sender_name, sender_role,
		     kind, text, attachment, sent_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.RoomID, msg.Seq, msg.ID, msg.ClientMsgID, msg.SenderID, msg.SenderName,
		msg.SenderRole, msg.Kind, msg.Text, attJSON, msg.SentAt,
	); err != nil {
		return AppendResult{}, storageErr("append: insert message", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+rooms+`
		    SET last_activity_at = $2,
		        last_message_id = $3
		  WHERE id = $1`,
		msg.RoomID, msg.SentAt, msg.ID,
	); err != nil {
		return AppendResult{}, storageErr("append: room update", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendResult{}, storageErr("append: commit", err)
	}
	return AppendResult{Message: msg, Duplicated: false}, nil
}

// ListSince returns messages ordered by seq ASC from the cursor (exclusive).
// limit <= 0 returns the full history (snapshot delivery).
func (s *PostgresStore) ListSince(ctx context.Context, roomID, afterID string, limit int) (ListResult, error) {
	if s == nil || s.pool == nil {
		return ListResult{}, errors.New("chat: nil store")
	}
	if roomID == "" {
		return ListResult{}, invalid("room_id", "missing")
	}
	if err := ctx.Err(); err != nil {
		return ListResult{}, err
	}

	messages := pgIdent(s.schema, "messages")

	afterSeq := int64(0)
	if afterID != "" {
		err := s.pool.QueryRow(ctx,
			`SELECT seq FROM `+messages+` WHERE room_id = $1 AND id = $2`,
			roomID, afterID,
		).Scan(&afterSeq)
		if errors.Is(err, pgx.ErrNoRows) {
			return ListResult{}, ErrNotFound
		}
		if err != nil {
			return ListResult{}, storageErr("list since: cursor", err)
		}
	}

	var (
		rows pgx.Rows
		err  error
	)
	if limit <= 0 {
		rows, err = s.pool.Query(ctx,
			selectMessageCols+` FROM `+messages+`
			  WHERE room_id = $1 AND seq > $2
			  ORDER BY seq ASC`,
			roomID, afterSeq,
		)
	} else {
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
		rows, err = s.pool.Query(ctx,
			selectMessageCols+` FROM `+messages+`
			  WHERE room_id = $1 AND seq > $2
			  ORDER BY seq ASC
			  LIMIT $3`,
			roomID, afterSeq, limit+1,
		)
	}
	if err != nil {
		return ListResult{}, storageErr("list since", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, 64)
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return ListResult{}, storageErr("list since: scan", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, storageErr("list since", err)
	}

	hasMore := false
	if limit > 0 && len(msgs) > limit {
		hasMore = true
		msgs = msgs[:limit]
	}
	return ListResult{Messages: msgs, HasMore: hasMore}, nil
}

// Latest returns the most recent message of the room, or nil when empty.
func (s *PostgresStore) Latest(ctx context.Context, roomID string) (*Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}

	messages := pgIdent(s.schema, "messages")

	m, err := scanMessageRow(s.pool.QueryRow(ctx,
		selectMessageCols+` FROM `+messages+`
		  WHERE room_id = $1
		  ORDER BY seq DESC
		  LIMIT 1`,
		roomID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("latest", err)
	}
	return &m, nil
}

const selectMessageCols = `SELECT room_id, seq, id, client_msg_id, sender_id, sender_name, sender_role, kind, text, attachment, sent_at`

func scanMessageRow(row pgx.Row) (Message, error) {
	var m Message
	var attJSON []byte
	err := row.Scan(
		&m.RoomID, &m.Seq, &m.ID, &m.ClientMsgID, &m.SenderID, &m.SenderName,
		&m.SenderRole, &m.Kind, &m.Text, &attJSON, &m.SentAt,
	)
	if err != nil {
		return Message{}, err
	}
	if len(attJSON) > 0 {
		var att Attachment
		if err := json.Unmarshal(attJSON, &att); err != nil {
			return Message{}, fmt.Errorf("decode attachment: %w", err)
		}
		m.Attachment = &att
	}
	return m, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
