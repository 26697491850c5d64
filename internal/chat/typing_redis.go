package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTypingStore is a TypingStore backed by Redis, for multi-instance
// deployments where typing marks must be visible across gateway processes.
//
// Key layout:
//
//	typing:{room_id}:{user_id}  STRING<json mark>, EX = staleness window
//	typing:{room_id}            SET<user_id>, membership bookkeeping
//
// The per-mark TTL enforces the staleness window server-side; the member set
// is reaped lazily on read when a mark key has expired.
type RedisTypingStore struct {
	client *redis.Client
}

// NewRedisTypingStore constructs a Redis-backed TypingStore and verifies
// connectivity.
func NewRedisTypingStore(ctx context.Context, client *redis.Client) (*RedisTypingStore, error) {
	if client == nil {
		return nil, errors.New("chat: nil redis client")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("chat: redis ping: %w", err)
	}
	return &RedisTypingStore{client: client}, nil
}

type redisMark struct {
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
}

func typingMarkKey(roomID, userID string) string {
	return fmt.Sprintf("typing:%s:%s", roomID, userID)
}

func typingRoomKey(roomID string) string {
	return fmt.Sprintf("typing:%s", roomID)
}

// SetTyping upserts or deletes the (room, user) mark.
func (s *RedisTypingStore) SetTyping(ctx context.Context, roomID, userID, displayName string, isTyping bool) error {
	if roomID == "" || userID == "" {
		return invalid("typing", "missing room_id or user_id")
	}

	if !isTyping {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, typingMarkKey(roomID, userID))
		pipe.SRem(ctx, typingRoomKey(roomID), userID)
		_, err := pipe.Exec(ctx)
		return err
	}

	payload, err := json.Marshal(redisMark{Name: displayName, StartedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, typingMarkKey(roomID, userID), payload, TypingStaleAfter)
	pipe.SAdd(ctx, typingRoomKey(roomID), userID)
	pipe.Expire(ctx, typingRoomKey(roomID), 2*TypingStaleAfter)
	_, err = pipe.Exec(ctx)
	return err
}

// ListTyping returns non-stale marks excluding excludeUserID. Members whose
// mark key has expired are removed from the room set.
func (s *RedisTypingStore) ListTyping(ctx context.Context, roomID, excludeUserID string) ([]TypingMark, error) {
	members, err := s.client.SMembers(ctx, typingRoomKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	out := make([]TypingMark, 0, len(members))
	var expired []any
	for _, userID := range members {
		raw, err := s.client.Get(ctx, typingMarkKey(roomID, userID)).Result()
		if errors.Is(err, redis.Nil) {
			expired = append(expired, userID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if userID == excludeUserID {
			continue
		}

		var m redisMark
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			expired = append(expired, userID)
			continue
		}
		out = append(out, TypingMark{
			RoomID:      roomID,
			UserID:      userID,
			DisplayName: m.Name,
			StartedAt:   m.StartedAt,
		})
	}

	if len(expired) > 0 {
		_ = s.client.SRem(ctx, typingRoomKey(roomID), expired...).Err()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
