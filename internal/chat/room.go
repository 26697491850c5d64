package chat

import (
	"sort"
	"strings"
	"time"
)

// Room kinds.
const (
	RoomDirect = "direct"
	RoomGroup  = "group"
)

// Default display names, matching the historical client behavior.
const (
	defaultDirectName = "Direct Message"
	defaultGroupName  = "Group Chat"
)

// Room is conversation metadata owned by the room directory.
//
// For direct rooms the participant pair is immutable and at most one room
// exists per unordered pair (enforced by DirectKey at creation time).
type Room struct {
	ID             string
	Kind           string
	Name           string
	Participants   []string
	CreatedAt      time.Time
	LastActivityAt time.Time
	LastMessage    *Message
}

// HasParticipant reports whether userID belongs to the room.
func (r Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// DirectKey is the canonical key for an unordered participant pair.
// Creating direct rooms through this key turns the historical
// scan-then-insert race into a compare-and-swap.
func DirectKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// normalizeParticipants trims, deduplicates and sorts a participant set.
func normalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
