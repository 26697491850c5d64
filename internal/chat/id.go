package chat

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULIDs are used for every server-assigned id (rooms, messages, sessions,
// envelopes). They are time-ordered, so lexicographic order of message ids
// matches assignment order within a process, which keeps cursors opaque but
// sortable.

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a ULID stamped with now.
// Monotonic entropy guarantees strict ordering for ids minted in the same
// millisecond.
func NewID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now.UTC()), entropy).String()
}

// NewRoomID returns a server-assigned room id.
func NewRoomID(now time.Time) string { return NewID(now) }

// NewMessageID returns a server-assigned message id.
func NewMessageID(now time.Time) string { return NewID(now) }

// NewSessionID returns a websocket session id.
func NewSessionID(now time.Time) string { return NewID(now) }
