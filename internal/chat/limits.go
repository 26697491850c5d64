package chat

import "time"

// Security/performance limits for the chat core and its websocket surface.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message text length (runes).
	maxMessageChars = 4000

	// Max participants accepted for a group room.
	maxGroupParticipants = 256
)

const (
	// TypingStaleAfter is the staleness window for typing marks: a mark whose
	// age reaches this cutoff is excluded from every "who is typing" view.
	TypingStaleAfter = 3000 * time.Millisecond

	// Heartbeat defaults (overridable by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)
