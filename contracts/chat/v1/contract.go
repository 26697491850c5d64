// Package v1 defines the edumanage chat wire protocol v1.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server) and carries the
	// caller identity issued by the external identity provider.
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello.ack"

	// TypeRoomDirect requests the direct room for (self, other), creating it
	// if it does not exist (client -> server).
	TypeRoomDirect = "room.direct"
	// TypeRoomCreate requests creation of a group room (client -> server).
	TypeRoomCreate = "room.create"
	// TypeRoomJoin opens a subscription to an existing room (client -> server).
	TypeRoomJoin = "room.join"
	// TypeRoomOpened confirms a room open/create/join (server -> client).
	TypeRoomOpened = "room.opened"

	// TypeRoomsList requests the caller's room list (client -> server).
	TypeRoomsList = "rooms.list"
	// TypeRoomsState returns the caller's rooms ordered by last activity (server -> client).
	TypeRoomsState = "rooms.state"

	// TypeMessageSend requests sending a new message (client -> server).
	TypeMessageSend = "message.send"
	// TypeMessageAck confirms a send request with the stored message (server -> client).
	TypeMessageAck = "message.ack"
	// TypeRoomSnapshot pushes the full ordered message list for a room
	// (server -> room subscribers). Snapshot delivery, never a diff.
	TypeRoomSnapshot = "room.snapshot"

	// TypeHistoryFetch requests a message history window (client -> server).
	TypeHistoryFetch = "history.fetch"
	// TypeHistoryChunk returns a window of history (server -> client).
	TypeHistoryChunk = "history.chunk"

	// TypeTypingSet marks the caller as typing or not typing (client -> server).
	TypeTypingSet = "typing.set"
	// TypeTypingState pushes the current non-stale typing set, excluding the
	// receiving user (server -> typing subscribers).
	TypeTypingState = "typing.state"

	// TypeContactsList requests who the caller may start a chat with (client -> server).
	TypeContactsList = "contacts.list"
	// TypeContactsState returns the caller's available contacts (server -> client).
	TypeContactsState = "contacts.state"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeRoomDirect,
		TypeRoomCreate,
		TypeRoomJoin,
		TypeRoomOpened,
		TypeRoomsList,
		TypeRoomsState,
		TypeMessageSend,
		TypeMessageAck,
		TypeRoomSnapshot,
		TypeHistoryFetch,
		TypeHistoryChunk,
		TypeTypingSet,
		TypeTypingState,
		TypeContactsList,
		TypeContactsState,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}
