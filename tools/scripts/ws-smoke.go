// Package main provides a CI-friendly WebSocket smoke test for the chat gateway.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack session establishment
//   - direct room open + join convergence
//   - send -> ack
//   - snapshot fan-out to another client
//   - typing indicator fan-out
//   - history fetch
//   - idempotent dedupe by client_msg_id
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "github.com/Edmundtutu/edumanage-chat/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "edumanage.chat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name      string
	userID    string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		text    = flag.String("text", "hello chat", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", "smoke-alice", "Alice", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", "smoke-bob", "Bob", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	// A opens the direct room; B joining the same pair must land in the same room.
	roomID := mustOpenDirect(root, a, b.userID, *timeout)
	joined := mustJoin(root, b, roomID, *timeout)
	if joined != roomID {
		fatalf("direct room did not converge: A=%q B=%q", roomID, joined)
	}

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())

	msgID := mustSendAndAssertAck(root, a, roomID, clientMsgID, *text, *timeout)

	mustAssertSnapshotContains(root, b, roomID, msgID, *text, *timeout)

	mustTypingRoundTrip(root, a, b, roomID, *timeout)

	mustHistoryFetchContains(root, b, roomID, "", 50, msgID, *text, *timeout)
	mustHistoryFetchEmpty(root, b, roomID, msgID, 50, *timeout)

	// Retry with the same client_msg_id: same stored message, no re-fanout.
	msgID2 := mustSendAndAssertAck(root, a, roomID, clientMsgID, *text, *timeout)
	if msgID2 != msgID {
		fatalf("dedupe: message id mismatch: first=%s second=%s", msgID, msgID2)
	}
	mustAssertNoType(root, b, v1.TypeRoomSnapshot, 1200*time.Millisecond)

	fmt.Printf("OK: A=%s B=%s room_id=%s message_id=%s\n", a.sessionID, b.sessionID, roomID, msgID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, userID, displayName, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeHello,
		ID:   fmt.Sprintf("%s-hello", name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{
			UserID: userID,
			Name:   displayName,
			Role:   "teacher",
		}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello.ack missing session_id (%s)", name)
	}
	c.sessionID = p.SessionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustOpenDirect(parent context.Context, c *smokeClient, otherID string, stepTimeout time.Duration) string {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeRoomDirect,
		ID:      fmt.Sprintf("%s-direct", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.RoomDirectPayload{OtherID: otherID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	opened := c.mustReadUntilType(parent, v1.TypeRoomOpened, stepTimeout, snapshotTypes())

	var p v1.RoomOpenedPayload
	if err := json.Unmarshal(opened.Payload, &p); err != nil {
		fatalf("unmarshal room.opened payload (%s): %v", c.name, err)
	}
	if strings.TrimSpace(p.Room.ID) == "" {
		fatalf("room.opened missing room id (%s)", c.name)
	}
	if p.Room.Kind != v1.RoomKindDirect {
		fatalf("room.opened kind mismatch (%s): got=%q", c.name, p.Room.Kind)
	}
	return p.Room.ID
}

func mustJoin(parent context.Context, c *smokeClient, roomID string, stepTimeout time.Duration) string {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeRoomJoin,
		ID:      fmt.Sprintf("%s-join", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.RoomJoinPayload{RoomID: roomID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	opened := c.mustReadUntilType(parent, v1.TypeRoomOpened, stepTimeout, snapshotTypes())

	var p v1.RoomOpenedPayload
	if err := json.Unmarshal(opened.Payload, &p); err != nil {
		fatalf("unmarshal room.opened payload (%s): %v", c.name, err)
	}
	return p.Room.ID
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, roomID, clientMsgID, text string, stepTimeout time.Duration) (messageID string) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeMessageSend,
		ID:   fmt.Sprintf("%s-send-%s", c.name, clientMsgID),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.MessageSendPayload{
			RoomID:      roomID,
			ClientMsgID: clientMsgID,
			Kind:        v1.MessageKindText,
			Text:        text,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeMessageAck, stepTimeout, snapshotTypes())

	var p v1.MessageAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal message.ack payload (%s): %v", c.name, err)
	}
	if p.RoomID != roomID {
		fatalf("ack room_id mismatch (%s): got=%q want=%q", c.name, p.RoomID, roomID)
	}
	if p.ClientMsgID != clientMsgID {
		fatalf("ack client_msg_id mismatch (%s): got=%q want=%q", c.name, p.ClientMsgID, clientMsgID)
	}
	if strings.TrimSpace(p.Message.ID) == "" {
		fatalf("ack missing message id (%s)", c.name)
	}
	if p.Message.SentAt.IsZero() {
		fatalf("ack missing sent_at (%s)", c.name)
	}
	return p.Message.ID
}

func mustAssertSnapshotContains(parent context.Context, c *smokeClient, roomID, messageID, text string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	// Snapshots are full lists; keep reading until one contains the message.
	for {
		env := c.mustReadUntilType(ctx, v1.TypeRoomSnapshot, stepTimeout, snapshotTypes())

		var p v1.RoomSnapshotPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal room.snapshot payload (%s): %v", c.name, err)
		}
		if p.RoomID != roomID {
			continue
		}
		for _, m := range p.Messages {
			if m.ID == messageID && m.Text == text {
				return
			}
		}
	}
}

func mustTypingRoundTrip(parent context.Context, from, to *smokeClient, roomID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeTypingSet,
		ID:      fmt.Sprintf("%s-typing", from.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.TypingSetPayload{RoomID: roomID, IsTyping: true}),
	}
	mustWriteWithTimeout(parent, from.conn, env, stepTimeout)

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		state := to.mustReadUntilType(ctx, v1.TypeTypingState, stepTimeout, snapshotTypes())

		var p v1.TypingStatePayload
		if err := json.Unmarshal(state.Payload, &p); err != nil {
			fatalf("unmarshal typing.state payload (%s): %v", to.name, err)
		}
		if p.RoomID != roomID {
			continue
		}
		for _, u := range p.Users {
			if u.UserID == from.userID {
				return
			}
		}
	}
}

func mustHistoryFetchContains(
	parent context.Context,
	c *smokeClient,
	roomID, afterID string,
	limit int,
	messageID, text string,
	stepTimeout time.Duration,
) {
	req := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeHistoryFetch,
		ID:   fmt.Sprintf("%s-history-fetch", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.HistoryFetchPayload{
			RoomID:  roomID,
			AfterID: afterID,
			Limit:   limit,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, req, stepTimeout)

	chunk := c.mustReadUntilType(parent, v1.TypeHistoryChunk, stepTimeout, snapshotTypes())

	var p v1.HistoryChunkPayload
	if err := json.Unmarshal(chunk.Payload, &p); err != nil {
		fatalf("unmarshal history.chunk payload (%s): %v", c.name, err)
	}
	if p.RoomID != roomID {
		fatalf("history.chunk room_id mismatch (%s): got=%q want=%q", c.name, p.RoomID, roomID)
	}

	for _, m := range p.Messages {
		if m.ID == messageID && m.Text == text && !m.SentAt.IsZero() {
			return
		}
	}
	fatalf("history.chunk missing expected message (%s)", c.name)
}

func mustHistoryFetchEmpty(parent context.Context, c *smokeClient, roomID, afterID string, limit int, stepTimeout time.Duration) {
	req := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeHistoryFetch,
		ID:   fmt.Sprintf("%s-history-fetch-empty", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.HistoryFetchPayload{
			RoomID:  roomID,
			AfterID: afterID,
			Limit:   limit,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, req, stepTimeout)

	chunk := c.mustReadUntilType(parent, v1.TypeHistoryChunk, stepTimeout, snapshotTypes())

	var p v1.HistoryChunkPayload
	if err := json.Unmarshal(chunk.Payload, &p); err != nil {
		fatalf("unmarshal history.chunk payload (%s): %v", c.name, err)
	}
	if p.RoomID != roomID {
		fatalf("history.chunk room_id mismatch (%s): got=%q want=%q", c.name, p.RoomID, roomID)
	}
	if len(p.Messages) != 0 {
		fatalf("expected empty history chunk (%s), got=%d", c.name, len(p.Messages))
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

// snapshotTypes are server pushes that may interleave with any reply.
func snapshotTypes() map[string]struct{} {
	return map[string]struct{}{
		v1.TypeRoomSnapshot: {},
		v1.TypeTypingState:  {},
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
