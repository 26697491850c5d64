package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	v1 "github.com/Edmundtutu/edumanage-chat/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "edumanage.chat.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Max rooms one connection may hold open subscriptions for.
	wsMaxOpenRooms = 128

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the WebSocket entrypoint of the chat core.
//
// It enforces origin policy, subprotocol selection, rate limits and
// heartbeats, and routes validated envelopes to the Service. One connection
// may hold open subscriptions for several rooms; every subscription is torn
// down when the connection goes away, so a disconnect never leaks listeners.
type WSGateway struct {
	log *slog.Logger
	svc *Service

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
func NewWSGateway(log *slog.Logger, svc *Service) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	g := &WSGateway{log: log, svc: svc}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("CHATD_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("CHATD_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("CHATD_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("CHATD_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("CHATD_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("CHATD_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("CHATD_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("CHATD_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("CHATD_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("CHATD_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// roomHandles are the live subscriptions a connection holds for one room.
type roomHandles struct {
	cancelMsgs   CancelFunc
	cancelTyping CancelFunc
}

// connRooms tracks the live room subscriptions of one connection. Once
// closeAll has run, put rejects registrations so a subscription racing with
// teardown can be cancelled by its caller instead of leaking in the broker.
type connRooms struct {
	mu     sync.Mutex
	closed bool
	m      map[string]roomHandles
}

func newConnRooms() *connRooms {
	return &connRooms{m: make(map[string]roomHandles)}
}

// status reports whether the connection already subscribes to roomID,
// whether it is at the open-room cap, and whether it has been torn down.
func (c *connRooms) status(roomID string) (already, full, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, already = c.m[roomID]
	return already, len(c.m) >= wsMaxOpenRooms, c.closed
}

// put registers handles for roomID. A false return means the connection is
// closed, at capacity, or already holds the room; the caller must cancel the
// handles itself.
func (c *connRooms) put(roomID string, h roomHandles) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, ok := c.m[roomID]; ok {
		return false
	}
	if len(c.m) >= wsMaxOpenRooms {
		return false
	}
	c.m[roomID] = h
	return true
}

// closeAll marks the connection closed and hands back every registered
// handle exactly once.
func (c *connRooms) closeAll() []roomHandles {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	out := make([]roomHandles, 0, len(c.m))
	for id, h := range c.m {
		out = append(out, h)
		delete(c.m, id)
	}
	return out
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the chat loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},

		// Authorize allowed origin hosts (e.g. localhost) for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)
	metricWSConnections.Inc()

	sessionID := NewSessionID(time.Now())
	client := NewClient(sessionID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once
		hello     bool
	)

	// The read loop opens rooms while shutdown may run from the writer or
	// heartbeat goroutine; connRooms arbitrates that race.
	rooms := newConnRooms()

	// shutdown is idempotent. It cancels every room subscription BEFORE
	// closing the client so no listener outlives the connection.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			for _, h := range rooms.closeAll() {
				h.cancelMsgs()
				h.cancelTyping()
			}

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewEventLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		if env.Type == v1.TypeHello {
			if err := g.onHello(ctx, client, env); err != nil {
				g.trySendError(ctx, client, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}
			hello = true
			continue readLoop
		}

		if !hello {
			g.trySendError(ctx, client, "not_authenticated", "hello first")
			continue readLoop
		}

		switch env.Type {
		case v1.TypeRoomDirect:
			var p v1.RoomDirectPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				g.trySendError(ctx, client, "bad_payload", "invalid payload")
				continue readLoop
			}
			room, err := g.svc.CreateOrFindDirectRoom(ctx, client.Identity, p.OtherID)
			if err != nil {
				g.sendServiceError(ctx, client, err)
				continue readLoop
			}
			g.openRoom(ctx, client, room, rooms)

		case v1.TypeRoomCreate:
			var p v1.RoomCreatePayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				g.trySendError(ctx, client, "bad_payload", "invalid payload")
				continue readLoop
			}
			room, err := g.svc.CreateGroupRoom(ctx, client.Identity, p.ParticipantIDs, p.Name)
			if err != nil {
				g.sendServiceError(ctx, client, err)
				continue readLoop
			}
			g.openRoom(ctx, client, room, rooms)

		case v1.TypeRoomJoin:
			var p v1.RoomJoinPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				g.trySendError(ctx, client, "bad_payload", "invalid payload")
				continue readLoop
			}
			room, err := g.svc.GetRoomFor(ctx, client.Identity, p.RoomID)
			if err != nil {
				g.sendServiceError(ctx, client, err)
				continue readLoop
			}
			g.openRoom(ctx, client, room, rooms)

		case v1.TypeRoomsList:
			list, err := g.svc.ListRooms(ctx, client.Identity.UserID)
			if err != nil {
				g.sendServiceError(ctx, client, err)
				continue readLoop
			}
			payload, _ := json.Marshal(v1.RoomsStatePayload{Rooms: toWireRooms(list)})
			g.enqueue(ctx, client, newEnvelope(v1.TypeRoomsState, payload, time.Now().UTC()))

		case v1.TypeContactsList:
			contacts := g.svc.Contacts(client.Identity.UserID)
			payload, _ := json.Marshal(v1.ContactsStatePayload{Contacts: toWireContacts(contacts)})
			g.enqueue(ctx, client, newEnvelope(v1.TypeContactsState, payload, time.Now().UTC()))

		case v1.TypeMessageSend:
			if err := g.onMessageSend(ctx, client, env); err != nil {
				g.sendServiceError(ctx, client, err)
				continue readLoop
			}

		case v1.TypeHistoryFetch:
			if err := g.onHistoryFetch(ctx, client, env); err != nil {
				g.sendServiceError(ctx, client, err)
				continue readLoop
			}

		case v1.TypeTypingSet:
			var p v1.TypingSetPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				continue readLoop // typing is best-effort, drop silently
			}
			g.svc.SetTyping(ctx, client.Identity, p.RoomID, p.IsTyping)

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *WSGateway) onHello(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("missing user_id")
	}

	client.Identity = Identity{
		UserID: strings.TrimSpace(p.UserID),
		Name:   strings.TrimSpace(p.Name),
		Role:   strings.TrimSpace(p.Role),
	}
	g.svc.RegisterProfile(Profile{
		ID:       client.Identity.UserID,
		Name:     client.Identity.Name,
		Role:     client.Identity.Role,
		SchoolID: p.SchoolID,
		ClassIDs: p.ClassIDs,
	})

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{SessionID: client.SessionID})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeHelloAck, ackPayload, time.Now().UTC())) {
		return errors.New("backpressure: hello.ack")
	}

	g.log.Info("ws.session.hello", "session_id", client.SessionID, "user_id", client.Identity.UserID)
	return nil
}

// openRoom replies room.opened and registers message + typing subscriptions
// for the room, once per connection. The capacity check runs before the
// reply, so a connection at the cap gets only the error. When teardown wins
// the race with registration the fresh handles are cancelled on the spot
// instead of leaking into the broker registry.
func (g *WSGateway) openRoom(ctx context.Context, client *Client, room Room, rooms *connRooms) {
	already, full, closed := rooms.status(room.ID)
	if closed {
		return
	}
	if !already && full {
		g.trySendError(ctx, client, "too_many_rooms", "too many open rooms")
		return
	}

	payload, _ := json.Marshal(v1.RoomOpenedPayload{Room: toWireRoom(room)})
	g.enqueue(ctx, client, newEnvelope(v1.TypeRoomOpened, payload, time.Now().UTC()))
	if already {
		return
	}

	roomID := room.ID
	selfID := client.Identity.UserID
	broker := g.svc.Broker()

	cancelMsgs := broker.SubscribeMessages(ctx, roomID, func(msgs []Message) {
		p, _ := json.Marshal(v1.RoomSnapshotPayload{
			RoomID:   roomID,
			Messages: toWireMessages(msgs),
		})
		g.enqueue(ctx, client, newEnvelope(v1.TypeRoomSnapshot, p, time.Now().UTC()))
	})
	cancelTyping := broker.SubscribeTyping(ctx, roomID, selfID, func(marks []TypingMark) {
		p, _ := json.Marshal(v1.TypingStatePayload{
			RoomID: roomID,
			Users:  toWireTyping(marks),
		})
		g.enqueue(ctx, client, newEnvelope(v1.TypeTypingState, p, time.Now().UTC()))
	})

	if !rooms.put(roomID, roomHandles{cancelMsgs: cancelMsgs, cancelTyping: cancelTyping}) {
		cancelMsgs()
		cancelTyping()
		return
	}

	g.log.Info("ws.room.open", "session_id", client.SessionID, "room_id", roomID)
}

func (g *WSGateway) onMessageSend(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return invalid("payload", "invalid JSON payload")
	}

	msg, err := g.svc.SendMessage(ctx, client.Identity, SendMessageInput{
		RoomID:      p.RoomID,
		ClientMsgID: p.ClientMsgID,
		Kind:        p.Kind,
		Text:        p.Text,
		Attachment:  fromWireAttachment(p.Attachment),
	})
	if err != nil {
		return err
	}

	ackPayload, _ := json.Marshal(v1.MessageAckPayload{
		RoomID:      msg.RoomID,
		ClientMsgID: msg.ClientMsgID,
		Message:     toWireMessage(msg),
	})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeMessageAck, ackPayload, time.Now().UTC())) {
		return errors.New("backpressure: ack")
	}
	return nil
}

func (g *WSGateway) onHistoryFetch(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.HistoryFetchPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return invalid("payload", "invalid JSON payload")
	}

	out, err := g.svc.ListMessages(ctx, client.Identity, p.RoomID, p.AfterID, p.Limit)
	if err != nil {
		return err
	}

	chunkPayload, _ := json.Marshal(v1.HistoryChunkPayload{
		RoomID:   p.RoomID,
		Messages: toWireMessages(out.Messages),
		HasMore:  out.HasMore,
	})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeHistoryChunk, chunkPayload, time.Now().UTC())) {
		return errors.New("backpressure: history chunk")
	}
	return nil
}

// ---- send helpers ----

// sendServiceError maps the core error taxonomy onto wire error codes.
func (g *WSGateway) sendServiceError(ctx context.Context, client *Client, err error) {
	g.trySendError(ctx, client, errorCode(err), err.Error())
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotParticipant):
		return "unauthorized"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case IsValidation(err):
		return "invalid"
	default:
		return "internal"
	}
}

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		// Drop rather than block the fan-out path.
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
