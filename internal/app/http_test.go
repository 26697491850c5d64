package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Edmundtutu/edumanage-chat/internal/chat"
)

func newTestMux(t *testing.T, cfg Config) (*http.ServeMux, *chat.Service) {
	t.Helper()

	log := discardLogger()
	store := chat.NewMemoryStore()
	typing := chat.NewMemoryTypingStore()
	broker := chat.NewBroker(log, store, typing)
	svc := chat.NewService(log, store, typing, broker, nil)
	ws := chat.NewWSGateway(log, svc)

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, nil, false, svc, ws)
	return mux, svc
}

func TestHTTP_Healthz(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t, Config{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}

func TestHTTP_Readyz_RequiresDB(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t, Config{ReadinessRequireDB: true})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with required db: expected 503, got %d", rec.Code)
	}

	mux, _ = newTestMux(t, Config{})
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz without db requirement: expected 200, got %d", rec.Code)
	}
}

func TestHTTP_Rooms(t *testing.T) {
	t.Parallel()

	mux, svc := newTestMux(t, Config{})
	ctx := context.Background()

	// Missing user_id is rejected.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing user_id: expected 400, got %d", rec.Code)
	}

	room, err := svc.CreateOrFindDirectRoom(ctx, chat.Identity{UserID: "alice", Name: "Alice"}, "bob")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms?user_id=alice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list rooms: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Rooms []struct {
			ID string `json:"id"`
		} `json:"rooms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Rooms) != 1 || body.Rooms[0].ID != room.ID {
		t.Fatalf("unexpected rooms: %+v", body.Rooms)
	}
}

func TestHTTP_RoomMessages_MembershipEnforced(t *testing.T) {
	t.Parallel()

	mux, svc := newTestMux(t, Config{})
	ctx := context.Background()

	room, err := svc.CreateOrFindDirectRoom(ctx, chat.Identity{UserID: "alice", Name: "Alice"}, "bob")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := svc.SendMessage(ctx, chat.Identity{UserID: "alice", Name: "Alice"}, chat.SendMessageInput{
		RoomID: room.ID, ClientMsgID: "c-1", Kind: chat.KindText, Text: "hello",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/"+room.ID+"/messages?user_id=mallory", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider: expected 403, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/"+room.ID+"/messages?user_id=alice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("member: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Messages []struct {
			Text string `json:"text"`
		} `json:"messages"`
		HasMore bool `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 1 || body.Messages[0].Text != "hello" || body.HasMore {
		t.Fatalf("unexpected payload: %+v", body)
	}

	// Unknown room surfaces as 404.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/missing/messages?user_id=alice", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown room: expected 404, got %d", rec.Code)
	}
}

func TestHTTP_Contacts(t *testing.T) {
	t.Parallel()

	mux, svc := newTestMux(t, Config{})

	svc.RegisterProfile(chat.Profile{ID: "t1", Name: "Dora", Role: chat.RoleTeacher, SchoolID: "s1"})
	svc.RegisterProfile(chat.Profile{ID: "t2", Name: "Eli", Role: chat.RoleTeacher, SchoolID: "s1"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/contacts?user_id=t1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("contacts: expected 200, got %d", rec.Code)
	}

	var body struct {
		Contacts []struct {
			ID string `json:"id"`
		} `json:"contacts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Contacts) != 1 || body.Contacts[0].ID != "t2" {
		t.Fatalf("unexpected contacts: %+v", body.Contacts)
	}
}
