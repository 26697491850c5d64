package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Identity is the caller identity supplied by the external identity provider.
// The chat core trusts it verbatim.
type Identity struct {
	UserID string
	Name   string
	Role   string
}

// SendMessageInput is a message send request as it arrives at the gateway.
type SendMessageInput struct {
	RoomID      string
	ClientMsgID string
	Kind        string
	Text        string
	Attachment  *Attachment
}

// Service is the chat gateway core: thin orchestration over the room
// directory, message log, typing store and fan-out broker. It adds no
// business rules beyond room-membership authorization.
type Service struct {
	log      *slog.Logger
	store    Store
	typing   TypingStore
	broker   *Broker
	contacts *ContactDirectory
}

// NewService wires the gateway service.
func NewService(log *slog.Logger, store Store, typing TypingStore, broker *Broker, contacts *ContactDirectory) *Service {
	if contacts == nil {
		contacts = NewContactDirectory()
	}
	return &Service{
		log:      log,
		store:    store,
		typing:   typing,
		broker:   broker,
		contacts: contacts,
	}
}

// Broker exposes the fan-out engine for subscription management.
func (s *Service) Broker() *Broker { return s.broker }

// RegisterProfile records an identity-provider profile for contact queries.
func (s *Service) RegisterProfile(p Profile) {
	s.contacts.Upsert(p)
}

// Contacts returns who userID may start a chat with.
func (s *Service) Contacts(userID string) []Profile {
	return s.contacts.AvailableTo(userID)
}

// CreateOrFindDirectRoom returns the direct room for (self, other), creating
// it when absent. Sequential and concurrent calls for the same pair converge
// on one room id.
func (s *Service) CreateOrFindDirectRoom(ctx context.Context, self Identity, otherID string) (Room, error) {
	otherID = strings.TrimSpace(otherID)
	if otherID == "" {
		return Room{}, invalid("other_id", "missing")
	}
	if otherID == self.UserID {
		return Room{}, invalid("other_id", "cannot open a direct room with yourself")
	}

	name := ""
	if other, ok := s.contacts.Get(otherID); ok && self.Name != "" && other.Name != "" {
		name = self.Name + " & " + other.Name
	}

	room, existed, err := s.store.CreateRoom(ctx, CreateRoomInput{
		Kind:         RoomDirect,
		Participants: []string{self.UserID, otherID},
		Name:         name,
	})
	if err != nil {
		return Room{}, fmt.Errorf("create direct room: %w", err)
	}

	if !existed {
		s.log.Info("room.create", "room_id", room.ID, "kind", RoomDirect, "user_id", self.UserID)
	}
	return room, nil
}

// CreateGroupRoom creates a group room. The caller is always a participant.
func (s *Service) CreateGroupRoom(ctx context.Context, self Identity, participantIDs []string, name string) (Room, error) {
	participants := normalizeParticipants(append([]string{self.UserID}, participantIDs...))
	if len(participants) > maxGroupParticipants {
		return Room{}, invalid("participants", "too many participants")
	}

	room, _, err := s.store.CreateRoom(ctx, CreateRoomInput{
		Kind:         RoomGroup,
		Participants: participants,
		Name:         strings.TrimSpace(name),
	})
	if err != nil {
		return Room{}, fmt.Errorf("create group room: %w", err)
	}

	s.log.Info("room.create", "room_id", room.ID, "kind", RoomGroup, "user_id", self.UserID, "participants", len(participants))
	return room, nil
}

// GetRoomFor returns room metadata after checking that self is a participant.
func (s *Service) GetRoomFor(ctx context.Context, self Identity, roomID string) (Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return Room{}, err
	}
	if !room.HasParticipant(self.UserID) {
		return Room{}, ErrNotParticipant
	}
	return room, nil
}

// ListRooms returns the caller's rooms ordered by last activity desc.
func (s *Service) ListRooms(ctx context.Context, userID string) ([]Room, error) {
	return s.store.ListRoomsForUser(ctx, userID)
}

// ListMessages returns a membership-checked history window.
func (s *Service) ListMessages(ctx context.Context, self Identity, roomID, afterID string, limit int) (ListResult, error) {
	if _, err := s.GetRoomFor(ctx, self, roomID); err != nil {
		return ListResult{}, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.store.ListSince(ctx, roomID, afterID, limit)
}

// SendMessage validates, authorizes and appends a message, then fans the new
// room snapshot out to subscribers. The message is acknowledged only after
// the append committed; on error nothing was written and the caller keeps its
// client-local failed state.
func (s *Service) SendMessage(ctx context.Context, self Identity, in SendMessageInput) (Message, error) {
	if strings.TrimSpace(in.ClientMsgID) == "" {
		return Message{}, invalid("client_msg_id", "missing")
	}
	if err := validateContent(in.Kind, in.Text, in.Attachment); err != nil {
		return Message{}, err
	}
	if _, err := s.GetRoomFor(ctx, self, in.RoomID); err != nil {
		return Message{}, err
	}

	res, err := s.store.Append(ctx, AppendInput{
		RoomID:      in.RoomID,
		ClientMsgID: in.ClientMsgID,
		SenderID:    self.UserID,
		SenderName:  self.Name,
		SenderRole:  self.Role,
		Kind:        in.Kind,
		Text:        strings.TrimSpace(in.Text),
		Attachment:  in.Attachment,
	})
	if err != nil {
		return Message{}, fmt.Errorf("send message: %w", err)
	}

	if !res.Duplicated {
		metricMessagesAppended.Inc()
		s.broker.PublishMessages(ctx, in.RoomID)
	}
	return res.Message, nil
}

// SetTyping records or clears the caller's typing mark and pushes the new
// typing state. Best-effort: failures are logged and swallowed so typing can
// never block or fail message flow.
func (s *Service) SetTyping(ctx context.Context, self Identity, roomID string, isTyping bool) {
	if _, err := s.GetRoomFor(ctx, self, roomID); err != nil {
		s.log.Warn("typing.rejected", "room_id", roomID, "user_id", self.UserID, "err", err)
		return
	}

	if err := s.typing.SetTyping(ctx, roomID, self.UserID, self.Name, isTyping); err != nil {
		s.log.Warn("typing.set_fail", "room_id", roomID, "user_id", self.UserID, "err", err)
		return
	}
	s.broker.PublishTyping(ctx, roomID)
}
