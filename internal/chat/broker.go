package chat

import (
	"context"
	"log/slog"
	"sync"
)

// CancelFunc tears down a subscription. Idempotent; safe to call at any time,
// including concurrently with an in-flight notification, and after the room
// is gone. Once it returns, the callback receives no further invocations.
type CancelFunc func()

// Broker is the subscription/fan-out engine.
//
// Every change to a room's message log or typing set is delivered to
// subscribers as a full recomputed snapshot, never a diff: clients always
// render from the latest snapshot without reconciling partial updates.
//
// Concurrency guarantees:
//   - Snapshot compute + delivery is serialized per room, so each subscriber
//     observes snapshots in a monotone order.
//   - Rooms are independent; fan-out in one room never blocks another.
//   - Callbacks run on the publishing goroutine and must not block; websocket
//     subscribers enqueue into a bounded send queue and drop on backpressure.
type Broker struct {
	log      *slog.Logger
	messages MessageStore
	typing   TypingStore

	mu     sync.RWMutex
	rooms  map[string]*roomSubs
	nextID uint64
}

type roomSubs struct {
	// Per-room notify locks: serialize compute+deliver so snapshots are
	// monotone per subscriber.
	notifyMsgs   sync.Mutex
	notifyTyping sync.Mutex

	mu         sync.Mutex
	msgSubs    map[uint64]*msgSub
	typingSubs map[uint64]*typingSub
}

type msgSub struct {
	mu        sync.Mutex
	cancelled bool
	fn        func([]Message)
}

type typingSub struct {
	mu        sync.Mutex
	cancelled bool
	selfID    string
	fn        func([]TypingMark)
}

// NewBroker constructs a Broker over the given stores.
func NewBroker(log *slog.Logger, messages MessageStore, typing TypingStore) *Broker {
	return &Broker{
		log:      log,
		messages: messages,
		typing:   typing,
		rooms:    make(map[string]*roomSubs),
	}
}

// addMsgSub inserts sub into the room's registry. The insert happens inside
// the b.mu critical section so it cannot interleave with maybeDropRoom
// deleting the registry entry: a sub added to a detached roomSubs would never
// see another publish.
func (b *Broker) addMsgSub(roomID string, sub *msgSub) (*roomSubs, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs, ok := b.rooms[roomID]
	if !ok {
		rs = newRoomSubs()
		b.rooms[roomID] = rs
	}
	b.nextID++
	id := b.nextID

	rs.mu.Lock()
	rs.msgSubs[id] = sub
	rs.mu.Unlock()
	return rs, id
}

// addTypingSub is the typing counterpart of addMsgSub.
func (b *Broker) addTypingSub(roomID string, sub *typingSub) (*roomSubs, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs, ok := b.rooms[roomID]
	if !ok {
		rs = newRoomSubs()
		b.rooms[roomID] = rs
	}
	b.nextID++
	id := b.nextID

	rs.mu.Lock()
	rs.typingSubs[id] = sub
	rs.mu.Unlock()
	return rs, id
}

func newRoomSubs() *roomSubs {
	return &roomSubs{
		msgSubs:    make(map[uint64]*msgSub),
		typingSubs: make(map[uint64]*typingSub),
	}
}

// maybeDropRoom releases the registry entry once a room has no subscribers.
func (b *Broker) maybeDropRoom(roomID string, rs *roomSubs) {
	rs.mu.Lock()
	empty := len(rs.msgSubs) == 0 && len(rs.typingSubs) == 0
	rs.mu.Unlock()
	if !empty {
		return
	}

	b.mu.Lock()
	if cur, ok := b.rooms[roomID]; ok && cur == rs {
		cur.mu.Lock()
		if len(cur.msgSubs) == 0 && len(cur.typingSubs) == 0 {
			delete(b.rooms, roomID)
		}
		cur.mu.Unlock()
	}
	b.mu.Unlock()
}

// SubscribeMessages registers onUpdate for the room's message snapshots and
// delivers the current snapshot immediately. The snapshot slice is shared
// between subscribers and must not be mutated.
func (b *Broker) SubscribeMessages(ctx context.Context, roomID string, onUpdate func([]Message)) CancelFunc {
	sub := &msgSub{fn: onUpdate}
	rs, id := b.addMsgSub(roomID, sub)

	metricSubscriptions.Inc()

	// Initial snapshot: listener semantics fire immediately with the current
	// value, serialized with concurrent publishes.
	rs.notifyMsgs.Lock()
	if snap, err := b.messages.ListSince(ctx, roomID, "", 0); err == nil {
		sub.deliver(snap.Messages)
	} else {
		b.log.Warn("broker.subscribe.snapshot_fail", "room_id", roomID, "err", err)
	}
	rs.notifyMsgs.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.mu.Lock()
			sub.cancelled = true
			sub.mu.Unlock()

			rs.mu.Lock()
			delete(rs.msgSubs, id)
			rs.mu.Unlock()

			metricSubscriptions.Dec()
			b.maybeDropRoom(roomID, rs)
		})
	}
}

// SubscribeTyping registers onUpdate for the room's typing snapshots,
// excluding selfUserID, and delivers the current state immediately.
func (b *Broker) SubscribeTyping(ctx context.Context, roomID, selfUserID string, onUpdate func([]TypingMark)) CancelFunc {
	sub := &typingSub{selfID: selfUserID, fn: onUpdate}
	rs, id := b.addTypingSub(roomID, sub)

	metricSubscriptions.Inc()

	rs.notifyTyping.Lock()
	if marks, err := b.typing.ListTyping(ctx, roomID, selfUserID); err == nil {
		sub.deliver(marks)
	}
	rs.notifyTyping.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.mu.Lock()
			sub.cancelled = true
			sub.mu.Unlock()

			rs.mu.Lock()
			delete(rs.typingSubs, id)
			rs.mu.Unlock()

			metricSubscriptions.Dec()
			b.maybeDropRoom(roomID, rs)
		})
	}
}

// PublishMessages recomputes the room's full ordered message list and fans it
// out to every live message subscriber.
func (b *Broker) PublishMessages(ctx context.Context, roomID string) {
	b.mu.RLock()
	rs := b.rooms[roomID]
	b.mu.RUnlock()
	if rs == nil {
		return
	}

	rs.notifyMsgs.Lock()
	defer rs.notifyMsgs.Unlock()

	snap, err := b.messages.ListSince(ctx, roomID, "", 0)
	if err != nil {
		b.log.Error("broker.publish.snapshot_fail", "room_id", roomID, "err", err)
		return
	}

	rs.mu.Lock()
	subs := make([]*msgSub, 0, len(rs.msgSubs))
	for _, s := range rs.msgSubs {
		subs = append(subs, s)
	}
	rs.mu.Unlock()

	for _, s := range subs {
		s.deliver(snap.Messages)
	}
	metricFanouts.Add(float64(len(subs)))
}

// PublishTyping recomputes the room's typing state and fans it out, filtered
// per subscriber to exclude that subscriber's own mark.
func (b *Broker) PublishTyping(ctx context.Context, roomID string) {
	b.mu.RLock()
	rs := b.rooms[roomID]
	b.mu.RUnlock()
	if rs == nil {
		return
	}

	rs.notifyTyping.Lock()
	defer rs.notifyTyping.Unlock()

	// One unfiltered read; per-subscriber exclusion happens below.
	marks, err := b.typing.ListTyping(ctx, roomID, "")
	if err != nil {
		// Typing is best-effort: degrade silently.
		b.log.Warn("broker.publish.typing_fail", "room_id", roomID, "err", err)
		return
	}

	rs.mu.Lock()
	subs := make([]*typingSub, 0, len(rs.typingSubs))
	for _, s := range rs.typingSubs {
		subs = append(subs, s)
	}
	rs.mu.Unlock()

	for _, s := range subs {
		s.deliver(filterTyping(marks, s.selfID))
	}
	metricFanouts.Add(float64(len(subs)))
}

func (s *msgSub) deliver(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.fn(msgs)
}

func (s *typingSub) deliver(marks []TypingMark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.fn(marks)
}

func filterTyping(marks []TypingMark, excludeUserID string) []TypingMark {
	if excludeUserID == "" {
		return marks
	}
	out := make([]TypingMark, 0, len(marks))
	for _, m := range marks {
		if m.UserID != excludeUserID {
			out = append(out, m)
		}
	}
	return out
}
