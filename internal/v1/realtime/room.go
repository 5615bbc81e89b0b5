package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/meetgrid/backend/internal/v1/metrics"
	"github.com/meetgrid/backend/internal/v1/models"
)

// member is one socket's membership record within a Room, matching the
// spec's transient {userId, joinedAt} tuple keyed by socket ID.
type member struct {
	client   *Client
	joinedAt time.Time
}

// Room is the transient, in-memory fan-out unit for one meeting's socket
// traffic. It is never persisted: membership lives only as long as sockets
// are open, and the durable meeting/participant state lives in Repository.
// A Room also owns one cross-pod subscription for its meetingID, so the
// same event reaches sockets connected to other server processes.
type Room struct {
	meetingID string

	mu      sync.RWMutex
	members map[string]*member // keyed by socket ID

	deps         Deps
	onEmpty      func(meetingID string)
	closedAt     *time.Time
	remoteCancel context.CancelFunc
}

// Deps is the Room's boundary into the rest of the system: chat
// persistence, meeting-state queries for permission checks, online
// presence, and cross-pod fan-out. Keeping this as one small interface
// lets Room be driven by fakes in tests.
type Deps interface {
	PushChat(ctx context.Context, meetingID string, msg models.ChatMessage) error
	FindMeeting(ctx context.Context, meetingID string) (*models.Meeting, error)
	IsHost(meeting *models.Meeting, userID string) bool
	CanMuteOthers(meeting *models.Meeting, userID string) bool
	CanRemoveOthers(meeting *models.Meeting, userID string) bool
	AddOnlineUser(ctx context.Context, meetingID, userID string)
	RemoveOnlineUser(ctx context.Context, meetingID, userID string)
	// PublishRoomEvent fans a locally-originated event out to Rooms for the
	// same meeting running on other pods. senderID identifies the user whose
	// action produced the event, so a receiving pod can skip re-delivering
	// it to a socket that already saw it locally.
	PublishRoomEvent(ctx context.Context, meetingID string, event Event, payload any, senderID string)
	// SubscribeRoomEvents starts relaying other pods' events for meetingID to
	// handler until ctx is cancelled.
	SubscribeRoomEvents(ctx context.Context, meetingID string, handler func(event Event, senderID string, payload json.RawMessage))
}

func newRoom(meetingID string, deps Deps, onEmpty func(string)) *Room {
	remoteCtx, cancel := context.WithCancel(context.Background())
	r := &Room{
		meetingID:    meetingID,
		members:      make(map[string]*member),
		deps:         deps,
		onEmpty:      onEmpty,
		remoteCancel: cancel,
	}
	deps.SubscribeRoomEvents(remoteCtx, meetingID, r.receiveRemote)
	return r
}

// close tears down the room's cross-pod subscription. Called once the Hub
// finishes reaping an empty room's local state.
func (r *Room) close() {
	if r.remoteCancel != nil {
		r.remoteCancel()
	}
}

// receiveRemote relays an event published by another pod's copy of this room
// to every locally-connected socket, unless senderID names a user already
// connected here — that user's local broadcast already delivered it, so
// relaying it back would double-deliver.
func (r *Room) receiveRemote(event Event, senderID string, payload json.RawMessage) {
	r.mu.RLock()
	local := make([]*Client, 0, len(r.members))
	originLocal := false
	for _, m := range r.members {
		if m.client.UserID == senderID {
			originLocal = true
			break
		}
		local = append(local, m.client)
	}
	r.mu.RUnlock()

	if originLocal {
		return
	}
	msg := Message{Event: event, Payload: payload}
	for _, c := range local {
		c.deliver(msg)
	}
}

func (r *Room) isEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members) == 0
}

// join admits client to the room, broadcasts user-joined to the existing
// members, and replies to the joiner alone with existing-participants so
// it — and only it — initiates offers, eliminating signaling glare.
func (r *Room) join(ctx context.Context, client *Client) {
	r.mu.Lock()

	existing := make([]ExistingParticipant, 0, len(r.members))
	for _, m := range r.members {
		existing = append(existing, ExistingParticipant{UserID: m.client.UserID, DisplayName: m.client.DisplayName})
	}
	r.members[client.SocketID] = &member{client: client, joinedAt: time.Now()}
	metrics.RoomParticipants.WithLabelValues(r.meetingID).Set(float64(len(r.members)))

	r.mu.Unlock()

	r.deps.AddOnlineUser(ctx, r.meetingID, client.UserID)

	client.deliver(Message{Event: EventExistingParticipants, Payload: ExistingParticipantsPayload{Participants: existing}})
	r.broadcastExcept(client.SocketID, client.UserID, Message{
		Event:   EventUserJoined,
		Payload: UserJoinedPayload{UserID: client.UserID, DisplayName: client.DisplayName},
	})
}

// leave removes client from the room, broadcasts user-left, and triggers
// onEmpty once the last socket has gone.
func (r *Room) leave(ctx context.Context, client *Client) {
	r.mu.Lock()
	_, ok := r.members[client.SocketID]
	if ok {
		delete(r.members, client.SocketID)
		metrics.RoomParticipants.WithLabelValues(r.meetingID).Set(float64(len(r.members)))
	}
	empty := len(r.members) == 0
	r.mu.Unlock()

	if !ok {
		return
	}

	r.deps.RemoveOnlineUser(ctx, r.meetingID, client.UserID)
	r.broadcastExcept(client.SocketID, client.UserID, Message{Event: EventUserLeft, Payload: UserLeftPayload{UserID: client.UserID}})

	if empty {
		metrics.RoomParticipants.DeleteLabelValues(r.meetingID)
		if r.onEmpty != nil {
			r.onEmpty(r.meetingID)
		}
	}
}

// handleDisconnect implements Roomer for Client's readPump cleanup path.
func (r *Room) handleDisconnect(client *Client) {
	r.leave(context.Background(), client)
}

// broadcastExcept delivers msg to every locally-connected member except
// excludeSocketID, then publishes it to any other pods holding this
// meeting's room so their members get it too. senderID is the user whose
// action produced msg, carried along so a remote pod can dedupe.
func (r *Room) broadcastExcept(excludeSocketID, senderID string, msg Message) {
	r.mu.RLock()
	for id, m := range r.members {
		if id == excludeSocketID {
			continue
		}
		m.client.deliver(msg)
	}
	r.mu.RUnlock()
	r.deps.PublishRoomEvent(context.Background(), r.meetingID, msg.Event, msg.Payload, senderID)
}

func (r *Room) broadcastAll(senderID string, msg Message) {
	r.broadcastExcept("", senderID, msg)
}

// broadcastChat fans an already-persisted chat message (e.g. one submitted
// over the REST chat endpoint rather than a socket) out to every connected
// member, mirroring handleChatMessage's full-room echo.
func (r *Room) broadcastChat(msg models.ChatMessage) {
	r.broadcastAll(msg.Sender.ID, Message{Event: EventChatMessage, Payload: ChatMessagePayload{
		ID: msg.ID, SenderID: msg.Sender.ID, Text: msg.Message, Timestamp: msg.Timestamp,
	}})
}

// findBySocket returns the member record for a socket ID, or nil.
func (r *Room) findBySocket(socketID string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.members[socketID]; ok {
		return m.client
	}
	return nil
}

// findByUser returns the first client connected under userID, or nil.
// A user normally holds one socket; if several are open (e.g. a tab
// duplicate) the first one found receives targeted unicasts.
func (r *Room) findByUser(userID string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.members {
		if m.client.UserID == userID {
			return m.client
		}
	}
	return nil
}

// removeUser force-disconnects every socket held by userID, used by the
// remove-participant host control.
func (r *Room) removeUser(ctx context.Context, userID string) {
	r.mu.RLock()
	var targets []*Client
	for _, m := range r.members {
		if m.client.UserID == userID {
			targets = append(targets, m.client)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.deliver(Message{Event: EventRemovedFromMeeting})
		slog.Info("removing participant from meeting", "meetingId", r.meetingID, "userId", userID)
		c.conn.Close()
	}
}
