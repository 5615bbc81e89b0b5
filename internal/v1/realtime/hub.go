// Package realtime's Hub mirrors the teacher's session.Hub: it authenticates
// inbound WebSocket upgrades and owns the registry of live Rooms, creating
// one lazily on a client's first join-meeting message and tearing it down
// once the last socket leaves.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meetgrid/backend/internal/v1/metrics"
	"github.com/meetgrid/backend/internal/v1/models"
)

// TokenValidator authenticates the JWT presented on connect.
type TokenValidator interface {
	ValidateToken(tokenString string) (Claims, error)
}

// Claims is the minimal identity the Hub needs out of a validated token.
type Claims struct {
	UserID      string
	DisplayName string
}

// Hub upgrades authenticated connections and routes them to the right Room.
type Hub struct {
	validator TokenValidator
	deps      Deps
	upgrader  websocket.Upgrader

	mu              sync.Mutex
	rooms           map[string]*Room
	pendingCleanups map[string]*time.Timer
	cleanupGrace    time.Duration
}

// NewHub constructs a Hub. allowedOrigins restricts the WebSocket upgrade's
// Origin check; an empty list allows all origins (useful for non-browser
// clients and tests).
func NewHub(validator TokenValidator, deps Deps, allowedOrigins []string) *Hub {
	return &Hub{
		validator:       validator,
		deps:            deps,
		rooms:           make(map[string]*Room),
		pendingCleanups: make(map[string]*time.Timer),
		cleanupGrace:    5 * time.Second,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(allowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == origin {
				return true
			}
		}
		return false
	}
}

// ServeWs authenticates the caller via the `token` query parameter, upgrades
// the connection, and starts the client's read/write pumps. The client is
// not attached to any Room until it sends join-meeting.
func (h *Hub) ServeWs(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "token not provided"})
		return
	}

	claims, err := h.validator.ValidateToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade websocket connection", "error", err)
		return
	}

	gate := &joinGate{hub: h}
	client := newClient(conn, gate, uuid.NewString(), claims.UserID, claims.DisplayName)
	gate.client = client

	metrics.ActiveWebSocketConnections.Inc()

	go client.writePump()
	go client.readPump()
}

// joinGate is the Roomer a Client starts with before it has joined any
// meeting: it only understands join-meeting, and otherwise rejects.
type joinGate struct {
	hub    *Hub
	client *Client
}

func (g *joinGate) dispatch(ctx context.Context, client *Client, msg Message) {
	if msg.Event != EventJoinMeeting {
		client.deliver(Message{Event: EventError, Payload: ErrorPayload{Message: "must send join-meeting first"}})
		return
	}

	var payload JoinMeetingPayload
	if err := decodePayload(msg.Payload, &payload); err != nil {
		client.deliver(Message{Event: EventError, Payload: ErrorPayload{Message: "malformed join-meeting payload"}})
		return
	}

	meeting, err := g.hub.deps.FindMeeting(ctx, payload.MeetingID)
	if err != nil {
		client.deliver(Message{Event: EventError, Payload: ErrorPayload{Message: "meeting not found"}})
		return
	}
	if meeting.Status == models.MeetingEnded || meeting.Status == models.MeetingCancelled {
		client.deliver(Message{Event: EventError, Payload: ErrorPayload{Message: "meeting has ended"}})
		return
	}

	room := g.hub.getOrCreateRoom(payload.MeetingID)
	client.room = room
	room.join(ctx, client)
}

func (g *joinGate) handleDisconnect(client *Client) {
	metrics.ActiveWebSocketConnections.Dec()
}

func (h *Hub) getOrCreateRoom(meetingID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[meetingID]; ok {
		if timer, pending := h.pendingCleanups[meetingID]; pending {
			timer.Stop()
			delete(h.pendingCleanups, meetingID)
		}
		return room
	}

	room := newRoom(meetingID, h.deps, h.scheduleRemoval)
	h.rooms[meetingID] = room
	metrics.ActiveRooms.Inc()
	return room
}

// BroadcastChatMessage fans an already-persisted chat message out to a
// meeting's live room, if one currently exists. Used by the HTTP chat
// endpoint so a message sent over REST still reaches connected sockets;
// a no-op when nobody in the meeting currently has a socket open.
func (h *Hub) BroadcastChatMessage(meetingID string, msg models.ChatMessage) {
	h.mu.Lock()
	room, ok := h.rooms[meetingID]
	h.mu.Unlock()
	if !ok {
		return
	}
	room.broadcastChat(msg)
}

// scheduleRemoval deletes an empty room after a grace period, giving a
// client whose connection blipped a window to rejoin without losing state.
func (h *Hub) scheduleRemoval(meetingID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.pendingCleanups[meetingID]; ok {
		existing.Stop()
	}

	h.pendingCleanups[meetingID] = time.AfterFunc(h.cleanupGrace, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if room, ok := h.rooms[meetingID]; ok && room.isEmpty() {
			delete(h.rooms, meetingID)
			room.close()
			metrics.ActiveRooms.Dec()
		}
		delete(h.pendingCleanups, meetingID)
	})
}
