package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetgrid/backend/internal/v1/metrics"
)

// wsConnection is the subset of *websocket.Conn the Client depends on,
// kept as an interface so tests can drive a fake connection.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Roomer is the subset of Room's behavior a Client depends on, decoupling
// connection handling from room business logic for testability.
type Roomer interface {
	dispatch(ctx context.Context, client *Client, msg Message)
	handleDisconnect(client *Client)
}

// Client is one authenticated participant's live WebSocket connection.
type Client struct {
	conn     wsConnection
	send     chan []byte
	room     Roomer
	SocketID string
	UserID   string

	mu          sync.RWMutex
	DisplayName string

	writeWait time.Duration
}

func newClient(conn wsConnection, room Roomer, socketID, userID, displayName string) *Client {
	return &Client{
		conn:        conn,
		send:        make(chan []byte, 256),
		room:        room,
		SocketID:    socketID,
		UserID:      userID,
		DisplayName: displayName,
		writeWait:   10 * time.Second,
	}
}

func (c *Client) readPump() {
	defer func() {
		c.room.handleDisconnect(c)
		c.conn.Close()
		metrics.ActiveWebSocketConnections.Dec()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := decodeMessage(data)
		if err != nil {
			slog.Warn("failed to decode socket message", "userId", c.UserID, "error", err)
			continue
		}

		c.room.dispatch(context.Background(), c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// deliver enqueues a message for this client without blocking the caller;
// a full buffer drops the message rather than stalling the whole room.
func (c *Client) deliver(msg Message) {
	data, err := encodeMessage(msg)
	if err != nil {
		slog.Error("failed to encode outgoing message", "userId", c.UserID, "event", msg.Event, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping message", "userId", c.UserID, "event", msg.Event)
	}
}
