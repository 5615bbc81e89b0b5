package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetgrid/backend/internal/v1/models"
)

// fakeDeps is an in-memory stand-in for the realtime.Deps boundary.
type fakeDeps struct {
	mu       sync.Mutex
	meeting  *models.Meeting
	chat     []models.ChatMessage
	online   map[string]bool
	pushErr  error
}

func newFakeDeps(hostID string) *fakeDeps {
	return &fakeDeps{
		meeting: &models.Meeting{MeetingID: "ABC-DEF-GHI", HostUserID: hostID, Status: models.MeetingOngoing},
		online:  make(map[string]bool),
	}
}

func (f *fakeDeps) PushChat(ctx context.Context, meetingID string, msg models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.chat = append(f.chat, msg)
	return nil
}

func (f *fakeDeps) FindMeeting(ctx context.Context, meetingID string) (*models.Meeting, error) {
	return f.meeting, nil
}

func (f *fakeDeps) IsHost(m *models.Meeting, userID string) bool {
	return m.HostUserID == userID
}

func (f *fakeDeps) CanMuteOthers(m *models.Meeting, userID string) bool {
	return m.HostUserID == userID
}

func (f *fakeDeps) CanRemoveOthers(m *models.Meeting, userID string) bool {
	return m.HostUserID == userID
}

func (f *fakeDeps) AddOnlineUser(ctx context.Context, meetingID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = true
}

func (f *fakeDeps) RemoveOnlineUser(ctx context.Context, meetingID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online, userID)
}

// PublishRoomEvent and SubscribeRoomEvents are no-ops: these tests exercise a
// single Room in isolation, so there is no second pod to fan events out to.
func (f *fakeDeps) PublishRoomEvent(ctx context.Context, meetingID string, event Event, payload any, senderID string) {
}

func (f *fakeDeps) SubscribeRoomEvents(ctx context.Context, meetingID string, handler func(event Event, senderID string, payload json.RawMessage)) {
}

// fakeConn is a minimal wsConnection that loops messages back through
// buffered channels instead of a real socket, so Client's pumps can run
// unmodified in tests.
type fakeConn struct {
	outbound chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{outbound: make(chan []byte, 32), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, assert.AnError
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case c.outbound <- append([]byte(nil), data...):
	default:
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func newTestClient(userID, displayName string, room Roomer) (*Client, *fakeConn) {
	conn := newFakeConn()
	c := newClient(conn, room, userID+"-socket", userID, displayName)
	go c.writePump()
	return c, conn
}

func TestRoom_JoinSendsExistingParticipantsOnlyToJoiner(t *testing.T) {
	deps := newFakeDeps("host-1")
	room := newRoom("ABC-DEF-GHI", deps, func(string) {})

	host, hostConn := newTestClient("host-1", "Host", room)
	room.join(context.Background(), host)
	drain(hostConn) // existing-participants (empty) sent to host

	guest, guestConn := newTestClient("user-2", "Guest", room)
	room.join(context.Background(), guest)

	guestMsgs := drain(guestConn)
	require.Len(t, guestMsgs, 1)
	assert.Equal(t, EventExistingParticipants, guestMsgs[0].Event)

	hostMsgs := drain(hostConn)
	require.Len(t, hostMsgs, 1)
	assert.Equal(t, EventUserJoined, hostMsgs[0].Event)

	assert.True(t, deps.online["user-2"])
}

func TestRoom_LeaveBroadcastsUserLeftAndTriggersOnEmpty(t *testing.T) {
	deps := newFakeDeps("host-1")
	var emptied string
	room := newRoom("ABC-DEF-GHI", deps, func(id string) { emptied = id })

	host, hostConn := newTestClient("host-1", "Host", room)
	room.join(context.Background(), host)
	drain(hostConn)

	room.leave(context.Background(), host)
	assert.Equal(t, "ABC-DEF-GHI", emptied)
	assert.False(t, deps.online["host-1"])
}

func TestRoom_RelaySignal_TargetedUnicastStampsFrom(t *testing.T) {
	deps := newFakeDeps("host-1")
	room := newRoom("ABC-DEF-GHI", deps, func(string) {})

	host, hostConn := newTestClient("host-1", "Host", room)
	guest, guestConn := newTestClient("user-2", "Guest", room)
	room.join(context.Background(), host)
	drain(hostConn)
	room.join(context.Background(), guest)
	drain(hostConn)
	drain(guestConn)

	room.dispatch(context.Background(), guest, Message{
		Event:   EventOffer,
		Payload: mustRaw(t, SignalPayload{To: "host-1", Data: "sdp-offer"}),
	})

	msgs := drain(hostConn)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventOffer, msgs[0].Event)

	var payload SignalPayload
	require.NoError(t, decodePayload(msgs[0].Payload, &payload))
	assert.Equal(t, "user-2", payload.From)
	assert.Equal(t, "host-1", payload.To)

	assert.Empty(t, drain(guestConn), "signaling target should not echo back to the sender")
}

func TestRoom_RelaySignal_SilentlyDropsUnknownTarget(t *testing.T) {
	deps := newFakeDeps("host-1")
	room := newRoom("ABC-DEF-GHI", deps, func(string) {})

	host, hostConn := newTestClient("host-1", "Host", room)
	room.join(context.Background(), host)
	drain(hostConn)

	room.dispatch(context.Background(), host, Message{
		Event:   EventAnswer,
		Payload: mustRaw(t, SignalPayload{To: "ghost-user", Data: "sdp-answer"}),
	})
	assert.Empty(t, drain(hostConn))
}

func TestRoom_ChatMessage_PersistsThenBroadcastsToFullRoomIncludingSender(t *testing.T) {
	deps := newFakeDeps("host-1")
	room := newRoom("ABC-DEF-GHI", deps, func(string) {})

	host, hostConn := newTestClient("host-1", "Host", room)
	guest, guestConn := newTestClient("user-2", "Guest", room)
	room.join(context.Background(), host)
	drain(hostConn)
	room.join(context.Background(), guest)
	drain(hostConn)
	drain(guestConn)

	room.dispatch(context.Background(), guest, Message{
		Event:   EventChatMessage,
		Payload: mustRaw(t, ChatMessagePayload{Text: "hello room"}),
	})

	require.Len(t, deps.chat, 1)
	assert.Equal(t, "hello room", deps.chat[0].Message)

	hostMsgs := drain(hostConn)
	guestMsgs := drain(guestConn)
	require.Len(t, hostMsgs, 1)
	require.Len(t, guestMsgs, 1)
	assert.Equal(t, EventChatMessage, hostMsgs[0].Event)
	assert.Equal(t, EventChatMessage, guestMsgs[0].Event)
}

func TestRoom_MuteParticipant_RequiresHostPermission(t *testing.T) {
	deps := newFakeDeps("host-1")
	room := newRoom("ABC-DEF-GHI", deps, func(string) {})

	host, hostConn := newTestClient("host-1", "Host", room)
	guest, guestConn := newTestClient("user-2", "Guest", room)
	room.join(context.Background(), host)
	drain(hostConn)
	room.join(context.Background(), guest)
	drain(hostConn)
	drain(guestConn)

	// Non-host attempts to mute: rejected.
	room.dispatch(context.Background(), guest, Message{
		Event:   EventMuteParticipant,
		Payload: mustRaw(t, HostActionPayload{TargetUserID: "host-1"}),
	})
	msgs := drain(guestConn)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventError, msgs[0].Event)

	// Host mutes guest: delivered.
	room.dispatch(context.Background(), host, Message{
		Event:   EventMuteParticipant,
		Payload: mustRaw(t, HostActionPayload{TargetUserID: "user-2"}),
	})
	msgs = drain(guestConn)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventMutedByHost, msgs[0].Event)
}

func TestRoom_RemoveParticipant_ClosesTargetConnection(t *testing.T) {
	deps := newFakeDeps("host-1")
	room := newRoom("ABC-DEF-GHI", deps, func(string) {})

	host, hostConn := newTestClient("host-1", "Host", room)
	guest, guestConn := newTestClient("user-2", "Guest", room)
	room.join(context.Background(), host)
	drain(hostConn)
	room.join(context.Background(), guest)
	drain(hostConn)
	drain(guestConn)

	room.dispatch(context.Background(), host, Message{
		Event:   EventRemoveParticipant,
		Payload: mustRaw(t, HostActionPayload{TargetUserID: "user-2"}),
	})

	msgs := drain(guestConn)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventRemovedFromMeeting, msgs[0].Event)

	select {
	case <-guestConn.closed:
	case <-time.After(time.Second):
		t.Fatal("expected target connection to be closed")
	}
}

func drain(conn *fakeConn) []Message {
	// Let the client's writePump flush queued messages to the fake socket.
	time.Sleep(20 * time.Millisecond)
	var out []Message
	for {
		select {
		case raw := <-conn.outbound:
			msg, err := decodeMessage(raw)
			if err == nil {
				out = append(out, msg)
			}
		default:
			return out
		}
	}
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return json.RawMessage(data)
}
