package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/pkg/errs"
)

// fakeStore is a hand-written ChatStore double. Each method delegates to an
// optional function field; unset fields fall back to permissive defaults so
// tests only wire the calls they care about.
type fakeStore struct {
	mu sync.Mutex

	isParticipantFn  func(conversationID, userID string) (bool, error)
	findOrCreateFn   func(userA, userB string) (string, error)
	persistFn        func(msg NewMessage) (StoredMessage, error)
	advanceFn        func(conversationID, userID, messageID string) (bool, error)
	markConvReadFn   func(conversationID, userID string) (bool, error)
	incrementCalls   int
	incrementErr     error
	persistedCount   int
	lastIncrementFor string
}

func (f *fakeStore) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	if f.isParticipantFn != nil {
		return f.isParticipantFn(conversationID, userID)
	}
	return true, nil
}

func (f *fakeStore) FindOrCreateDirectConversation(_ context.Context, userA, userB string) (string, error) {
	if f.findOrCreateFn != nil {
		return f.findOrCreateFn(userA, userB)
	}
	return "conv-direct", nil
}

func (f *fakeStore) PersistMessage(_ context.Context, msg NewMessage) (StoredMessage, error) {
	f.mu.Lock()
	f.persistedCount++
	f.mu.Unlock()

	if f.persistFn != nil {
		return f.persistFn(msg)
	}
	return StoredMessage{MessageID: "msg-1", CreatedAt: time.Now().UTC()}, nil
}

func (f *fakeStore) IncrementUnreadExcept(_ context.Context, conversationID, senderID string) error {
	f.mu.Lock()
	f.incrementCalls++
	f.lastIncrementFor = conversationID
	f.mu.Unlock()

	return f.incrementErr
}

func (f *fakeStore) AdvanceReadCursor(_ context.Context, conversationID, userID, messageID string) (bool, error) {
	if f.advanceFn != nil {
		return f.advanceFn(conversationID, userID, messageID)
	}
	return true, nil
}

func (f *fakeStore) MarkConversationRead(_ context.Context, conversationID, userID string) (bool, error) {
	if f.markConvReadFn != nil {
		return f.markConvReadFn(conversationID, userID)
	}
	return true, nil
}

func (f *fakeStore) increments() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.incrementCalls
}

type staticVerifier struct{}

func (staticVerifier) VerifyCredential(token string) (Identity, error) {
	if token == "good" {
		return Identity{UserID: "u1", Username: "alice"}, nil
	}
	return Identity{}, errors.New("bad credential")
}

func newTestGateway(t *testing.T, store ChatStore) *Gateway {
	t.Helper()

	if store == nil {
		store = &fakeStore{}
	}

	g := New(store, staticVerifier{}, Options{TypingTTL: 50 * time.Millisecond})
	t.Cleanup(g.Close)

	return g
}

// admitConn registers a connection directly, without a socket or pumps.
// Events queue on the send channel, where tests read them back.
func admitConn(g *Gateway, userID, username string) *Conn {
	c := newConn(g, nil, Identity{UserID: userID, Username: username})
	g.registry.admit(c)
	return c
}

// drainEvents empties the connection's send queue into decoded events.
func drainEvents(t *testing.T, c *Conn) []Event {
	t.Helper()

	var events []Event
	for {
		select {
		case frame := <-c.send:
			var ev Event
			require.NoError(t, json.Unmarshal(frame, &ev))
			events = append(events, ev)
		default:
			return events
		}
	}
}

// waitEvent blocks until the connection queues an event with the given op.
func waitEvent(t *testing.T, c *Conn, op string) Event {
	t.Helper()

	deadline := time.After(time.Second)
	for {
		select {
		case frame := <-c.send:
			var ev Event
			require.NoError(t, json.Unmarshal(frame, &ev))
			if ev.Op == op {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", op)
		}
	}
}

func ops(events []Event) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Op
	}
	return names
}

func sendCommand(t *testing.T, g *Gateway, c *Conn, op string, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	frame, err := json.Marshal(Event{Op: op, Data: data})
	require.NoError(t, err)

	g.handleCommand(c, frame)
}

func TestAuthenticate(t *testing.T) {
	g := newTestGateway(t, nil)

	identity, customErr := g.Authenticate("good")
	require.Nil(t, customErr)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, "alice", identity.Username)

	_, customErr = g.Authenticate("forged")
	require.NotNil(t, customErr)
	assert.Equal(t, errs.ErrAuthenticationRejected, customErr.Code)

	_, customErr = g.Authenticate("")
	require.NotNil(t, customErr)
	assert.Equal(t, errs.ErrAuthenticationRejected, customErr.Code)
}

func TestUnknownCommandIsScopedToSender(t *testing.T) {
	g := newTestGateway(t, nil)

	alice := admitConn(g, "u1", "alice")
	bob := admitConn(g, "u2", "bob")

	g.handleCommand(alice, []byte(`{"op":"frobnicate"}`))

	events := drainEvents(t, alice)
	require.Len(t, events, 1)
	assert.Equal(t, OpError, events[0].Op)

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(events[0].Data, &errPayload))
	assert.Equal(t, errs.ErrUnknownCommand, errPayload.Code)

	assert.Empty(t, drainEvents(t, bob), "errors must never reach other connections")
}

func TestMalformedFrameIsScopedToSender(t *testing.T) {
	g := newTestGateway(t, nil)
	alice := admitConn(g, "u1", "alice")

	g.handleCommand(alice, []byte(`{not json`))

	events := drainEvents(t, alice)
	require.Len(t, events, 1)
	assert.Equal(t, OpError, events[0].Op)
}

func TestJoinRoomRequiresParticipation(t *testing.T) {
	store := &fakeStore{
		isParticipantFn: func(conversationID, userID string) (bool, error) {
			return conversationID == "conv-1", nil
		},
	}
	g := newTestGateway(t, store)
	alice := admitConn(g, "u1", "alice")

	sendCommand(t, g, alice, OpJoinRoom, RoomPayload{ConversationID: "conv-1"})
	assert.True(t, g.rooms.isSubscribed(alice, "conv-1"))
	assert.Empty(t, drainEvents(t, alice))

	sendCommand(t, g, alice, OpJoinRoom, RoomPayload{ConversationID: "conv-2"})
	assert.False(t, g.rooms.isSubscribed(alice, "conv-2"))

	events := drainEvents(t, alice)
	require.Len(t, events, 1)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(events[0].Data, &errPayload))
	assert.Equal(t, errs.ErrNotAParticipant, errPayload.Code)
}

func TestSendMessageAckPrecedesBroadcast(t *testing.T) {
	store := &fakeStore{
		persistFn: func(msg NewMessage) (StoredMessage, error) {
			return StoredMessage{MessageID: "srv-42", CreatedAt: time.Unix(1700000000, 0).UTC()}, nil
		},
	}
	g := newTestGateway(t, store)

	alice := admitConn(g, "u1", "alice")
	bob := admitConn(g, "u2", "bob")
	g.rooms.subscribe(alice, "conv-1")
	g.rooms.subscribe(bob, "conv-1")

	sendCommand(t, g, alice, OpSendMessage, SendMessagePayload{
		ConversationID: "conv-1",
		Content:        "hello",
		Type:           TypeText,
		TempID:         "tmp-7",
	})

	aliceEvents := drainEvents(t, alice)
	require.Equal(t, []string{OpMessageSent, OpNewMessage}, ops(aliceEvents))

	var ack MessageSentPayload
	require.NoError(t, json.Unmarshal(aliceEvents[0].Data, &ack))
	assert.Equal(t, "tmp-7", ack.TempID)
	assert.Equal(t, "srv-42", ack.MessageID)
	assert.Equal(t, "conv-1", ack.ConversationID)

	bobEvents := drainEvents(t, bob)
	require.Equal(t, []string{OpNewMessage}, ops(bobEvents))

	var broadcast NewMessagePayload
	require.NoError(t, json.Unmarshal(bobEvents[0].Data, &broadcast))
	assert.Equal(t, "srv-42", broadcast.Message.ID)
	assert.Equal(t, "u1", broadcast.Message.SenderID)
	assert.Equal(t, "hello", broadcast.Message.Content)

	assert.Equal(t, 1, store.increments(), "unread counters move exactly once per delivered message")
}

func TestSendMessagePersistFailureStaysScoped(t *testing.T) {
	store := &fakeStore{
		persistFn: func(msg NewMessage) (StoredMessage, error) {
			return StoredMessage{}, errors.New("disk on fire")
		},
	}
	g := newTestGateway(t, store)

	alice := admitConn(g, "u1", "alice")
	bob := admitConn(g, "u2", "bob")
	g.rooms.subscribe(alice, "conv-1")
	g.rooms.subscribe(bob, "conv-1")

	sendCommand(t, g, alice, OpSendMessage, SendMessagePayload{
		ConversationID: "conv-1",
		Content:        "hello",
		Type:           TypeText,
		TempID:         "tmp-1",
	})

	events := drainEvents(t, alice)
	require.Equal(t, []string{OpError}, ops(events))

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(events[0].Data, &errPayload))
	assert.Equal(t, errs.ErrPersistFailed, errPayload.Code)

	assert.Empty(t, drainEvents(t, bob), "a failed send must not fan out")
	assert.Zero(t, store.increments(), "a failed send must not touch unread counters")
}

func TestSendMessagePersistTimeoutMapsToInternalTimeout(t *testing.T) {
	store := &fakeStore{
		persistFn: func(msg NewMessage) (StoredMessage, error) {
			return StoredMessage{}, fmt.Errorf("query: %w", context.DeadlineExceeded)
		},
	}
	g := newTestGateway(t, store)
	alice := admitConn(g, "u1", "alice")
	g.rooms.subscribe(alice, "conv-1")

	sendCommand(t, g, alice, OpSendMessage, SendMessagePayload{
		ConversationID: "conv-1",
		Content:        "hello",
		Type:           TypeText,
	})

	events := drainEvents(t, alice)
	require.Equal(t, []string{OpError}, ops(events))

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(events[0].Data, &errPayload))
	assert.Equal(t, errs.ErrInternalTimeout, errPayload.Code)
}

func TestSendMessageValidation(t *testing.T) {
	tests := []struct {
		name     string
		payload  SendMessagePayload
		wantCode int
	}{
		{
			name:     "unsupported type",
			payload:  SendMessagePayload{ConversationID: "conv-1", Content: "x", Type: "carrier-pigeon"},
			wantCode: errs.ErrMessageTypeInvalid,
		},
		{
			name:     "whitespace only content",
			payload:  SendMessagePayload{ConversationID: "conv-1", Content: "   \n\t ", Type: TypeText},
			wantCode: errs.ErrMessageContentEmpty,
		},
		{
			name:     "no target",
			payload:  SendMessagePayload{Content: "hi", Type: TypeText},
			wantCode: errs.ErrTargetMissing,
		},
		{
			name:     "both targets",
			payload:  SendMessagePayload{ConversationID: "conv-1", RecipientID: "u9", Content: "hi", Type: TypeText},
			wantCode: errs.ErrInvalidCommandPayload,
		},
		{
			name:     "recipient is self",
			payload:  SendMessagePayload{RecipientID: "u1", Content: "hi", Type: TypeText},
			wantCode: errs.ErrInvalidCommandPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			g := newTestGateway(t, store)
			alice := admitConn(g, "u1", "alice")

			sendCommand(t, g, alice, OpSendMessage, tt.payload)

			events := drainEvents(t, alice)
			require.Equal(t, []string{OpError}, ops(events))

			var errPayload ErrorPayload
			require.NoError(t, json.Unmarshal(events[0].Data, &errPayload))
			assert.Equal(t, tt.wantCode, errPayload.Code)
			assert.Zero(t, store.persistedCount, "rejected sends must not reach the store")
		})
	}
}

func TestSendMessageOverlongContent(t *testing.T) {
	g := newTestGateway(t, nil)
	alice := admitConn(g, "u1", "alice")

	long := make([]byte, MaxContentBytes+1)
	for i := range long {
		long[i] = 'a'
	}

	sendCommand(t, g, alice, OpSendMessage, SendMessagePayload{
		ConversationID: "conv-1",
		Content:        string(long),
		Type:           TypeText,
	})

	events := drainEvents(t, alice)
	require.Equal(t, []string{OpError}, ops(events))

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(events[0].Data, &errPayload))
	assert.Equal(t, errs.ErrMessageContentTooLong, errPayload.Code)
}

func TestSendMessageResolvesRecipientConversation(t *testing.T) {
	var gotA, gotB string
	store := &fakeStore{
		findOrCreateFn: func(userA, userB string) (string, error) {
			gotA, gotB = userA, userB
			return "conv-direct", nil
		},
	}
	g := newTestGateway(t, store)
	alice := admitConn(g, "u1", "alice")

	sendCommand(t, g, alice, OpSendMessage, SendMessagePayload{
		RecipientID: "u2",
		Content:     "first contact",
		Type:        TypeText,
		TempID:      "tmp-1",
	})

	assert.Equal(t, "u1", gotA)
	assert.Equal(t, "u2", gotB)

	ack := waitEvent(t, alice, OpMessageSent)
	var ackPayload MessageSentPayload
	require.NoError(t, json.Unmarshal(ack.Data, &ackPayload))
	assert.Equal(t, "conv-direct", ackPayload.ConversationID)
}

func TestSendMessageClearsTypingFlag(t *testing.T) {
	g := newTestGateway(t, nil)

	alice := admitConn(g, "u1", "alice")
	bob := admitConn(g, "u2", "bob")
	g.rooms.subscribe(alice, "conv-1")
	g.rooms.subscribe(bob, "conv-1")

	sendCommand(t, g, alice, OpTyping, RoomPayload{ConversationID: "conv-1"})
	waitEvent(t, bob, OpUserTyping)

	sendCommand(t, g, alice, OpSendMessage, SendMessagePayload{
		ConversationID: "conv-1",
		Content:        "done typing",
		Type:           TypeText,
	})

	waitEvent(t, bob, OpUserStoppedTyping)
	assert.False(t, g.typing.stop("conv-1", "u1"), "flag must already be cleared")
}

func TestTypingBroadcastOnlyOnTransition(t *testing.T) {
	g := newTestGateway(t, nil)

	alice := admitConn(g, "u1", "alice")
	bob := admitConn(g, "u2", "bob")
	g.rooms.subscribe(alice, "conv-1")
	g.rooms.subscribe(bob, "conv-1")

	sendCommand(t, g, alice, OpTyping, RoomPayload{ConversationID: "conv-1"})
	sendCommand(t, g, alice, OpTyping, RoomPayload{ConversationID: "conv-1"})
	sendCommand(t, g, alice, OpTyping, RoomPayload{ConversationID: "conv-1"})

	bobEvents := drainEvents(t, bob)
	require.Equal(t, []string{OpUserTyping}, ops(bobEvents), "refreshes must not re-broadcast")

	assert.Empty(t, drainEvents(t, alice), "the typist never receives their own typing events")
}

func TestTypingExpiresAfterTTL(t *testing.T) {
	g := newTestGateway(t, nil)

	alice := admitConn(g, "u1", "alice")
	bob := admitConn(g, "u2", "bob")
	g.rooms.subscribe(alice, "conv-1")
	g.rooms.subscribe(bob, "conv-1")

	sendCommand(t, g, alice, OpTyping, RoomPayload{ConversationID: "conv-1"})
	waitEvent(t, bob, OpUserTyping)

	stopped := waitEvent(t, bob, OpUserStoppedTyping)
	var payload StoppedTypingPayload
	require.NoError(t, json.Unmarshal(stopped.Data, &payload))
	assert.Equal(t, "u1", payload.UserID)
	assert.Equal(t, "conv-1", payload.ConversationID)

	// No duplicate stop after the expiry already fired.
	sendCommand(t, g, alice, OpStopTyping, RoomPayload{ConversationID: "conv-1"})
	assert.Empty(t, drainEvents(t, bob))
}

func TestStopTypingWithoutFlagIsSilent(t *testing.T) {
	g := newTestGateway(t, nil)

	alice := admitConn(g, "u1", "alice")
	bob := admitConn(g, "u2", "bob")
	g.rooms.subscribe(alice, "conv-1")
	g.rooms.subscribe(bob, "conv-1")

	sendCommand(t, g, alice, OpStopTyping, RoomPayload{ConversationID: "conv-1"})
	assert.Empty(t, drainEvents(t, bob))
	assert.Empty(t, drainEvents(t, alice))
}

func TestMarkReadBroadcastsOnlyWhenCursorAdvances(t *testing.T) {
	advanced := true
	store := &fakeStore{
		advanceFn: func(conversationID, userID, messageID string) (bool, error) {
			was := advanced
			advanced = false
			return was, nil
		},
	}
	g := newTestGateway(t, store)

	alice := admitConn(g, "u1", "alice")
	bob := admitConn(g, "u2", "bob")
	g.rooms.subscribe(alice, "conv-1")
	g.rooms.subscribe(bob, "conv-1")

	sendCommand(t, g, alice, OpMarkRead, MarkReadPayload{ConversationID: "conv-1", MessageID: "msg-5"})

	read := waitEvent(t, bob, OpMessageRead)
	var payload MessageReadPayload
	require.NoError(t, json.Unmarshal(read.Data, &payload))
	assert.Equal(t, "msg-5", payload.MessageID)
	assert.Equal(t, "u1", payload.ReadBy)

	// Replay: the cursor no longer moves, so nothing is broadcast.
	sendCommand(t, g, alice, OpMarkRead, MarkReadPayload{ConversationID: "conv-1", MessageID: "msg-5"})
	assert.Empty(t, drainEvents(t, bob))
}

func TestMarkConversationRead(t *testing.T) {
	g := newTestGateway(t, nil)

	alice := admitConn(g, "u1", "alice")
	bob := admitConn(g, "u2", "bob")
	g.rooms.subscribe(alice, "conv-1")
	g.rooms.subscribe(bob, "conv-1")

	sendCommand(t, g, alice, OpMarkConversationRead, RoomPayload{ConversationID: "conv-1"})

	read := waitEvent(t, bob, OpConversationRead)
	var payload ConversationReadPayload
	require.NoError(t, json.Unmarshal(read.Data, &payload))
	assert.Equal(t, "conv-1", payload.ConversationID)
	assert.Equal(t, "u1", payload.ReadBy)
}

func TestDisconnectClearsTypingAndAnnouncesOffline(t *testing.T) {
	g := newTestGateway(t, nil)

	alice := admitConn(g, "u1", "alice")
	bob := admitConn(g, "u2", "bob")
	g.rooms.subscribe(alice, "conv-1")
	g.rooms.subscribe(bob, "conv-1")

	sendCommand(t, g, alice, OpTyping, RoomPayload{ConversationID: "conv-1"})
	waitEvent(t, bob, OpUserTyping)

	g.remove(alice)

	waitEvent(t, bob, OpUserStoppedTyping)

	presence := waitEvent(t, bob, OpPresenceChanged)
	var payload PresencePayload
	require.NoError(t, json.Unmarshal(presence.Data, &payload))
	assert.Equal(t, "u1", payload.UserID)
	assert.Equal(t, PresenceOffline, payload.Status)

	assert.False(t, g.rooms.isSubscribed(alice, "conv-1"))
	assert.False(t, g.registry.hasConnections("u1"))

	// Removal is idempotent; a second pass must not re-announce.
	g.remove(alice)
	assert.Empty(t, drainEvents(t, bob))
}

func TestSecondConnectionDoesNotReannouncePresence(t *testing.T) {
	g := newTestGateway(t, nil)

	bob := admitConn(g, "u2", "bob")

	tab1 := admitConn(g, "u1", "alice")
	g.broadcastAll(OpPresenceChanged, PresencePayload{UserID: "u1", Status: PresenceOnline})
	drainEvents(t, bob)

	// Second tab for the same user: no presence edge.
	tab2 := newConn(g, nil, Identity{UserID: "u1", Username: "alice"})
	first := g.registry.admit(tab2)
	assert.False(t, first)

	// Dropping one of two tabs is not an offline edge either.
	g.remove(tab1)
	assert.Empty(t, drainEvents(t, bob))
	assert.True(t, g.registry.hasConnections("u1"))

	g.remove(tab2)
	presence := waitEvent(t, bob, OpPresenceChanged)
	var payload PresencePayload
	require.NoError(t, json.Unmarshal(presence.Data, &payload))
	assert.Equal(t, PresenceOffline, payload.Status)
}

func TestGetOnlineUsersSnapshot(t *testing.T) {
	g := newTestGateway(t, nil)

	alice := admitConn(g, "u1", "alice")
	admitConn(g, "u2", "bob")

	sendCommand(t, g, alice, OpGetOnlineUsers, struct{}{})

	snapshot := waitEvent(t, alice, OpOnlineUsers)
	var payload OnlineUsersPayload
	require.NoError(t, json.Unmarshal(snapshot.Data, &payload))
	assert.ElementsMatch(t, []string{"u1", "u2"}, payload.UserIDs)
}

func TestLeaveRoomStopsFanOut(t *testing.T) {
	g := newTestGateway(t, nil)

	alice := admitConn(g, "u1", "alice")
	bob := admitConn(g, "u2", "bob")
	g.rooms.subscribe(alice, "conv-1")
	g.rooms.subscribe(bob, "conv-1")

	sendCommand(t, g, bob, OpLeaveRoom, RoomPayload{ConversationID: "conv-1"})

	sendCommand(t, g, alice, OpSendMessage, SendMessagePayload{
		ConversationID: "conv-1",
		Content:        "anyone there?",
		Type:           TypeText,
	})

	waitEvent(t, alice, OpNewMessage)
	assert.Empty(t, drainEvents(t, bob), "an unsubscribed connection receives no room traffic")
}
