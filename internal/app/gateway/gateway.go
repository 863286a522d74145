/*
Package gateway contains the real-time core of the broker.

This file defines the Gateway struct, which wires the connection registry, the
room membership table, and the typing aggregator to the external collaborators
(credential verification and persistence). It is the single entry point for
the handshake path and for every command read off a connection.
*/
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"courier/internal/pkg/errs"
	"courier/internal/pkg/logx"
)

const (
	// DefaultTypingTTL is how long a typing flag survives without a refresh.
	DefaultTypingTTL = 3 * time.Second

	// DefaultPersistTimeout bounds every call issued to the persistence collaborator.
	DefaultPersistTimeout = 5 * time.Second
)

// Options carries the gateway tunables.
type Options struct {
	// TypingTTL overrides DefaultTypingTTL when positive.
	TypingTTL time.Duration

	// PersistTimeout overrides DefaultPersistTimeout when positive.
	PersistTimeout time.Duration
}

// Gateway is the real-time core. It owns all connection, room, and typing
// state; durable state lives behind the ChatStore collaborator.
type Gateway struct {
	store    ChatStore
	verifier TokenVerifier

	persistTimeout time.Duration

	registry *registry
	rooms    *roomTable
	typing   *typingTracker

	logger zerolog.Logger
}

// New constructs a Gateway around the given collaborators.
func New(store ChatStore, verifier TokenVerifier, opts Options) *Gateway {
	typingTTL := opts.TypingTTL
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTTL
	}

	persistTimeout := opts.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = DefaultPersistTimeout
	}

	g := &Gateway{
		store:          store,
		verifier:       verifier,
		persistTimeout: persistTimeout,
		registry:       newRegistry(),
		rooms:          newRoomTable(),
		logger:         logx.Logger().With().Str("component", "gateway").Logger(),
	}
	g.typing = newTypingTracker(typingTTL, g.typingExpired)

	return g
}

// Authenticate resolves the credential presented at handshake time through the
// token-verification collaborator. A rejected credential refuses the
// connection before any state is created.
func (g *Gateway) Authenticate(token string) (Identity, *errs.CustomError) {
	if token == "" {
		return Identity{}, errs.NewError(errs.ErrAuthenticationRejected)
	}

	identity, err := g.verifier.VerifyCredential(token)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Credential rejected at handshake")
		return Identity{}, errs.NewError(errs.ErrAuthenticationRejected)
	}

	return identity, nil
}

// Attach admits an upgraded WebSocket connection under an authenticated
// identity, starts its write loop, and seeds it with the current presence
// snapshot. If this is the user's first live connection, the user coming
// online is announced. The caller runs ReadPump on the returned connection.
func (g *Gateway) Attach(sock *websocket.Conn, identity Identity) *Conn {
	c := newConn(g, sock, identity)

	first := g.registry.admit(c)

	go c.WritePump()

	c.enqueue(OpOnlineUsers, OnlineUsersPayload{UserIDs: g.registry.onlineUserIDs()})

	if first {
		g.broadcastAll(OpPresenceChanged, PresencePayload{
			UserID: identity.UserID,
			Status: PresenceOnline,
		})
	}

	c.logger.Info().Msg("Connection admitted")

	return c
}

// remove tears a connection down. Idempotent. Subscriptions are dropped before
// the connection leaves the registry, so once removal completes no fan-out can
// target it; a fan-out racing just ahead of cleanup lands in the connection's
// best-effort queue and is dropped there.
func (g *Gateway) remove(c *Conn) {
	c.shutdown()

	g.rooms.dropConn(c)

	last, removed := g.registry.drop(c)
	if !removed {
		return
	}

	c.logger.Info().Msg("Connection removed")

	if !last {
		return
	}

	// The user's last connection is gone: lapse their typing flags and
	// announce the user going offline, each at most once.
	for _, conversationID := range g.typing.dropUser(c.user.UserID) {
		g.broadcastTo(
			g.rooms.subscribersExcept(conversationID, c.user.UserID),
			OpUserStoppedTyping,
			StoppedTypingPayload{UserID: c.user.UserID, ConversationID: conversationID},
		)
	}

	g.broadcastAll(OpPresenceChanged, PresencePayload{
		UserID: c.user.UserID,
		Status: PresenceOffline,
	})
}

// Close shuts the gateway down: pending typing timers are cancelled without
// firing and every live connection is torn down.
func (g *Gateway) Close() {
	g.typing.stopAll()

	for _, c := range g.registry.all() {
		g.remove(c)
	}

	g.logger.Info().Msg("Gateway closed")
}

// OnlineUserIDs returns the ids of all users with at least one live connection.
func (g *Gateway) OnlineUserIDs() []string {
	return g.registry.onlineUserIDs()
}

// IsParticipant exposes the participant check for collaborating HTTP handlers
// (attachment presigning) with the gateway's persistence deadline applied.
func (g *Gateway) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.persistTimeout)
	defer cancel()

	return g.store.IsParticipant(ctx, conversationID, userID)
}

// handleCommand decodes and dispatches one inbound frame. It runs on the
// connection's read loop, so commands from one connection are processed
// strictly in the order received. All failures are scoped error events to
// this connection; nothing here can affect another connection's state.
func (g *Gateway) handleCommand(c *Conn, frame []byte) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		c.sendError(errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	switch ev.Op {
	case OpJoinRoom:
		payload, ok := decodePayload[RoomPayload](c, ev.Data)
		if ok {
			g.handleJoinRoom(c, payload)
		}

	case OpLeaveRoom:
		payload, ok := decodePayload[RoomPayload](c, ev.Data)
		if ok {
			g.rooms.unsubscribe(c, payload.ConversationID)
		}

	case OpSendMessage:
		payload, ok := decodePayload[SendMessagePayload](c, ev.Data)
		if ok {
			g.handleSendMessage(c, payload)
		}

	case OpTyping:
		payload, ok := decodePayload[RoomPayload](c, ev.Data)
		if ok {
			g.handleTyping(c, payload)
		}

	case OpStopTyping:
		payload, ok := decodePayload[RoomPayload](c, ev.Data)
		if ok {
			g.handleStopTyping(c, payload)
		}

	case OpMarkRead:
		payload, ok := decodePayload[MarkReadPayload](c, ev.Data)
		if ok {
			g.handleMarkRead(c, payload)
		}

	case OpMarkConversationRead:
		payload, ok := decodePayload[RoomPayload](c, ev.Data)
		if ok {
			g.handleMarkConversationRead(c, payload)
		}

	case OpGetOnlineUsers:
		c.enqueue(OpOnlineUsers, OnlineUsersPayload{UserIDs: g.registry.onlineUserIDs()})

	default:
		c.logger.Warn().Str("op", ev.Op).Msg("Client sent unknown command")
		c.sendError(errs.NewError(errs.ErrUnknownCommand))
	}
}

// decodePayload unmarshals a command payload, reporting a scoped error to the
// connection when it cannot be decoded.
func decodePayload[T any](c *Conn, data json.RawMessage) (T, bool) {
	var payload T

	if len(data) == 0 {
		c.sendError(errs.NewError(errs.ErrInvalidCommandPayload))
		return payload, false
	}

	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent undecodable payload")
		c.sendError(errs.NewError(errs.ErrInvalidCommandPayload))
		return payload, false
	}

	return payload, true
}

// handleJoinRoom subscribes the connection to a conversation after the
// participant-check collaborator confirms membership.
func (g *Gateway) handleJoinRoom(c *Conn, payload RoomPayload) {
	if payload.ConversationID == "" {
		c.sendError(errs.NewError(errs.ErrInvalidCommandPayload))
		return
	}

	if customErr := g.checkParticipant(c, payload.ConversationID); customErr != nil {
		c.sendError(customErr)
		return
	}

	g.rooms.subscribe(c, payload.ConversationID)
}

// handleTyping refreshes the sender's typing flag and, when the flag was not
// already set, announces it to the other subscribers of the conversation.
func (g *Gateway) handleTyping(c *Conn, payload RoomPayload) {
	if payload.ConversationID == "" {
		c.sendError(errs.NewError(errs.ErrInvalidCommandPayload))
		return
	}

	if customErr := g.checkParticipant(c, payload.ConversationID); customErr != nil {
		c.sendError(customErr)
		return
	}

	if g.typing.start(payload.ConversationID, c.user.UserID) {
		g.broadcastTo(
			g.rooms.subscribersExcept(payload.ConversationID, c.user.UserID),
			OpUserTyping,
			TypingPayload{
				UserID:         c.user.UserID,
				Username:       c.user.Username,
				ConversationID: payload.ConversationID,
			},
		)
	}
}

// handleStopTyping clears the sender's typing flag and, if it was set,
// announces the stop exactly once.
func (g *Gateway) handleStopTyping(c *Conn, payload RoomPayload) {
	if payload.ConversationID == "" {
		c.sendError(errs.NewError(errs.ErrInvalidCommandPayload))
		return
	}

	if g.typing.stop(payload.ConversationID, c.user.UserID) {
		g.broadcastTo(
			g.rooms.subscribersExcept(payload.ConversationID, c.user.UserID),
			OpUserStoppedTyping,
			StoppedTypingPayload{UserID: c.user.UserID, ConversationID: payload.ConversationID},
		)
	}
}

// typingExpired is the typing aggregator's TTL callback: the flag lapsed
// without an explicit stop, so the stop event fires here instead.
func (g *Gateway) typingExpired(conversationID, userID string) {
	g.broadcastTo(
		g.rooms.subscribersExcept(conversationID, userID),
		OpUserStoppedTyping,
		StoppedTypingPayload{UserID: userID, ConversationID: conversationID},
	)
}

// checkParticipant confirms conversation membership through the external
// collaborator. A connection already subscribed to the room passed this check
// when it joined, so the store is only consulted for unsubscribed senders.
func (g *Gateway) checkParticipant(c *Conn, conversationID string) *errs.CustomError {
	if g.rooms.isSubscribed(c, conversationID) {
		return nil
	}

	ctx, cancel := g.storeCtx()
	defer cancel()

	ok, err := g.store.IsParticipant(ctx, conversationID, c.user.UserID)
	if err != nil {
		g.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("Participant check failed")
		return g.storeError(err)
	}

	if !ok {
		return errs.NewError(errs.ErrNotAParticipant)
	}

	return nil
}

// storeCtx returns a context bounding one persistence call.
func (g *Gateway) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.persistTimeout)
}

// storeError maps a persistence failure onto the error taxonomy: a deadline
// hit is an internal timeout, a missing conversation keeps its own code, and
// anything else is a persistence failure.
func (g *Gateway) storeError(err error) *errs.CustomError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errs.NewError(errs.ErrInternalTimeout)
	case errors.Is(err, ErrConversationMissing):
		return errs.NewError(errs.ErrConversationNotFound)
	default:
		return errs.NewError(errs.ErrPersistFailed)
	}
}

// broadcastAll pushes one event to every live connection. The frame is
// marshaled once; each connection's writer delivers it independently.
func (g *Gateway) broadcastAll(op string, payload any) {
	g.broadcastTo(g.registry.all(), op, payload)
}

// broadcastTo pushes one event to a snapshot of connections. Enqueueing is
// non-blocking; the per-connection write loops then deliver concurrently.
func (g *Gateway) broadcastTo(conns []*Conn, op string, payload any) {
	if len(conns) == 0 {
		return
	}

	frame, err := json.Marshal(outEvent{Op: op, Data: payload})
	if err != nil {
		g.logger.Error().Err(err).Str("op", op).Msg("Error marshaling broadcast event")
		return
	}

	for _, c := range conns {
		c.enqueueFrame(op, frame)
	}
}
