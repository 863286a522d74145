/*
Package gateway contains the real-time core of the broker.

This file implements read receipts. The store keeps one monotonic read cursor
per participant per conversation; a cursor only ever moves forward, so replays
and out-of-order mark_read commands are no-ops and never broadcast.
*/
package gateway

import (
	"time"

	"courier/internal/pkg/errs"
)

// handleMarkRead advances the sender's read cursor to a specific message and,
// only if the cursor actually moved, broadcasts the receipt to the other
// subscribers.
func (g *Gateway) handleMarkRead(c *Conn, payload MarkReadPayload) {
	if payload.ConversationID == "" || payload.MessageID == "" {
		c.sendError(errs.NewError(errs.ErrInvalidCommandPayload))
		return
	}

	if customErr := g.checkParticipant(c, payload.ConversationID); customErr != nil {
		c.sendError(customErr)
		return
	}

	ctx, cancel := g.storeCtx()
	defer cancel()

	advanced, err := g.store.AdvanceReadCursor(ctx, payload.ConversationID, c.user.UserID, payload.MessageID)
	if err != nil {
		g.logger.Error().Err(err).Str("conversation_id", payload.ConversationID).Msg("Read cursor update failed")
		c.sendError(g.storeError(err))
		return
	}

	if !advanced {
		return
	}

	g.broadcastTo(
		g.rooms.subscribersExcept(payload.ConversationID, c.user.UserID),
		OpMessageRead,
		MessageReadPayload{
			MessageID:      payload.MessageID,
			ConversationID: payload.ConversationID,
			ReadBy:         c.user.UserID,
			ReadAt:         time.Now().UTC(),
		},
	)
}

// handleMarkConversationRead moves the sender's cursor to the conversation's
// latest message and resets their unread counter. The receipt is only
// broadcast when something changed.
func (g *Gateway) handleMarkConversationRead(c *Conn, payload RoomPayload) {
	if payload.ConversationID == "" {
		c.sendError(errs.NewError(errs.ErrInvalidCommandPayload))
		return
	}

	if customErr := g.checkParticipant(c, payload.ConversationID); customErr != nil {
		c.sendError(customErr)
		return
	}

	ctx, cancel := g.storeCtx()
	defer cancel()

	changed, err := g.store.MarkConversationRead(ctx, payload.ConversationID, c.user.UserID)
	if err != nil {
		g.logger.Error().Err(err).Str("conversation_id", payload.ConversationID).Msg("Conversation read update failed")
		c.sendError(g.storeError(err))
		return
	}

	if !changed {
		return
	}

	g.broadcastTo(
		g.rooms.subscribersExcept(payload.ConversationID, c.user.UserID),
		OpConversationRead,
		ConversationReadPayload{
			ConversationID: payload.ConversationID,
			ReadBy:         c.user.UserID,
			ReadAt:         time.Now().UTC(),
		},
	)
}
