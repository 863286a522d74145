/*
Package gateway contains the real-time core of the broker.

This file implements the message dispatch pipeline: validation, conversation
resolution, persistence, acknowledgment to the sender, and fan-out to room
subscribers. Persistence is the ordering barrier; no acknowledgment and no
fan-out happens for a message the store has not accepted.
*/
package gateway

import (
	"strings"
	"unicode/utf8"

	"courier/internal/pkg/errs"
)

// handleSendMessage runs one message through the dispatch pipeline on the
// sender's read loop, so a single connection's messages are persisted and
// fanned out in the order they arrived.
func (g *Gateway) handleSendMessage(c *Conn, payload SendMessagePayload) {
	msg, customErr := g.validateSend(c, payload)
	if customErr != nil {
		c.sendError(customErr)
		return
	}

	stored, customErr := g.persist(c, msg)
	if customErr != nil {
		// The failure stays scoped to the sender. Nothing was broadcast,
		// no counter moved; the client keeps its optimistic copy pending.
		c.sendError(customErr)
		return
	}

	// Acknowledge the sender first so the optimistic copy reconciles before
	// the broadcast (which the sender also receives) arrives.
	c.enqueue(OpMessageSent, MessageSentPayload{
		TempID:         payload.TempID,
		MessageID:      stored.MessageID,
		ConversationID: msg.ConversationID,
		CreatedAt:      stored.CreatedAt,
	})

	g.bumpUnread(msg.ConversationID, c.user.UserID)

	g.broadcastTo(g.rooms.subscribers(msg.ConversationID), OpNewMessage, NewMessagePayload{
		ConversationID: msg.ConversationID,
		Message: Message{
			ID:             stored.MessageID,
			ConversationID: msg.ConversationID,
			SenderID:       c.user.UserID,
			SenderName:     c.user.Username,
			Content:        msg.Content,
			Type:           msg.Type,
			Attachments:    msg.Attachments,
			CreatedAt:      stored.CreatedAt,
		},
	})

	// Sending implies the user stopped composing.
	if g.typing.stop(msg.ConversationID, c.user.UserID) {
		g.broadcastTo(
			g.rooms.subscribersExcept(msg.ConversationID, c.user.UserID),
			OpUserStoppedTyping,
			StoppedTypingPayload{UserID: c.user.UserID, ConversationID: msg.ConversationID},
		)
	}
}

// validateSend checks the command, resolves the target conversation, and
// authorizes the sender, returning the persistence request.
func (g *Gateway) validateSend(c *Conn, payload SendMessagePayload) (NewMessage, *errs.CustomError) {
	var msg NewMessage

	if !payload.Type.Valid() {
		return msg, errs.NewError(errs.ErrMessageTypeInvalid)
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" && len(payload.Attachments) == 0 {
		return msg, errs.NewError(errs.ErrMessageContentEmpty)
	}
	if len(content) > MaxContentBytes {
		return msg, errs.NewError(errs.ErrMessageContentTooLong)
	}
	if !utf8.ValidString(content) {
		return msg, errs.NewError(errs.ErrInvalidCommandPayload)
	}

	if customErr := validateAttachments(payload.Attachments, payload.ConversationID); customErr != nil {
		return msg, customErr
	}

	conversationID, customErr := g.resolveConversation(c, payload)
	if customErr != nil {
		return msg, customErr
	}

	msg = NewMessage{
		ConversationID: conversationID,
		SenderID:       c.user.UserID,
		Content:        content,
		Type:           payload.Type,
		Attachments:    payload.Attachments,
	}
	return msg, nil
}

// resolveConversation turns the send target into a conversation id. A named
// conversation requires the sender to be a participant; a named recipient
// resolves the direct conversation between the pair, creating it atomically on
// first contact so concurrent first sends land in the same conversation.
func (g *Gateway) resolveConversation(c *Conn, payload SendMessagePayload) (string, *errs.CustomError) {
	switch {
	case payload.ConversationID != "" && payload.RecipientID != "":
		return "", errs.NewError(errs.ErrInvalidCommandPayload)

	case payload.ConversationID != "":
		if customErr := g.checkParticipant(c, payload.ConversationID); customErr != nil {
			return "", customErr
		}
		return payload.ConversationID, nil

	case payload.RecipientID != "":
		if payload.RecipientID == c.user.UserID {
			return "", errs.NewError(errs.ErrInvalidCommandPayload)
		}

		ctx, cancel := g.storeCtx()
		defer cancel()

		conversationID, err := g.store.FindOrCreateDirectConversation(ctx, c.user.UserID, payload.RecipientID)
		if err != nil {
			g.logger.Error().Err(err).Str("recipient_id", payload.RecipientID).Msg("Direct conversation resolution failed")
			return "", g.storeError(err)
		}
		return conversationID, nil

	default:
		return "", errs.NewError(errs.ErrTargetMissing)
	}
}

// persist durably stores the message under the gateway's persistence deadline.
func (g *Gateway) persist(c *Conn, msg NewMessage) (StoredMessage, *errs.CustomError) {
	ctx, cancel := g.storeCtx()
	defer cancel()

	stored, err := g.store.PersistMessage(ctx, msg)
	if err != nil {
		g.logger.Error().Err(err).Str("conversation_id", msg.ConversationID).Msg("Message persistence failed")
		return StoredMessage{}, g.storeError(err)
	}

	return stored, nil
}

// bumpUnread increments the unread counter of every participant but the
// sender, exactly once per delivered message. A failure here is logged and
// swallowed; the message itself was already persisted and acknowledged.
func (g *Gateway) bumpUnread(conversationID, senderID string) {
	ctx, cancel := g.storeCtx()
	defer cancel()

	if err := g.store.IncrementUnreadExcept(ctx, conversationID, senderID); err != nil {
		g.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("Unread counter update failed")
	}
}
