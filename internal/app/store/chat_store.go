/*
Package store implements the durable side of the broker on PostgreSQL: the
conversation and participant tables, the message log, per-participant unread
counters, and monotonic read cursors.

Messages carry a serial sequence column. Read cursors compare sequences, not
timestamps, so cursor movement is well-defined even when two messages share a
creation instant.
*/
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courier/internal/app/gateway"
	"courier/internal/pkg/randx"
)

// ChatStore is the PostgreSQL implementation of the gateway's persistence
// collaborator.
type ChatStore struct {
	pool *pgxpool.Pool
}

// NewChatStore wraps a connection pool into a ChatStore.
func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{pool: pool}
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *ChatStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, conversationID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check conversation participant: %w", err)
	}

	return exists, nil
}

// directKey builds the canonical identifier of the direct conversation between
// two users. The pair is ordered so both directions map to the same key.
func directKey(userA, userB string) string {
	if strings.Compare(userA, userB) > 0 {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// FindOrCreateDirectConversation resolves the direct conversation between two
// users, creating it together with both participant rows on first contact.
// The direct key carries a unique constraint, so two concurrent first sends
// between the same pair race on the insert and both resolve to the single
// surviving row.
func (s *ChatStore) FindOrCreateDirectConversation(ctx context.Context, userA, userB string) (string, error) {
	key := directKey(userA, userB)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insert = `
		INSERT INTO conversations (kind, direct_key)
		VALUES ('direct', $1)
		ON CONFLICT (direct_key) DO NOTHING
		RETURNING id`

	var conversationID string
	err = tx.QueryRow(ctx, insert, key).Scan(&conversationID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Lost the race or the conversation already existed; fetch the winner.
		const sel = `SELECT id FROM conversations WHERE direct_key = $1`
		if err := tx.QueryRow(ctx, sel, key).Scan(&conversationID); err != nil {
			return "", fmt.Errorf("failed to look up direct conversation: %w", err)
		}

	case err != nil:
		return "", fmt.Errorf("failed to create direct conversation: %w", err)
	}

	const addParticipants = `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2), ($1, $3)
		ON CONFLICT (conversation_id, user_id) DO NOTHING`

	if _, err := tx.Exec(ctx, addParticipants, conversationID, userA, userB); err != nil {
		return "", fmt.Errorf("failed to add direct conversation participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit direct conversation: %w", err)
	}

	return conversationID, nil
}

// PersistMessage durably stores a message and returns its server-assigned
// identity. The sequence column is assigned by the database on insert.
func (s *ChatStore) PersistMessage(ctx context.Context, msg gateway.NewMessage) (gateway.StoredMessage, error) {
	attachments, err := marshalAttachments(msg.Attachments)
	if err != nil {
		return gateway.StoredMessage{}, err
	}

	const query = `
		INSERT INTO messages (id, conversation_id, sender_id, content, type, attachments)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	messageID := randx.MessageID()

	var createdAt time.Time
	err = s.pool.QueryRow(ctx, query,
		messageID, msg.ConversationID, msg.SenderID, msg.Content, string(msg.Type), attachments,
	).Scan(&createdAt)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return gateway.StoredMessage{}, fmt.Errorf("persist message: %w", gateway.ErrConversationMissing)
		}
		return gateway.StoredMessage{}, fmt.Errorf("failed to persist message: %w", err)
	}

	return gateway.StoredMessage{MessageID: messageID, CreatedAt: createdAt.UTC()}, nil
}

func marshalAttachments(attachments []gateway.Attachment) ([]byte, error) {
	if len(attachments) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}
	return data, nil
}

// IncrementUnreadExcept bumps the unread counter of every participant of the
// conversation except the sender.
func (s *ChatStore) IncrementUnreadExcept(ctx context.Context, conversationID, senderID string) error {
	const query = `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id <> $2`

	if _, err := s.pool.Exec(ctx, query, conversationID, senderID); err != nil {
		return fmt.Errorf("failed to increment unread counters: %w", err)
	}

	return nil
}

// AdvanceReadCursor moves the user's read cursor to messageID only if that
// message is newer than the current cursor. An unknown message or a cursor
// already at or past it leaves the row untouched and reports advanced=false.
func (s *ChatStore) AdvanceReadCursor(ctx context.Context, conversationID, userID, messageID string) (bool, error) {
	const query = `
		UPDATE conversation_participants p
		SET last_read_message_id = m.id,
		    last_read_seq = m.seq
		FROM messages m
		WHERE m.id = $3
		  AND m.conversation_id = $1
		  AND p.conversation_id = $1
		  AND p.user_id = $2
		  AND m.seq > p.last_read_seq`

	tag, err := s.pool.Exec(ctx, query, conversationID, userID, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to advance read cursor: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkConversationRead advances the user's cursor to the conversation's latest
// message and resets their unread counter. Reports whether anything changed.
func (s *ChatStore) MarkConversationRead(ctx context.Context, conversationID, userID string) (bool, error) {
	const query = `
		UPDATE conversation_participants p
		SET last_read_message_id = latest.id,
		    last_read_seq = latest.seq,
		    unread_count = 0
		FROM (
			SELECT id, seq FROM messages
			WHERE conversation_id = $1
			ORDER BY seq DESC
			LIMIT 1
		) latest
		WHERE p.conversation_id = $1
		  AND p.user_id = $2
		  AND (p.last_read_seq < latest.seq OR p.unread_count > 0)`

	tag, err := s.pool.Exec(ctx, query, conversationID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// An empty conversation has no latest row; the counter may still need a
	// reset if it drifted.
	const reset = `
		UPDATE conversation_participants
		SET unread_count = 0
		WHERE conversation_id = $1 AND user_id = $2 AND unread_count > 0`

	tag, err = s.pool.Exec(ctx, reset, conversationID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to reset unread counter: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}
