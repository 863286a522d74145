package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrConversationMissing is returned by ChatStore implementations when the
// target conversation does not exist. The gateway reports it to the client as
// a conversation-not-found error instead of a generic persistence failure.
var ErrConversationMissing = errors.New("conversation does not exist")

// Identity is the authenticated principal behind a connection, as resolved by
// the credential-verification collaborator at handshake time.
type Identity struct {
	UserID   string
	Username string
}

// TokenVerifier is the external token-verification collaborator consulted
// during the authentication handshake.
type TokenVerifier interface {
	VerifyCredential(token string) (Identity, error)
}

// MessageType enumerates the supported message content types.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
	TypeAudio MessageType = "audio"
	TypeVideo MessageType = "video"
)

// Valid reports whether t is part of the fixed type enumeration.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeAudio, TypeVideo:
		return true
	}
	return false
}

// NewMessage is the dispatch pipeline's persistence request.
type NewMessage struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           MessageType
	Attachments    []Attachment
}

// StoredMessage is the authoritative identity the store assigns to a persisted
// message. The pipeline must learn it synchronously before any fan-out.
type StoredMessage struct {
	MessageID string
	CreatedAt time.Time
}

// ChatStore is the external persistence collaborator. The gateway owns no
// durable state; every call is issued with a deadline and a timeout is treated
// as a persistence failure.
type ChatStore interface {
	// IsParticipant reports whether userID belongs to the conversation.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// FindOrCreateDirectConversation resolves the direct conversation between
	// two users, creating it if absent. The operation is atomic: concurrent
	// first sends between the same pair resolve to the same conversation.
	FindOrCreateDirectConversation(ctx context.Context, userA, userB string) (string, error)

	// PersistMessage durably stores a message and returns its server-assigned
	// identity.
	PersistMessage(ctx context.Context, msg NewMessage) (StoredMessage, error)

	// IncrementUnreadExcept bumps the unread counter of every participant of
	// the conversation except the sender. Invoked exactly once per successful
	// send.
	IncrementUnreadExcept(ctx context.Context, conversationID, senderID string) error

	// AdvanceReadCursor moves the user's read cursor to messageID if and only
	// if it is newer than the current cursor. Returns whether it advanced.
	AdvanceReadCursor(ctx context.Context, conversationID, userID, messageID string) (bool, error)

	// MarkConversationRead advances the cursor to the conversation's latest
	// message and resets the user's unread counter. Returns whether anything
	// changed.
	MarkConversationRead(ctx context.Context, conversationID, userID string) (bool, error)
}
