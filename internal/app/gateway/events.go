/*
Package gateway contains the real-time core of the broker: connection registry,
room membership, typing aggregation, message dispatch, and read receipts.

This file defines the wire protocol: the tagged command union read from clients
and the event envelope pushed back out. Every inbound frame is an Event with an
op and a raw payload; unknown ops and undecodable payloads are rejected with a
scoped error event to the sender only.
*/
package gateway

import (
	"encoding/json"
	"time"
)

// Command ops accepted from clients.
const (
	OpJoinRoom             = "join_room"
	OpLeaveRoom            = "leave_room"
	OpSendMessage          = "send_message"
	OpTyping               = "typing"
	OpStopTyping           = "stop_typing"
	OpMarkRead             = "mark_read"
	OpMarkConversationRead = "mark_conversation_read"
	OpGetOnlineUsers       = "get_online_users"
)

// Event ops pushed to clients.
const (
	OpPresenceChanged   = "presence_changed"
	OpUserTyping        = "user_typing"
	OpUserStoppedTyping = "user_stopped_typing"
	OpNewMessage        = "new_message"
	OpMessageSent       = "message_sent"
	OpMessageRead       = "message_read"
	OpConversationRead  = "conversation_read"
	OpOnlineUsers       = "online_users"
	OpError             = "error"
)

// Event is the envelope for every frame crossing the WebSocket, in both
// directions. Inbound, Data holds the raw payload decoded per op; outbound,
// Data holds the concrete payload struct.
type Event struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
}

// outEvent mirrors Event for outbound marshaling, where the payload is a
// concrete value rather than raw bytes.
type outEvent struct {
	Op   string `json:"op"`
	Data any    `json:"d,omitempty"`
}

// Inbound command payloads.

// RoomPayload targets a single conversation (join_room, leave_room, typing, stop_typing).
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload carries a send_message command. Exactly one of
// ConversationID or RecipientID must be set; TempID is the client's optimistic
// local identifier, echoed back in the message_sent acknowledgment.
type SendMessagePayload struct {
	ConversationID string       `json:"conversationId,omitempty"`
	RecipientID    string       `json:"recipientId,omitempty"`
	Content        string       `json:"content"`
	Type           MessageType  `json:"type"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	TempID         string       `json:"tempId"`
}

// MarkReadPayload carries a mark_read command.
type MarkReadPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// Outbound event payloads.

// PresenceStatus is the value set for presence_changed events.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// PresencePayload announces a user's presence edge in either direction.
type PresencePayload struct {
	UserID string         `json:"userId"`
	Status PresenceStatus `json:"status"`
}

// TypingPayload announces that a user started typing in a conversation.
type TypingPayload struct {
	UserID         string `json:"userId"`
	Username       string `json:"username,omitempty"`
	ConversationID string `json:"conversationId"`
}

// StoppedTypingPayload announces that a user stopped typing, whether by
// explicit stop, TTL expiry, or disconnect.
type StoppedTypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// Message is the authoritative message as broadcast to subscribers, carrying
// the server-assigned identifier and timestamp.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	SenderName     string       `json:"senderName,omitempty"`
	Content        string       `json:"content"`
	Type           MessageType  `json:"type"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// NewMessagePayload fans a persisted message out to all room subscribers.
type NewMessagePayload struct {
	Message        Message `json:"message"`
	ConversationID string  `json:"conversationId"`
}

// MessageSentPayload acknowledges a send to the originating connection only,
// so the client can reconcile its optimistic local copy with the
// server-assigned identifier.
type MessageSentPayload struct {
	TempID         string    `json:"tempId"`
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessageReadPayload broadcasts an advanced read cursor.
type MessageReadPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
}

// ConversationReadPayload broadcasts a whole-conversation read.
type ConversationReadPayload struct {
	ConversationID string    `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
}

// OnlineUsersPayload answers a get_online_users query and seeds a fresh
// connection with the current presence snapshot.
type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

// ErrorPayload is a scoped error event delivered only to the connection whose
// command failed.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
