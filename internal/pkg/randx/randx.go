/*
Package randx provides functions for generating unique identifiers used by the broker.

Connection identifiers and message identifiers are standard UUID v4 strings;
attachment keys combine a conversation scope with a fresh UUID.
*/
package randx

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ConnectionID generates a unique identifier for a live WebSocket connection.
func ConnectionID() string {
	return uuid.New().String()
}

// MessageID generates a standard UUID v4 string to serve as a unique identifier for a message.
func MessageID() string {
	return uuid.New().String()
}

// AttachmentKey builds an object-storage key scoped to a conversation:
// "<conversationID>/<uuid><ext>". The extension must include its leading dot.
func AttachmentKey(conversationID, ext string) string {
	return fmt.Sprintf("%s/%s%s", conversationID, uuid.New().String(), strings.ToLower(ext))
}

// IsValidID reports whether the given string parses as a UUID.
// Used to reject obviously malformed conversation and message identifiers
// before they reach the store.
func IsValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
