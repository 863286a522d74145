/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally
within the broker and in error events pushed to connected clients.
*/
package errs

// 1xxx: Request and Command Validation Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that a request body or command frame was not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1005

	// ErrUnknownCommand indicates a WebSocket command with an unrecognized op.
	ErrUnknownCommand = 1101

	// ErrInvalidCommandPayload indicates that a command payload could not be decoded or failed validation.
	ErrInvalidCommandPayload = 1102

	// ErrMessageContentEmpty indicates that a message had no content after trimming and no attachments.
	ErrMessageContentEmpty = 1201

	// ErrMessageContentTooLong indicates that message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 1202

	// ErrMessageTypeInvalid indicates a message type outside the supported enumeration.
	ErrMessageTypeInvalid = 1203

	// ErrAttachmentCountInvalid indicates an attachment count of zero or above the allowed maximum.
	ErrAttachmentCountInvalid = 1204

	// ErrAttachmentKeyInvalid indicates an attachment key not scoped to the target conversation.
	ErrAttachmentKeyInvalid = 1205

	// ErrFileSizeTooLarge indicates that an attachment exceeded the maximum file size.
	ErrFileSizeTooLarge = 1206
)

// 2xxx: Conversation and Authorization Errors
const (
	// ErrNotAParticipant indicates the user is not a participant of the target conversation.
	ErrNotAParticipant = 2001

	// ErrConversationNotFound indicates that the target conversation does not exist.
	ErrConversationNotFound = 2002

	// ErrTargetMissing indicates a send command that named neither a conversation nor a recipient.
	ErrTargetMissing = 2003
)

// 3xxx: Authentication Errors
const (
	// ErrAuthenticationRejected indicates the credential presented at handshake was rejected.
	ErrAuthenticationRejected = 3001

	// ErrUnauthorized indicates a request without a valid identity.
	ErrUnauthorized = 3002
)

// 4xxx: Persistence Errors
const (
	// ErrPersistFailed indicates the backing store rejected or failed a persistence call.
	ErrPersistFailed = 4001

	// ErrInternalTimeout indicates a persistence call exceeded its deadline. Treated as PersistFailed.
	ErrInternalTimeout = 4002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrFileStorageFailed indicates a failure while presigning or reaching object storage.
	ErrFileStorageFailed = 5001
)
