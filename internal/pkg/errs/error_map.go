/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses, WebSocket error events, and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: Request and Command Validation Errors
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format."},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data."},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrUnknownCommand:        {Code: ErrUnknownCommand, Message: "Unknown command."},
	ErrInvalidCommandPayload: {Code: ErrInvalidCommandPayload, Message: "Invalid command payload."},

	ErrMessageContentEmpty:    {Code: ErrMessageContentEmpty, Message: "Message is empty."},
	ErrMessageContentTooLong:  {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrMessageTypeInvalid:     {Code: ErrMessageTypeInvalid, Message: "Unsupported message type."},
	ErrAttachmentCountInvalid: {Code: ErrAttachmentCountInvalid, Message: "Invalid number of attachments."},
	ErrAttachmentKeyInvalid:   {Code: ErrAttachmentKeyInvalid, Message: "Invalid attachment."},
	ErrFileSizeTooLarge:       {Code: ErrFileSizeTooLarge, Message: "File is too large."},

	// 2xxx: Conversation and Authorization Errors
	ErrNotAParticipant:      {Code: ErrNotAParticipant, Message: "You are not a participant of this conversation.", Status: http.StatusForbidden},
	ErrConversationNotFound: {Code: ErrConversationNotFound, Message: "Conversation not found.", Status: http.StatusNotFound},
	ErrTargetMissing:        {Code: ErrTargetMissing, Message: "A conversation or recipient is required."},

	// 3xxx: Authentication Errors
	ErrAuthenticationRejected: {Code: ErrAuthenticationRejected, Message: "Invalid or expired credential.", Status: http.StatusUnauthorized},
	ErrUnauthorized:           {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},

	// 4xxx: Persistence Errors
	ErrPersistFailed:   {Code: ErrPersistFailed, Message: "Message could not be saved. Please try again."},
	ErrInternalTimeout: {Code: ErrInternalTimeout, Message: "Message could not be saved in time. Please try again."},

	// 5xxx: Internal System Errors
	ErrUnknown:           {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrFileStorageFailed: {Code: ErrFileStorageFailed, Message: "File upload failed. Please try again."},
}
