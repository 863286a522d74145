package gateway

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"courier/internal/pkg/errs"
)

const (
	// MaxAttachmentSizeMB is the maximum allowed file size in megabytes.
	MaxAttachmentSizeMB = 25

	// MaxAttachmentSize is the maximum allowed file size in bytes.
	MaxAttachmentSize = MaxAttachmentSizeMB * 1024 * 1024

	// MaxAttachmentsCount defines the maximum number of attachments allowed per message.
	MaxAttachmentsCount = 3

	// PresignedURLDuration is the fixed duration for which a presigned storage URL is valid.
	PresignedURLDuration = 5 * time.Minute
)

// AllowedMIMETypes defines the set of permitted MIME types for file attachments,
// covering the image/file/audio/video message types.
var AllowedMIMETypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/webp":      {},
	"image/gif":       {},
	"audio/mpeg":      {},
	"audio/ogg":       {},
	"video/mp4":       {},
	"video/webm":      {},
	"application/pdf": {},
	"application/zip": {},
}

// ExtToMIME maps file extensions to their corresponding MIME types.
var ExtToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
}

// Attachment represents a file attachment carried by a message. The Key points
// at an object previously uploaded through the presign endpoint and must be
// scoped to the target conversation.
type Attachment struct {
	Key      string          `json:"fileKey"`
	Name     string          `json:"fileName"`
	MimeType string          `json:"mimeType"`
	Size     int64           `json:"fileSize"`
	Meta     json.RawMessage `json:"meta,omitempty"`
}

// ValidateFileSize checks if the provided file size is within acceptable limits.
func ValidateFileSize(fileSize int64) *errs.CustomError {
	if fileSize <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if fileSize > MaxAttachmentSize {
		return errs.NewError(errs.ErrFileSizeTooLarge)
	}

	return nil
}

// ValidateFileType checks if the provided file name and MIME type are allowed
// and consistent with each other.
func ValidateFileType(fileName string, mimeType string) *errs.CustomError {
	lowerMimeType := strings.ToLower(mimeType)

	if _, ok := AllowedMIMETypes[lowerMimeType]; !ok {
		return errs.NewError(errs.ErrInvalidParams)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" || len(ext) < 2 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	expectedMIME, ok := ExtToMIME[ext]
	if !ok {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if expectedMIME != lowerMimeType {
		return errs.NewError(errs.ErrInvalidParams)
	}

	return nil
}

// validateAttachments applies count, type, and conversation-scoping rules to a
// message's attachment list. conversationID may be empty when the conversation
// is being resolved from a recipient id, in which case key scoping is skipped.
func validateAttachments(attachments []Attachment, conversationID string) *errs.CustomError {
	if len(attachments) > MaxAttachmentsCount {
		return errs.NewError(errs.ErrAttachmentCountInvalid)
	}

	var expectedPrefix string
	if conversationID != "" {
		expectedPrefix = conversationID + "/"
	}

	for i := range attachments {
		a := &attachments[i]

		if expectedPrefix != "" && !strings.HasPrefix(a.Key, expectedPrefix) {
			return errs.NewError(errs.ErrAttachmentKeyInvalid)
		}

		if err := ValidateFileType(a.Name, a.MimeType); err != nil {
			return errs.NewError(errs.ErrAttachmentKeyInvalid)
		}

		if err := ValidateFileSize(a.Size); err != nil {
			return err
		}

		// Client-supplied metadata is never relayed.
		a.Meta = nil
	}

	return nil
}
