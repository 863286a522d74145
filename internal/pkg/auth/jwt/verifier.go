package jwt

import (
	"errors"

	"courier/internal/app/gateway"
)

var errMissingSubject = errors.New("token carries no user id")

// Verifier adapts JWT parsing to the gateway's credential-verification collaborator.
// A rejected, malformed, or expired token maps to a handshake rejection; the gateway
// never sees the raw parsing error details.
type Verifier struct {
	secretKey string
}

// NewVerifier returns a Verifier that validates tokens against the given HMAC secret.
func NewVerifier(secretKey string) *Verifier {
	return &Verifier{secretKey: secretKey}
}

// VerifyCredential implements gateway.TokenVerifier.
func (v *Verifier) VerifyCredential(token string) (gateway.Identity, error) {
	payload, err := ParseToken(token, v.secretKey)
	if err != nil {
		return gateway.Identity{}, err
	}

	if payload.UserID == "" {
		return gateway.Identity{}, errMissingSubject
	}

	return gateway.Identity{
		UserID:   payload.UserID,
		Username: payload.Username,
	}, nil
}
