package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the structure of the JSON Web Token (JWT) claims accepted by the broker.
// The broker does not issue login credentials itself; it only verifies tokens minted by
// the account service and extracts the identity needed to admit a connection.
type Payload struct {
	// StandardClaims embeds the necessary JWT standard fields such as Exp (Expiration),
	// Iat (Issued At), and Iss (Issuer). These are crucial for token validity checks.
	jwt.StandardClaims `json:"standard_claims"`

	// UserID is the stable identifier of the account holding the connection.
	UserID string `json:"user_id"`

	// Username is the display name carried into typing and presence events.
	Username string `json:"username"`
}
