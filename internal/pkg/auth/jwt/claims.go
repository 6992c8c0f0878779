package jwt

import "github.com/golang-jwt/jwt"

// Scopes carried by tokens issued for this service.
const (
	// ScopeBridge marks a service token presented by the CRUD tier on bridge routes.
	ScopeBridge = "bridge"

	// ScopeSession marks a user session token presented in the websocket authenticate frame.
	ScopeSession = "session"
)

// Payload defines the structure of the JSON Web Token (JWT) claims for the real-time service.
type Payload struct {
	// StandardClaims is embedded without a tag so exp/iat/iss sit at the top level, where
	// non-Go issuers in the CRUD tier put them.
	jwt.StandardClaims

	// ID identifies the token subject: a user id for session tokens, a caller name for bridge tokens.
	ID string `json:"id"`

	// Username is the display name bound to a session token.
	Username string `json:"username,omitempty"`

	// Scope restricts where the token is accepted (ScopeBridge or ScopeSession).
	Scope string `json:"scope"`
}
