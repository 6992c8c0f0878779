/*
Package user contains core data structures related to user identity and session.

It defines the basic representation of a user within the chat system (the User struct)
and the Session bound to a connection once it authenticates.
*/
package user

import "time"

// User represents the basic identity information of a chat participant.
// Fields use JSON tags for serialization in WebSocket messages.
type User struct {

	// ID is the unique identifier for the user as issued by the CRUD tier.
	ID string `json:"id"`

	// Username is the display name of the user.
	Username string `json:"username"`
}

// Session is the identity a connection carries after a successful authenticate frame.
// It is passed explicitly to every operation that needs the caller; nothing reads it from ambient state.
type Session struct {
	User

	// SessionID is the CRUD tier's session identifier or signed session token.
	SessionID string `json:"-"`

	// AuthenticatedAt is when the connection was bound.
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// NewSession builds a Session stamped with the current time.
func NewSession(id, username, sessionID string) Session {
	return Session{
		User:            User{ID: id, Username: username},
		SessionID:       sessionID,
		AuthenticatedAt: time.Now(),
	}
}
