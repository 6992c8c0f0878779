/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients and the CRUD tier.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrUnknownEvent indicates that a websocket frame carried an event name the server does not handle.
	ErrUnknownEvent = 1008

	// ErrValidationFailed indicates that a decoded body failed field validation.
	ErrValidationFailed = 1009
)

// 2xxx: Connection and Room Errors
const (
	// ErrConnectionNotFound indicates that the connection id is unknown or already torn down.
	ErrConnectionNotFound = 2101

	// ErrCapacityExceeded indicates that the server refused a new connection at its configured limit.
	ErrCapacityExceeded = 2102

	// ErrInvalidRoomKey indicates a room key that is not of the form kind-id.
	ErrInvalidRoomKey = 2201

	// ErrNotRoomMember indicates a room-scoped client event for a room the connection has not joined.
	ErrNotRoomMember = 2202
)

// 3xxx: Session and Security Errors
const (
	// ErrNotAuthenticated indicates an operation that requires a bound user on an anonymous connection.
	ErrNotAuthenticated = 3001

	// ErrAlreadyAuthenticated indicates an attempt to rebind a connection to a different user.
	ErrAlreadyAuthenticated = 3002

	// ErrHandshakeInvalid indicates an authenticate frame with missing identity fields.
	ErrHandshakeInvalid = 3003

	// ErrSessionTokenInvalid indicates a session token that failed signature or subject checks.
	ErrSessionTokenInvalid = 3004

	// ErrUnauthorized indicates a bridge request without a valid service token.
	ErrUnauthorized = 3005

	// ErrProtocolAbuse indicates a client that exceeded its protocol error budget.
	ErrProtocolAbuse = 3006
)

// 4xxx: Presence Errors
const (
	// ErrInvalidStatus indicates a presence status outside online, away and dnd.
	ErrInvalidStatus = 4001

	// ErrUserOffline indicates a presence update for a user with no open connection.
	ErrUserOffline = 4002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrPayloadEncoding indicates that an outbound payload could not be serialized.
	ErrPayloadEncoding = 5001

	// ErrServiceDegraded indicates the real-time service is unreachable or failing.
	ErrServiceDegraded = 5002
)
