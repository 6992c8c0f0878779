/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses, websocket error frames and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRequestEntityTooLarge: {Code: ErrRequestEntityTooLarge, Message: "Request size is too large.", Status: http.StatusRequestEntityTooLarge},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrUnknownEvent:          {Code: ErrUnknownEvent, Message: "Unknown event: %s", Status: http.StatusBadRequest},
	ErrValidationFailed:      {Code: ErrValidationFailed, Message: "Validation failed: %s", Status: http.StatusBadRequest},

	// 2xxx: Connection and Room Errors
	ErrConnectionNotFound: {Code: ErrConnectionNotFound, Message: "Connection not found.", Status: http.StatusNotFound},
	ErrCapacityExceeded:   {Code: ErrCapacityExceeded, Message: "Server is at capacity. Please try again later.", Status: http.StatusServiceUnavailable},
	ErrInvalidRoomKey:     {Code: ErrInvalidRoomKey, Message: "Invalid room.", Status: http.StatusBadRequest},
	ErrNotRoomMember:      {Code: ErrNotRoomMember, Message: "You have not joined this room.", Status: http.StatusForbidden},

	// 3xxx: Session and Security Errors
	ErrNotAuthenticated:     {Code: ErrNotAuthenticated, Message: "Please authenticate first.", Status: http.StatusUnauthorized},
	ErrAlreadyAuthenticated: {Code: ErrAlreadyAuthenticated, Message: "Connection is already bound to another user.", Status: http.StatusConflict},
	ErrHandshakeInvalid:     {Code: ErrHandshakeInvalid, Message: "Invalid authentication data.", Status: http.StatusBadRequest},
	ErrSessionTokenInvalid:  {Code: ErrSessionTokenInvalid, Message: "Session is invalid or expired.", Status: http.StatusUnauthorized},
	ErrUnauthorized:         {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrProtocolAbuse:        {Code: ErrProtocolAbuse, Message: "Too many invalid messages.", Status: http.StatusTooManyRequests},

	// 4xxx: Presence Errors
	ErrInvalidStatus: {Code: ErrInvalidStatus, Message: "Invalid presence status.", Status: http.StatusBadRequest},
	ErrUserOffline:   {Code: ErrUserOffline, Message: "User is offline.", Status: http.StatusConflict},

	// 5xxx: Internal System Errors
	ErrUnknown:         {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrPayloadEncoding: {Code: ErrPayloadEncoding, Message: "Payload could not be encoded.", Status: http.StatusInternalServerError},
	ErrServiceDegraded: {Code: ErrServiceDegraded, Message: "Real-time service is unavailable.", Status: http.StatusServiceUnavailable},
}
