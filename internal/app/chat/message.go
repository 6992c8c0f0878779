/*
Package chat contains the core logic for tracking real-time connections, room membership, and event fan-out.

This file defines the wire frame exchanged with websocket clients, the event names, and the
payload shapes of every frame the server sends or accepts.
*/
package chat

import (
	"time"

	"github.com/goccy/go-json"

	"hzrealtime/internal/app/presence"
	"hzrealtime/internal/app/user"
	"hzrealtime/internal/pkg/req"
)

// Inbound client events.
const (
	EventAuthenticate   = "authenticate"
	EventUpdatePresence = "update-presence"
	EventJoinRoom       = "join-room"
	EventLeaveRoom      = "leave-room"
	EventTypingStart    = "typing-start"
	EventTypingStop     = "typing-stop"
	EventHeartbeat      = "heartbeat"
)

// Outbound server events.
const (
	EventAuthSuccess            = "auth-success"
	EventAuthError              = "auth-error"
	EventHeartbeatAck           = "heartbeat-ack"
	EventRoomJoined             = "room-joined"
	EventRoomLeft               = "room-left"
	EventUserOnline             = "user-online"
	EventUserOffline            = "user-offline"
	EventUserPresenceUpdate     = "user-presence-update"
	EventVoiceParticipantUpdate = "voice-participant-update"
	EventError                  = "error"
)

// WebSocket close codes in the application range.
const (
	CloseProtocolAbuse    = 4002
	CloseSlowConsumer     = 4003
	CloseHeartbeatTimeout = 4004
)

// IsEphemeral reports whether an event is worthless to a user who is not online.
func IsEphemeral(event string) bool {
	return event == EventTypingStart || event == EventTypingStop
}

// Frame is the envelope of every websocket message. ID is shared by every copy of one dispatch,
// so a client can drop a duplicate delivered through two paths.
type Frame struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// EncodeFrame serializes one frame stamped with the current time. Data may be a json.RawMessage.
func EncodeFrame(id, event string, data any) ([]byte, error) {
	return json.Marshal(Frame{
		ID:        id,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// InboundFrame is a client frame with its data left undecoded until the event is known.
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthenticatePayload is the data of an authenticate frame.
type AuthenticatePayload struct {
	UserID    req.FlexString `json:"user_id" validate:"required,max=64"`
	Username  string         `json:"username" validate:"max=128"`
	SessionID string         `json:"session_id" validate:"max=4096"`
}

// AuthSuccessPayload answers a successful authenticate frame.
type AuthSuccessPayload struct {
	ConnectionID string          `json:"connection_id"`
	User         user.User       `json:"user"`
	Presence     presence.Record `json:"presence"`
}

// PresencePayload is the data of an update-presence frame.
type PresencePayload struct {
	Status   string  `json:"status" validate:"required"`
	Activity *string `json:"activity,omitempty" validate:"omitempty,max=128"`
}

// RoomPayload names a room in join, leave and typing frames.
type RoomPayload struct {
	Room string `json:"room" validate:"required"`
}

// RoomJoinedPayload confirms a join.
type RoomJoinedPayload struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

// UserPresencePayload is sent with user-online, user-offline and user-presence-update.
type UserPresencePayload struct {
	UserID   string          `json:"user_id"`
	Username string          `json:"username,omitempty"`
	Status   presence.Status `json:"status"`
	Activity *string         `json:"activity"`
	Room     string          `json:"room,omitempty"`
}

// TypingPayload is relayed to the other members of a room.
type TypingPayload struct {
	Room     string `json:"room"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// VoiceParticipantsPayload lists who is currently in a voice room.
type VoiceParticipantsPayload struct {
	Room         string      `json:"room"`
	Participants []user.User `json:"participants"`
}

// HeartbeatAckPayload answers a client heartbeat.
type HeartbeatAckPayload struct {
	ServerTime int64 `json:"server_time"`
}

// ErrorPayload is sent with error and auth-error frames.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

func presencePayload(rec presence.Record, username, room string) UserPresencePayload {
	return UserPresencePayload{
		UserID:   rec.UserID,
		Username: username,
		Status:   rec.Status,
		Activity: rec.Activity,
		Room:     room,
	}
}
