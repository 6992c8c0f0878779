// Package bridge is the seam between the CRUD tier and the real-time core. The HTTP handlers and the
// NATS consumer decode the same request bodies and call the same Service.
package bridge

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"hzrealtime/internal/app/chat"
	"hzrealtime/internal/app/presence"
	"hzrealtime/internal/pkg/errs"
	"hzrealtime/internal/pkg/logx"
	"hzrealtime/internal/pkg/req"
)

// lastKnownTimeout bounds the store lookup made for offline users.
const lastKnownTimeout = 2 * time.Second

// LastKnownStore returns the persisted record of a user, written by the presence sink.
type LastKnownStore interface {
	GetPresence(ctx context.Context, userID string) (presence.Record, error)
}

// Operation names, shared by HTTP routes, NATS subjects and metrics labels.
const (
	OpNotifyUser    = "notify-user"
	OpBroadcastRoom = "broadcast-room"
	OpBroadcast     = "broadcast"
)

// NotifyUserRequest targets every connection of one user.
type NotifyUserRequest struct {
	UserID  req.FlexString  `json:"user_id" validate:"required,max=64"`
	Event   string          `json:"event" validate:"required,max=64"`
	Payload json.RawMessage `json:"payload"`
}

// BroadcastRoomRequest targets the members of one room.
type BroadcastRoomRequest struct {
	RoomKey string          `json:"room_key" validate:"required,max=72"`
	Event   string          `json:"event" validate:"required,max=64"`
	Payload json.RawMessage `json:"payload"`
}

// BroadcastRequest targets every authenticated connection.
type BroadcastRequest struct {
	Event   string          `json:"event" validate:"required,max=64"`
	Payload json.RawMessage `json:"payload"`
}

// DispatchResult is returned to the caller of a dispatch operation.
// EventID matches the id field of every frame delivered for this dispatch.
type DispatchResult struct {
	EventID   string `json:"event_id"`
	Event     string `json:"event"`
	Target    string `json:"target,omitempty"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// OnlineUsers is the body of the online-users listing.
type OnlineUsers struct {
	Count int               `json:"count"`
	Users []presence.Record `json:"users"`
}

// Health is the liveness summary polled by the CRUD tier.
type Health struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Connections   int    `json:"connections"`
	Authenticated int    `json:"authenticated"`
	Rooms         int    `json:"rooms"`
	OnlineUsers   int    `json:"online_users"`
	Timestamp     int64  `json:"timestamp"`
}

// Service executes bridge operations against a hub.
type Service struct {
	hub       *chat.Hub
	lastKnown LastKnownStore
	logger    zerolog.Logger
}

// NewService creates a Service over hub.
func NewService(hub *chat.Hub) *Service {
	return &Service{hub: hub, logger: logx.Component("bridge")}
}

// SetLastKnown makes Presence consult store for users who have no live connection.
func (s *Service) SetLastKnown(store LastKnownStore) {
	s.lastKnown = store
}

// NotifyUser delivers an event to all of a user's connections.
func (s *Service) NotifyUser(r NotifyUserRequest) (DispatchResult, *errs.CustomError) {
	rep, err := s.hub.Dispatcher().NotifyUser(r.UserID.String(), r.Event, r.Payload)
	if err != nil {
		return DispatchResult{}, err
	}
	return result(r.Event, r.UserID.String(), rep), nil
}

// BroadcastRoom delivers an event to the current members of a room.
func (s *Service) BroadcastRoom(r BroadcastRoomRequest) (DispatchResult, *errs.CustomError) {
	key, err := chat.ParseRoomKey(r.RoomKey)
	if err != nil {
		return DispatchResult{}, err
	}
	rep, err := s.hub.Dispatcher().BroadcastRoom(key, r.Event, r.Payload)
	if err != nil {
		return DispatchResult{}, err
	}
	return result(r.Event, key.String(), rep), nil
}

// Broadcast delivers an event to every authenticated connection.
func (s *Service) Broadcast(r BroadcastRequest) (DispatchResult, *errs.CustomError) {
	rep, err := s.hub.Dispatcher().BroadcastAll(r.Event, r.Payload)
	if err != nil {
		return DispatchResult{}, err
	}
	return result(r.Event, "", rep), nil
}

// Presence returns a user's current record. Users without connections are offline; when a store is
// set, their UpdatedAt is the last persisted change, so callers can show when they were last seen.
// The status always comes from memory: a stored row may lag behind a disconnect.
func (s *Service) Presence(ctx context.Context, userID string) (presence.Record, *errs.CustomError) {
	if userID == "" || len(userID) > 64 {
		return presence.Record{}, errs.NewError(errs.ErrInvalidParams)
	}
	rec := s.hub.Presence().Get(userID)
	if rec.Status != presence.StatusOffline || s.lastKnown == nil {
		return rec, nil
	}

	ctx, cancel := context.WithTimeout(ctx, lastKnownTimeout)
	defer cancel()
	stored, err := s.lastKnown.GetPresence(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Last-known presence lookup failed.")
		return rec, nil
	}
	rec.UpdatedAt = stored.UpdatedAt
	return rec, nil
}

// OnlineUsers lists every user who is not offline.
func (s *Service) OnlineUsers() OnlineUsers {
	users := s.hub.Presence().Online()
	return OnlineUsers{Count: len(users), Users: users}
}

// Health summarizes the hub.
func (s *Service) Health() Health {
	st := s.hub.Stats()
	return Health{
		Status:        "ok",
		UptimeSeconds: int64(s.hub.Uptime() / time.Second),
		Connections:   st.Connections,
		Authenticated: st.Authenticated,
		Rooms:         st.Rooms,
		OnlineUsers:   st.OnlineUsers,
		Timestamp:     time.Now().UnixMilli(),
	}
}

func result(event, target string, rep chat.Report) DispatchResult {
	return DispatchResult{
		EventID:   rep.EventID,
		Event:     event,
		Target:    target,
		Delivered: rep.Delivered,
		Failed:    rep.Failed,
		Skipped:   rep.Skipped,
	}
}

// asError keeps a nil *errs.CustomError from becoming a non-nil error interface.
func asError(err *errs.CustomError) error {
	if err == nil {
		return nil
	}
	return err
}
