package chat

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"hzrealtime/internal/app/presence"
	"hzrealtime/internal/app/user"
	"hzrealtime/internal/pkg/errs"
	"hzrealtime/internal/pkg/logx"
	"hzrealtime/internal/pkg/metrics"
)

// Recorder receives presence records whenever a user's state changes.
type Recorder interface {
	Record(rec presence.Record)
}

// HubConfig sizes a Hub.
type HubConfig struct {
	// MaxConnections bounds the registry; zero means unlimited.
	MaxConnections int
}

// Stats is a point-in-time summary for health reporting.
type Stats struct {
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
	Rooms         int `json:"rooms"`
	OnlineUsers   int `json:"online_users"`
}

// Hub ties the registry, room index, presence tracker and dispatcher together and owns
// the connection lifecycle: authenticate, join, leave, presence updates and teardown.
type Hub struct {
	registry   *Registry
	rooms      *RoomIndex
	presence   *presence.Tracker
	dispatcher *Dispatcher
	recorder   Recorder

	startedAt time.Time
	logger    zerolog.Logger
}

// NewHub builds a Hub with empty tables.
func NewHub(cfg HubConfig, tracker *presence.Tracker) *Hub {
	if tracker == nil {
		tracker = presence.NewTracker()
	}
	registry := NewRegistry(cfg.MaxConnections)
	rooms := NewRoomIndex()

	return &Hub{
		registry:   registry,
		rooms:      rooms,
		presence:   tracker,
		dispatcher: NewDispatcher(registry, rooms, tracker),
		startedAt:  time.Now(),
		logger:     logx.Component("hub"),
	}
}

// SetRecorder installs a presence recorder. It must be called before connections arrive.
func (h *Hub) SetRecorder(r Recorder) {
	h.recorder = r
}

func (h *Hub) Registry() *Registry { return h.registry }
func (h *Hub) Rooms() *RoomIndex { return h.rooms }
func (h *Hub) Presence() *presence.Tracker { return h.presence }
func (h *Hub) Dispatcher() *Dispatcher { return h.dispatcher }
func (h *Hub) Uptime() time.Duration { return time.Since(h.startedAt) }

// Stats returns current table sizes.
func (h *Hub) Stats() Stats {
	return Stats{
		Connections:   h.registry.Count(),
		Authenticated: h.registry.AuthenticatedCount(),
		Rooms:         h.rooms.Count(),
		OnlineUsers:   h.presence.Count(),
	}
}

// Connect registers a new anonymous connection over sink.
func (h *Hub) Connect(sink Sink) (*Connection, *errs.CustomError) {
	c, err := h.registry.Register(sink)
	if err != nil {
		metrics.ConnectRejected.WithLabelValues("capacity").Inc()
		return nil, err
	}
	return c, nil
}

// Authenticate binds a session to c and counts the connection toward the user's presence.
func (h *Hub) Authenticate(c *Connection, s user.Session) (presence.Record, *errs.CustomError) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	newly, err := h.registry.Authenticate(c.id, s)
	if err != nil {
		return presence.Record{}, err
	}

	if newly {
		ch := h.presence.Opened(s.ID)
		if ch.WentOnline {
			h.record(ch.Current)
		}
		h.logger.Info().
			Str("connection_id", c.id).
			Str("user_id", s.ID).
			Int("user_connections", ch.Current.Connections).
			Msg("Connection authenticated.")
	}
	return h.presence.Get(s.ID), nil
}

// Join subscribes c to a room. The room hears user-online when the user's first connection enters it.
func (h *Hub) Join(c *Connection, key RoomKey) (JoinResult, *errs.CustomError) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	res, err := h.rooms.Join(c, key)
	if err != nil || !res.Joined {
		return res, err
	}

	s, _ := c.Session()
	if res.UserEntered {
		h.presence.Announce(s.ID, string(key))
		rec := h.presence.Get(s.ID)
		_, _ = h.dispatcher.BroadcastRoom(key, EventUserOnline, presencePayload(rec, s.Username, string(key)), Except(c.id))
	}

	if key.IsVoice() {
		h.syncVoice(s)
		h.broadcastVoice(key)
	}
	return res, nil
}

// Leave unsubscribes c from a room. An anonymous connection holds no rooms, so leaving is a no-op for it.
func (h *Hub) Leave(c *Connection, key RoomKey) (LeaveResult, *errs.CustomError) {
	if !key.Valid() {
		return LeaveResult{}, errs.NewError(errs.ErrInvalidRoomKey)
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	s, ok := c.Session()
	if !ok {
		return LeaveResult{}, nil
	}

	res := h.rooms.Leave(c, key)
	if !res.Left {
		return res, nil
	}

	if res.UserExited {
		h.presence.Retract(s.ID, string(key))
	}
	if key.IsVoice() {
		h.broadcastVoice(key)
		h.syncVoice(s)
	}
	return res, nil
}

// SetPresence applies an explicit status update from c and fans it out to the user's audience.
func (h *Hub) SetPresence(c *Connection, status presence.Status, activity *string) (presence.Record, *errs.CustomError) {
	s, ok := c.Session()
	if !ok {
		return presence.Record{}, errs.NewError(errs.ErrNotAuthenticated)
	}

	ch, err := h.presence.Set(s.ID, status, activity)
	if err != nil {
		return presence.Record{}, err
	}
	if ch.Changed() {
		h.publishPresence(s, ch)
	}
	return ch.Current, nil
}

// RelayTyping forwards a typing event from c to the other members of the room.
func (h *Hub) RelayTyping(c *Connection, key RoomKey, event string) *errs.CustomError {
	s, ok := c.Session()
	if !ok {
		return errs.NewError(errs.ErrNotAuthenticated)
	}
	if !c.InRoom(key) {
		return errs.NewError(errs.ErrNotRoomMember)
	}

	payload := TypingPayload{Room: string(key), UserID: s.ID, Username: s.Username}
	_, err := h.dispatcher.BroadcastRoom(key, event, payload, Except(c.id))
	return err
}

// Disconnect tears down a connection whose transport ended. It reports whether this call did the teardown.
func (h *Hub) Disconnect(c *Connection) bool {
	if !c.transition(StateAlive, StateClosed) && !c.transition(StateSuspect, StateClosed) {
		return false
	}
	h.teardown(c, "disconnect")
	return true
}

// Deregister tears down the connection with the given id.
func (h *Hub) Deregister(connID string) *errs.CustomError {
	c, err := h.registry.Get(connID)
	if err != nil {
		return err
	}
	h.Disconnect(c)
	return nil
}

// Kick closes a connection from the server side with the given close code.
func (h *Hub) Kick(c *Connection, code int, reason, cause string) bool {
	if !c.transition(StateAlive, StateClosed) && !c.transition(StateSuspect, StateClosed) {
		return false
	}
	c.sink.Close(code, reason)
	h.teardown(c, cause)
	return true
}

// reap tears down a suspect connection that stayed silent past the grace period.
func (h *Hub) reap(c *Connection) bool {
	if !c.transition(StateSuspect, StateReaped) {
		return false
	}
	c.sink.Close(CloseHeartbeatTimeout, "heartbeat timeout")
	h.teardown(c, "reaped")
	return true
}

// Shutdown closes every connection with a going-away close frame.
func (h *Hub) Shutdown() {
	conns := h.registry.All()
	h.logger.Info().Int("connections", len(conns)).Msg("Shutting down hub.")
	for _, c := range conns {
		h.Kick(c, websocket.CloseGoingAway, "server shutting down", "shutdown")
	}
	h.logger.Info().Msg("Hub shutdown complete.")
}

// teardown runs once per connection: rooms first, then registry, then presence.
func (h *Hub) teardown(c *Connection, cause string) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	sess, ok := c.markClosed()
	if !ok {
		return
	}

	departures := h.rooms.LeaveAll(c)

	userID := ""
	if sess != nil {
		userID = sess.ID
	}
	h.registry.remove(c, userID)
	metrics.ConnectionsClosed.WithLabelValues(cause).Inc()

	h.logger.Info().
		Str("connection_id", c.id).
		Str("user_id", userID).
		Str("cause", cause).
		Int("rooms", len(departures)).
		Msg("Connection closed.")

	if sess == nil {
		return
	}

	ch := h.presence.Closed(userID)
	leftVoice := false
	for _, d := range departures {
		if d.Key.IsVoice() {
			leftVoice = true
		}
	}

	if ch.WentOffline {
		h.record(ch.Current)
		payload := presencePayload(ch.Current, sess.Username, "")
		_, _ = h.dispatcher.BroadcastRooms(roomKeys(ch.Audience), EventUserOffline, payload)
	} else {
		for _, d := range departures {
			if d.UserExited {
				h.presence.Retract(userID, string(d.Key))
			}
		}
		if leftVoice {
			h.syncVoice(*sess)
		}
	}

	for _, d := range departures {
		if d.Key.IsVoice() {
			h.broadcastVoice(d.Key)
		}
	}
}

// syncVoice sets or clears the user's voice activity from the voice rooms their connections hold.
// The membership scan runs under the user's presence lock, so concurrent joins and leaves from
// different devices settle on the final membership.
func (h *Hub) syncVoice(s user.Session) {
	ch := h.presence.SyncVoice(s.ID, func() bool {
		return h.inVoice(s.ID)
	})
	if ch.Changed() {
		h.publishPresence(s, ch)
	}
}

// inVoice reports whether any of the user's connections is in a voice room.
// Lock order: presence entry, then registry.mu, then Connection.mu.
func (h *Hub) inVoice(userID string) bool {
	for _, c := range h.registry.ConnectionsOf(userID) {
		for _, k := range c.Rooms() {
			if k.IsVoice() {
				return true
			}
		}
	}
	return false
}

func (h *Hub) broadcastVoice(key RoomKey) {
	payload := VoiceParticipantsPayload{Room: string(key), Participants: h.rooms.Participants(key)}
	_, _ = h.dispatcher.BroadcastRoom(key, EventVoiceParticipantUpdate, payload)
}

// publishPresence records a change and sends user-presence-update to the user's audience.
func (h *Hub) publishPresence(s user.Session, ch presence.Change) {
	h.record(ch.Current)
	payload := presencePayload(ch.Current, s.Username, "")
	_, _ = h.dispatcher.BroadcastAudience(s.ID, roomKeys(ch.Audience), EventUserPresenceUpdate, payload)
}

func (h *Hub) record(rec presence.Record) {
	if h.recorder != nil {
		h.recorder.Record(rec)
	}
}

func roomKeys(keys []string) []RoomKey {
	out := make([]RoomKey, len(keys))
	for i, k := range keys {
		out[i] = RoomKey(k)
	}
	return out
}
