package chat

import (
	"github.com/rs/zerolog"

	"hzrealtime/internal/app/presence"
	"hzrealtime/internal/pkg/errs"
	"hzrealtime/internal/pkg/logx"
	"hzrealtime/internal/pkg/metrics"
	"hzrealtime/internal/pkg/randx"
)

// Report summarizes one dispatch. EventID is the id carried by every frame it delivered.
type Report struct {
	EventID   string `json:"event_id"`
	Targeted  int `json:"targeted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type dispatchOptions struct {
	except string
}

// Option adjusts a single dispatch.
type Option func(*dispatchOptions)

// Except leaves out one connection, typically the sender of a relayed client event.
func Except(connID string) Option {
	return func(o *dispatchOptions) {
		o.except = connID
	}
}

// Dispatcher resolves targets and delivers encoded frames to their connections.
// Each delivery is a non-blocking push into the connection's send queue; failures are counted, never retried.
type Dispatcher struct {
	registry *Registry
	rooms    *RoomIndex
	presence *presence.Tracker
	logger   zerolog.Logger
}

// NewDispatcher wires a Dispatcher over the given tables.
func NewDispatcher(registry *Registry, rooms *RoomIndex, tracker *presence.Tracker) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		rooms:    rooms,
		presence: tracker,
		logger:   logx.Component("dispatcher"),
	}
}

// NotifyUser sends an event to every connection of one user.
func (d *Dispatcher) NotifyUser(userID, event string, payload any) (Report, *errs.CustomError) {
	metrics.Dispatches.WithLabelValues("user").Inc()
	return d.dispatch(d.registry.ConnectionsOf(userID), event, payload, nil, "user", userID)
}

// BroadcastRoom sends an event to the members of one room as of the moment of the call.
func (d *Dispatcher) BroadcastRoom(key RoomKey, event string, payload any, opts ...Option) (Report, *errs.CustomError) {
	if !key.Valid() {
		return Report{}, errs.NewError(errs.ErrInvalidRoomKey)
	}
	metrics.Dispatches.WithLabelValues("room").Inc()
	return d.dispatch(d.rooms.Members(key), event, payload, opts, "room", string(key))
}

// BroadcastRooms sends an event once to every connection that is a member of any of the rooms.
func (d *Dispatcher) BroadcastRooms(keys []RoomKey, event string, payload any, opts ...Option) (Report, *errs.CustomError) {
	metrics.Dispatches.WithLabelValues("rooms").Inc()
	return d.dispatch(d.union(keys, nil), event, payload, opts, "rooms", "")
}

// BroadcastAudience sends an event to the members of the rooms plus the user's own connections, each once.
func (d *Dispatcher) BroadcastAudience(userID string, keys []RoomKey, event string, payload any) (Report, *errs.CustomError) {
	metrics.Dispatches.WithLabelValues("rooms").Inc()
	return d.dispatch(d.union(keys, d.registry.ConnectionsOf(userID)), event, payload, nil, "audience", userID)
}

// BroadcastAll sends an event to every authenticated connection.
func (d *Dispatcher) BroadcastAll(event string, payload any) (Report, *errs.CustomError) {
	metrics.Dispatches.WithLabelValues("all").Inc()
	all := d.registry.All()
	targets := all[:0]
	for _, c := range all {
		if c.Authenticated() {
			targets = append(targets, c)
		}
	}
	return d.dispatch(targets, event, payload, nil, "all", "")
}

// SendTo delivers an event to a single connection, for direct replies.
func (d *Dispatcher) SendTo(c *Connection, event string, payload any) error {
	frame, err := EncodeFrame(randx.EventID(), event, payload)
	if err != nil {
		d.logger.Error().Err(err).Str("event", event).Msg("Failed to encode reply frame.")
		return errs.NewError(errs.ErrPayloadEncoding)
	}
	return c.deliver(frame)
}

func (d *Dispatcher) union(keys []RoomKey, extra []*Connection) []*Connection {
	seen := make(map[string]struct{})
	var out []*Connection
	add := func(c *Connection) {
		if _, dup := seen[c.id]; dup {
			return
		}
		seen[c.id] = struct{}{}
		out = append(out, c)
	}
	for _, key := range keys {
		for _, c := range d.rooms.Members(key) {
			add(c)
		}
	}
	for _, c := range extra {
		add(c)
	}
	return out
}

func (d *Dispatcher) dispatch(targets []*Connection, event string, payload any, opts []Option, kind, target string) (Report, *errs.CustomError) {
	var o dispatchOptions
	for _, opt := range opts {
		opt(&o)
	}

	rep := Report{EventID: randx.EventID()}
	if len(targets) == 0 {
		d.logger.Debug().Str("event", event).Str("event_id", rep.EventID).Str("kind", kind).Str("target", target).Msg("No connections to deliver to.")
		return rep, nil
	}

	frame, err := EncodeFrame(rep.EventID, event, payload)
	if err != nil {
		d.logger.Error().Err(err).Str("event", event).Msg("Failed to encode frame.")
		return Report{}, errs.NewError(errs.ErrPayloadEncoding)
	}

	ephemeral := IsEphemeral(event)
	for _, c := range targets {
		if c.id == o.except {
			continue
		}
		rep.Targeted++

		if c.Closed() || (ephemeral && !d.presence.IsOnline(c.UserID())) {
			rep.Skipped++
			continue
		}

		if err := c.deliver(frame); err != nil {
			rep.Failed++
			d.logger.Warn().Err(err).Str("connection_id", c.id).Str("event", event).Msg("Delivery failed.")
			continue
		}
		rep.Delivered++
	}

	metrics.Deliveries.WithLabelValues("delivered").Add(float64(rep.Delivered))
	metrics.Deliveries.WithLabelValues("failed").Add(float64(rep.Failed))
	metrics.Deliveries.WithLabelValues("skipped").Add(float64(rep.Skipped))

	d.logger.Debug().
		Str("event", event).
		Str("event_id", rep.EventID).
		Str("kind", kind).
		Str("target", target).
		Int("delivered", rep.Delivered).
		Int("failed", rep.Failed).
		Int("skipped", rep.Skipped).
		Msg("Dispatch complete.")
	return rep, nil
}
