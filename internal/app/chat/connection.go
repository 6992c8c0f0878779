package chat

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"hzrealtime/internal/app/user"
)

// Sink is the transport behind a Connection.
type Sink interface {
	// Send queues an encoded frame without blocking.
	Send(frame []byte) error

	// Close terminates the transport with a websocket close code.
	Close(code int, reason string)
}

// Pinger is implemented by sinks that can solicit a liveness reply.
type Pinger interface {
	Ping()
}

// ErrConnectionClosed is returned when delivering to a torn-down connection.
var ErrConnectionClosed = errors.New("connection closed")

// State is the liveness state of a connection.
type State int32

const (
	StateAlive State = iota
	StateSuspect
	StateReaped
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateSuspect:
		return "suspect"
	case StateReaped:
		return "reaped"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection is one client transport and the coordination state bound to it.
type Connection struct {
	id        string
	sink      Sink
	createdAt time.Time

	lastSeen atomic.Int64
	state    atomic.Int32

	// lifecycle serializes authenticate, join, leave and teardown for this connection.
	lifecycle sync.Mutex

	mu      sync.RWMutex
	session *user.Session
	rooms   map[RoomKey]struct{}
	closed  bool
}

func newConnection(id string, sink Sink, now time.Time) *Connection {
	c := &Connection{
		id:        id,
		sink:      sink,
		createdAt: now,
		rooms:     make(map[RoomKey]struct{}),
	}
	c.lastSeen.Store(now.UnixNano())
	c.state.Store(int32(StateAlive))
	return c
}

// ID returns the server-allocated connection id.
func (c *Connection) ID() string {
	return c.id
}

// Session returns the bound session, if any.
func (c *Connection) Session() (user.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return user.Session{}, false
	}
	return *c.session, true
}

// UserID returns the bound user id or "".
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.ID
}

// Authenticated reports whether a user is bound.
func (c *Connection) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

// Rooms returns the joined room keys, sorted.
func (c *Connection) Rooms() []RoomKey {
	c.mu.RLock()
	keys := make([]RoomKey, 0, len(c.rooms))
	for k := range c.rooms {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// InRoom reports whether the connection has joined key.
func (c *Connection) InRoom(key RoomKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[key]
	return ok
}

// Closed reports whether teardown has started.
func (c *Connection) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Touch records inbound activity and revives a suspect connection.
func (c *Connection) Touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
	c.state.CompareAndSwap(int32(StateSuspect), int32(StateAlive))
}

// LastSeen returns the time of the last inbound frame or pong.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// State returns the liveness state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// transition moves the state from one value to another and reports whether this caller won.
func (c *Connection) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// markClosed flips the closed flag and returns the session bound at that moment.
// It reports false if the connection was already closed.
func (c *Connection) markClosed() (*user.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	c.closed = true
	return c.session, true
}

// deliver hands an encoded frame to the sink.
func (c *Connection) deliver(frame []byte) error {
	if c.Closed() {
		return ErrConnectionClosed
	}
	return c.sink.Send(frame)
}
