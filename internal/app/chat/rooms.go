package chat

import (
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"hzrealtime/internal/app/user"
	"hzrealtime/internal/pkg/errs"
	"hzrealtime/internal/pkg/logx"
	"hzrealtime/internal/pkg/metrics"
)

// room is the member set of one room key. It is dropped from the index when it empties.
type room struct {
	mu      sync.Mutex
	key     RoomKey
	members map[string]*Connection

	// users counts member connections per user id.
	users map[string]int

	removed bool
}

// JoinResult reports what a Join changed.
type JoinResult struct {
	// Joined is false when the connection was already a member.
	Joined bool

	// UserEntered is set when this is the user's first connection in the room.
	UserEntered bool
}

// LeaveResult reports what a Leave changed.
type LeaveResult struct {
	Left       bool
	UserExited bool
}

// Departure is one room removed by LeaveAll.
type Departure struct {
	Key        RoomKey
	UserExited bool
}

// RoomIndex maps room keys to member connections. Membership is kept symmetric with Connection.rooms.
//
// Lock order: Connection.mu, then room.mu, then RoomIndex.mu.
type RoomIndex struct {
	mu     sync.RWMutex
	rooms  map[RoomKey]*room
	logger zerolog.Logger
}

// NewRoomIndex creates an empty index.
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		rooms:  make(map[RoomKey]*room),
		logger: logx.Component("rooms"),
	}
}

// lockRoom returns the room with its mutex held, or nil when absent and create is false.
func (idx *RoomIndex) lockRoom(key RoomKey, create bool) *room {
	for {
		idx.mu.RLock()
		rm := idx.rooms[key]
		idx.mu.RUnlock()

		if rm == nil {
			if !create {
				return nil
			}
			idx.mu.Lock()
			rm = idx.rooms[key]
			if rm == nil {
				rm = &room{
					key:     key,
					members: make(map[string]*Connection),
					users:   make(map[string]int),
				}
				idx.rooms[key] = rm
				metrics.RoomsActive.Set(float64(len(idx.rooms)))
			}
			idx.mu.Unlock()
		}

		rm.mu.Lock()
		if rm.removed {
			rm.mu.Unlock()
			continue
		}
		return rm
	}
}

// dropIfEmpty removes a locked, empty room from the index.
func (idx *RoomIndex) dropIfEmpty(rm *room) {
	if len(rm.members) > 0 {
		return
	}
	rm.removed = true
	idx.mu.Lock()
	if idx.rooms[rm.key] == rm {
		delete(idx.rooms, rm.key)
	}
	metrics.RoomsActive.Set(float64(len(idx.rooms)))
	idx.mu.Unlock()
}

// removeMember drops c from a locked room and reports whether its user left the room entirely.
func (rm *room) removeMember(c *Connection, userID string) bool {
	if _, ok := rm.members[c.id]; !ok {
		return false
	}
	delete(rm.members, c.id)
	rm.users[userID]--
	if rm.users[userID] <= 0 {
		delete(rm.users, userID)
		return true
	}
	return false
}

// Join subscribes an authenticated connection to a room. Joining twice is a no-op.
func (idx *RoomIndex) Join(c *Connection, key RoomKey) (JoinResult, *errs.CustomError) {
	if !key.Valid() {
		return JoinResult{}, errs.NewError(errs.ErrInvalidRoomKey)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return JoinResult{}, errs.NewError(errs.ErrConnectionNotFound)
	}
	if c.session == nil {
		return JoinResult{}, errs.NewError(errs.ErrNotAuthenticated)
	}
	if _, ok := c.rooms[key]; ok {
		return JoinResult{}, nil
	}

	userID := c.session.ID
	rm := idx.lockRoom(key, true)
	rm.members[c.id] = c
	rm.users[userID]++
	entered := rm.users[userID] == 1
	rm.mu.Unlock()

	c.rooms[key] = struct{}{}

	idx.logger.Debug().Str("connection_id", c.id).Str("room", string(key)).Bool("user_entered", entered).Msg("Joined room.")
	return JoinResult{Joined: true, UserEntered: entered}, nil
}

// Leave unsubscribes a connection. Leaving a room that was never joined is a no-op.
func (idx *RoomIndex) Leave(c *Connection, key RoomKey) LeaveResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.rooms[key]; !ok {
		return LeaveResult{}
	}
	delete(c.rooms, key)

	exited := false
	if rm := idx.lockRoom(key, false); rm != nil {
		exited = rm.removeMember(c, c.session.ID)
		idx.dropIfEmpty(rm)
		rm.mu.Unlock()
	}

	idx.logger.Debug().Str("connection_id", c.id).Str("room", string(key)).Msg("Left room.")
	return LeaveResult{Left: true, UserExited: exited}
}

// LeaveAll removes the connection from every room it joined.
func (idx *RoomIndex) LeaveAll(c *Connection) []Departure {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.rooms) == 0 {
		return nil
	}

	keys := make([]RoomKey, 0, len(c.rooms))
	for k := range c.rooms {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	userID := ""
	if c.session != nil {
		userID = c.session.ID
	}

	out := make([]Departure, 0, len(keys))
	for _, key := range keys {
		delete(c.rooms, key)
		d := Departure{Key: key}
		if rm := idx.lockRoom(key, false); rm != nil {
			d.UserExited = rm.removeMember(c, userID)
			idx.dropIfEmpty(rm)
			rm.mu.Unlock()
		}
		out = append(out, d)
	}
	return out
}

// Members returns a snapshot of the room's connections ordered by id.
func (idx *RoomIndex) Members(key RoomKey) []*Connection {
	rm := idx.lockRoom(key, false)
	if rm == nil {
		return nil
	}
	out := make([]*Connection, 0, len(rm.members))
	for _, c := range rm.members {
		out = append(out, c)
	}
	rm.mu.Unlock()

	sortConnections(out)
	return out
}

// MembersOf returns the member connection ids of a room, sorted. Unknown rooms are empty.
func (idx *RoomIndex) MembersOf(key RoomKey) []string {
	members := idx.Members(key)
	ids := make([]string, len(members))
	for i, c := range members {
		ids[i] = c.id
	}
	return ids
}

// Participants returns the distinct users present in a room ordered by user id.
func (idx *RoomIndex) Participants(key RoomKey) []user.User {
	members := idx.Members(key)
	seen := make(map[string]struct{}, len(members))
	out := make([]user.User, 0, len(members))
	for _, c := range members {
		s, ok := c.Session()
		if !ok {
			continue
		}
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s.User)
	}
	slices.SortFunc(out, func(a, b user.User) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Count returns the number of non-empty rooms.
func (idx *RoomIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.rooms)
}
