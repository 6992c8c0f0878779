package chat

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hzrealtime/internal/app/user"
	"hzrealtime/internal/pkg/errs"
	"hzrealtime/internal/pkg/logx"
	"hzrealtime/internal/pkg/metrics"
	"hzrealtime/internal/pkg/randx"
)

// Registry is the authoritative table of live connections.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[string]map[string]*Connection

	// maxConns bounds the table; zero means unlimited.
	maxConns int

	now    func() time.Time
	logger zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(maxConns int) *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		byUser:   make(map[string]map[string]*Connection),
		maxConns: maxConns,
		now:      time.Now,
		logger:   logx.Component("registry"),
	}
}

// Register allocates an id for sink and adds an anonymous connection.
func (r *Registry) Register(sink Sink) (*Connection, *errs.CustomError) {
	id, err := randx.ConnectionID()
	if err != nil {
		return nil, errs.NewError(errs.ErrUnknown, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConns > 0 && len(r.conns) >= r.maxConns {
		r.logger.Warn().Int("max_connections", r.maxConns).Msg("Connection refused at capacity.")
		return nil, errs.NewError(errs.ErrCapacityExceeded)
	}

	c := newConnection(id, sink, r.now())
	r.conns[id] = c
	metrics.ConnectionsActive.Set(float64(len(r.conns)))

	r.logger.Debug().Str("connection_id", id).Int("total", len(r.conns)).Msg("Connection registered.")
	return c, nil
}

// Full reports whether Register would refuse a new connection.
func (r *Registry) Full() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxConns > 0 && len(r.conns) >= r.maxConns
}

// Authenticate binds a session to the connection. It reports true when the connection was newly bound.
// Re-authenticating as the same user refreshes the session; a different user is refused.
func (r *Registry) Authenticate(connID string, s user.Session) (bool, *errs.CustomError) {
	if strings.TrimSpace(s.ID) == "" {
		return false, errs.NewError(errs.ErrHandshakeInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return false, errs.NewError(errs.ErrConnectionNotFound)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, errs.NewError(errs.ErrConnectionNotFound)
	}

	if c.session != nil {
		if c.session.ID != s.ID {
			r.logger.Warn().
				Str("connection_id", connID).
				Str("bound_user", c.session.ID).
				Str("requested_user", s.ID).
				Msg("Rebind to a different user refused.")
			return false, errs.NewError(errs.ErrAlreadyAuthenticated)
		}
		c.session = &s
		return false, nil
	}

	c.session = &s
	set := r.byUser[s.ID]
	if set == nil {
		set = make(map[string]*Connection)
		r.byUser[s.ID] = set
	}
	set[connID] = c
	metrics.ConnectionsAuthenticated.Inc()
	return true, nil
}

// Get returns the connection with the given id.
func (r *Registry) Get(connID string) (*Connection, *errs.CustomError) {
	if !randx.IsValidConnectionID(connID) {
		return nil, errs.NewError(errs.ErrConnectionNotFound)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil, errs.NewError(errs.ErrConnectionNotFound)
	}
	return c, nil
}

// ConnectionsOf returns the user's live connections ordered by id.
func (r *Registry) ConnectionsOf(userID string) []*Connection {
	r.mu.RLock()
	set := r.byUser[userID]
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sortConnections(out)
	return out
}

// All returns every registered connection ordered by id.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sortConnections(out)
	return out
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// AuthenticatedCount returns the number of connections with a bound user.
func (r *Registry) AuthenticatedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.byUser {
		n += len(set)
	}
	return n
}

// remove deletes the connection and its reverse-index entry.
func (r *Registry) remove(c *Connection, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[c.id]; !ok || cur != c {
		return
	}
	delete(r.conns, c.id)

	if userID != "" {
		if set := r.byUser[userID]; set != nil {
			if _, bound := set[c.id]; bound {
				delete(set, c.id)
				metrics.ConnectionsAuthenticated.Dec()
			}
			if len(set) == 0 {
				delete(r.byUser, userID)
			}
		}
	}
	metrics.ConnectionsActive.Set(float64(len(r.conns)))
}

func sortConnections(cs []*Connection) {
	slices.SortFunc(cs, func(a, b *Connection) int {
		return strings.Compare(a.id, b.id)
	})
}
