/*
Package presence tracks per-user online state across a user's concurrent connections.

Each user has an entry guarded by its own mutex, so updates for different users never
contend. The entry exists only while the user has at least one open connection.
*/
package presence

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hzrealtime/internal/pkg/errs"
	"hzrealtime/internal/pkg/logx"
	"hzrealtime/internal/pkg/metrics"
)

type entry struct {
	mu       sync.Mutex
	rec      Record
	audience map[string]struct{}

	// removed is set once the entry is deleted from the table; holders must re-resolve.
	removed bool
}

func (e *entry) audienceKeys() []string {
	keys := make([]string, 0, len(e.audience))
	for k := range e.audience {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Tracker holds presence records for users with open connections.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]*entry

	now    func() time.Time
	logger zerolog.Logger
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		users:  make(map[string]*entry),
		now:    time.Now,
		logger: logx.Component("presence"),
	}
}

// lock returns the user's entry with its mutex held, or nil when absent and create is false.
func (t *Tracker) lock(userID string, create bool) *entry {
	for {
		t.mu.RLock()
		e := t.users[userID]
		t.mu.RUnlock()

		if e == nil {
			if !create {
				return nil
			}
			t.mu.Lock()
			e = t.users[userID]
			if e == nil {
				e = &entry{
					rec:      offlineRecord(userID),
					audience: make(map[string]struct{}),
				}
				t.users[userID] = e
			}
			t.mu.Unlock()
		}

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		return e
	}
}

// remove deletes a locked entry from the table.
func (t *Tracker) remove(userID string, e *entry) {
	e.removed = true
	t.mu.Lock()
	if t.users[userID] == e {
		delete(t.users, userID)
	}
	t.mu.Unlock()
}

func snapshot(r Record) Record {
	r.Activity = cloneActivity(r.Activity)
	return r
}

// Opened counts a new connection for the user. The first connection sets the user online with no activity.
func (t *Tracker) Opened(userID string) Change {
	e := t.lock(userID, true)
	defer e.mu.Unlock()

	ch := Change{Previous: snapshot(e.rec)}

	e.rec.Connections++
	if e.rec.Connections == 1 {
		e.rec.Status = StatusOnline
		e.rec.Activity = nil
		e.rec.UpdatedAt = t.now()
		ch.WentOnline = true
		metrics.PresenceTransitions.WithLabelValues(string(StatusOnline)).Inc()
		t.logger.Debug().Str("user_id", userID).Msg("User went online.")
	}

	ch.Current = snapshot(e.rec)
	ch.Audience = e.audienceKeys()
	return ch
}

// Closed uncounts a connection. At zero the user goes offline and the entry is deleted.
func (t *Tracker) Closed(userID string) Change {
	e := t.lock(userID, false)
	if e == nil {
		t.logger.Debug().Str("user_id", userID).Msg("Close for user without presence entry ignored.")
		rec := offlineRecord(userID)
		return Change{Previous: rec, Current: rec}
	}
	defer e.mu.Unlock()

	ch := Change{Previous: snapshot(e.rec)}

	e.rec.Connections--
	if e.rec.Connections <= 0 {
		e.rec.Connections = 0
		e.rec.Status = StatusOffline
		e.rec.Activity = nil
		e.rec.UpdatedAt = t.now()
		ch.WentOffline = true
		ch.Audience = e.audienceKeys()
		t.remove(userID, e)
		metrics.PresenceTransitions.WithLabelValues(string(StatusOffline)).Inc()
		t.logger.Debug().Str("user_id", userID).Int("audience", len(ch.Audience)).Msg("User went offline.")
	} else {
		ch.Audience = e.audienceKeys()
	}

	ch.Current = snapshot(e.rec)
	return ch
}

// Set applies an explicit status and activity update.
//
// A nil activity clears the current one, except that an online update never clears
// ActivityInVoiceCall. An explicit activity, including "" which clears, always overwrites.
func (t *Tracker) Set(userID string, status Status, activity *string) (Change, *errs.CustomError) {
	if _, ok := ParseStatus(string(status)); !ok || status == StatusOffline {
		return Change{}, errs.NewError(errs.ErrInvalidStatus)
	}

	e := t.lock(userID, false)
	if e == nil {
		return Change{}, errs.NewError(errs.ErrUserOffline)
	}
	defer e.mu.Unlock()

	ch := Change{Previous: snapshot(e.rec)}

	switch {
	case activity == nil && status == StatusOnline && e.rec.InVoiceCall():
		// sticky: keep the voice activity
	case activity == nil || *activity == "":
		e.rec.Activity = nil
	default:
		e.rec.Activity = cloneActivity(activity)
	}
	e.rec.Status = status
	e.rec.UpdatedAt = t.now()

	ch.Current = snapshot(e.rec)
	ch.Audience = e.audienceKeys()

	if ch.Previous.Status != ch.Current.Status {
		metrics.PresenceTransitions.WithLabelValues(string(status)).Inc()
	}
	return ch, nil
}

// SyncVoice reconciles the voice activity with inVoice, which is evaluated under the user's lock.
// True sets ActivityInVoiceCall and keeps the status; false clears the activity only if it is still
// ActivityInVoiceCall. Callers mutate room membership before calling, so the last caller sees the
// final membership. A user without an entry gets an unchanged Change.
func (t *Tracker) SyncVoice(userID string, inVoice func() bool) Change {
	e := t.lock(userID, false)
	if e == nil {
		rec := offlineRecord(userID)
		return Change{Previous: rec, Current: rec}
	}
	defer e.mu.Unlock()

	ch := Change{Previous: snapshot(e.rec)}

	switch active := inVoice(); {
	case active && !e.rec.InVoiceCall():
		e.rec.Activity = Activity(ActivityInVoiceCall)
		e.rec.UpdatedAt = t.now()
	case !active && e.rec.InVoiceCall():
		e.rec.Activity = nil
		e.rec.UpdatedAt = t.now()
	}

	ch.Current = snapshot(e.rec)
	ch.Audience = e.audienceKeys()
	return ch
}

// Announce adds a room to the user's audience. It reports false when the user has no entry.
func (t *Tracker) Announce(userID, roomKey string) bool {
	e := t.lock(userID, false)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()

	e.audience[roomKey] = struct{}{}
	return true
}

// Retract removes a room from the user's audience.
func (t *Tracker) Retract(userID, roomKey string) {
	e := t.lock(userID, false)
	if e == nil {
		return
	}
	defer e.mu.Unlock()

	delete(e.audience, roomKey)
}

// Audience returns the sorted room keys the user is announced in.
func (t *Tracker) Audience(userID string) []string {
	e := t.lock(userID, false)
	if e == nil {
		return nil
	}
	defer e.mu.Unlock()

	return e.audienceKeys()
}

// Get returns the user's record. Users without an entry are reported offline.
func (t *Tracker) Get(userID string) Record {
	e := t.lock(userID, false)
	if e == nil {
		return offlineRecord(userID)
	}
	defer e.mu.Unlock()

	return snapshot(e.rec)
}

// IsOnline reports whether the user has at least one open connection.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	_, ok := t.users[userID]
	t.mu.RUnlock()
	return ok
}

// Online returns every non-offline record, sorted by user id.
func (t *Tracker) Online() []Record {
	t.mu.RLock()
	entries := make([]*entry, 0, len(t.users))
	for _, e := range t.users {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed && e.rec.Status != StatusOffline {
			out = append(out, snapshot(e.rec))
		}
		e.mu.Unlock()
	}

	slices.SortFunc(out, func(a, b Record) int {
		return strings.Compare(a.UserID, b.UserID)
	})
	return out
}

// Count returns the number of users with an entry.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}
