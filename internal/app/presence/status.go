package presence

import (
	"time"
)

// Status is a user's presence state as shown to other users.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// ActivityInVoiceCall is set while the user is in a voice room and survives generic online updates.
const ActivityInVoiceCall = "In Voice Call"

// ParseStatus maps a wire value to a Status.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusOnline, StatusAway, StatusDND, StatusOffline:
		return Status(s), true
	}
	return "", false
}

// Record is the presence state of one user.
type Record struct {
	UserID      string    `json:"user_id"`
	Status      Status    `json:"status"`
	Activity    *string   `json:"activity"`
	UpdatedAt   time.Time `json:"updated_at"`
	Connections int       `json:"connections"`
}

// ActivityValue returns the activity or "" when none is set.
func (r Record) ActivityValue() string {
	if r.Activity == nil {
		return ""
	}
	return *r.Activity
}

// InVoiceCall reports whether the sticky voice activity is set.
func (r Record) InVoiceCall() bool {
	return r.Activity != nil && *r.Activity == ActivityInVoiceCall
}

// Change describes a presence mutation.
type Change struct {
	Previous Record
	Current  Record

	// WentOnline is set when the user's first connection opened.
	WentOnline bool

	// WentOffline is set when the user's last connection closed.
	WentOffline bool

	// Audience lists the room keys the user was announced in during this online session.
	Audience []string
}

// Changed reports whether status or activity differ between Previous and Current.
func (c Change) Changed() bool {
	if c.Previous.Status != c.Current.Status {
		return true
	}
	return !sameActivity(c.Previous.Activity, c.Current.Activity)
}

func sameActivity(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneActivity(a *string) *string {
	if a == nil {
		return nil
	}
	v := *a
	return &v
}

// offlineRecord is what Get reports for users with no entry.
func offlineRecord(userID string) Record {
	return Record{UserID: userID, Status: StatusOffline}
}

// Activity returns a pointer to s, for call sites that set an explicit activity.
func Activity(s string) *string {
	return &s
}
