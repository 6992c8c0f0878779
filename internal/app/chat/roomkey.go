package chat

import (
	"regexp"
	"strings"

	"hzrealtime/internal/pkg/errs"
)

// RoomKind is the prefix of a room key.
type RoomKind string

const (
	KindServer  RoomKind = "server"
	KindChannel RoomKind = "channel"
	KindVoice   RoomKind = "voice"
	KindDM      RoomKind = "dm"
)

// RoomKey identifies a room as "<kind>-<id>", e.g. "channel-7" or "voice-12".
type RoomKey string

var roomKeyPattern = regexp.MustCompile(`^(server|channel|voice|dm)-([A-Za-z0-9_]{1,64})$`)

// ParseRoomKey validates s and returns it as a RoomKey.
func ParseRoomKey(s string) (RoomKey, *errs.CustomError) {
	if !roomKeyPattern.MatchString(s) {
		return "", errs.NewError(errs.ErrInvalidRoomKey)
	}
	return RoomKey(s), nil
}

// Valid reports whether k is well formed.
func (k RoomKey) Valid() bool {
	return roomKeyPattern.MatchString(string(k))
}

// Kind returns the key's kind prefix.
func (k RoomKey) Kind() RoomKind {
	kind, _, _ := strings.Cut(string(k), "-")
	return RoomKind(kind)
}

// ID returns the part after the kind.
func (k RoomKey) ID() string {
	_, id, _ := strings.Cut(string(k), "-")
	return id
}

// IsVoice reports whether the room tracks voice participants.
func (k RoomKey) IsVoice() bool {
	return k.Kind() == KindVoice
}

func (k RoomKey) String() string {
	return string(k)
}
