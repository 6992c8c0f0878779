package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzrealtime/internal/app/chat"
	"hzrealtime/internal/app/presence"
	"hzrealtime/internal/app/user"
	"hzrealtime/internal/pkg/errs"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []chat.Frame
}

func (s *recordingSink) Send(frame []byte) error {
	var fr chat.Frame
	if err := json.Unmarshal(frame, &fr); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, fr)
	return nil
}

func (s *recordingSink) Close(int, string) {}

func (s *recordingSink) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, fr := range s.frames {
		if fr.Event == event {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T) (*Service, *chat.Hub) {
	t.Helper()
	hub := chat.NewHub(chat.HubConfig{}, presence.NewTracker())
	return NewService(hub), hub
}

func connectUser(t *testing.T, hub *chat.Hub, userID string, rooms ...string) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	c, err := hub.Connect(sink)
	require.Nil(t, err)
	_, err = hub.Authenticate(c, user.NewSession(userID, "user"+userID, ""))
	require.Nil(t, err)
	for _, r := range rooms {
		_, err = hub.Join(c, chat.RoomKey(r))
		require.Nil(t, err)
	}
	return sink
}

func TestServiceNotifyUser(t *testing.T) {
	svc, hub := newTestService(t)
	sink := connectUser(t, hub, "42")

	res, err := svc.NotifyUser(NotifyUserRequest{UserID: "42", Event: "friend-request", Payload: json.RawMessage(`{"from":7}`)})
	require.Nil(t, err)
	assert.NotEmpty(t, res.EventID)
	assert.Equal(t, DispatchResult{EventID: res.EventID, Event: "friend-request", Target: "42", Delivered: 1}, res)
	assert.Equal(t, 1, sink.count("friend-request"))
}

func TestServiceBroadcastRoom(t *testing.T) {
	svc, hub := newTestService(t)
	member := connectUser(t, hub, "1", "channel-7")
	other := connectUser(t, hub, "2")

	res, err := svc.BroadcastRoom(BroadcastRoomRequest{RoomKey: "channel-7", Event: "message-received", Payload: json.RawMessage(`{"id":101,"text":"hi"}`)})
	require.Nil(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, member.count("message-received"))
	assert.Zero(t, other.count("message-received"))

	res, err = svc.BroadcastRoom(BroadcastRoomRequest{RoomKey: "channel-8", Event: "message-received"})
	require.Nil(t, err)
	assert.Zero(t, res.Delivered)

	_, err = svc.BroadcastRoom(BroadcastRoomRequest{RoomKey: "lobby", Event: "x"})
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrInvalidRoomKey, err.Code)
}

func TestServiceBroadcast(t *testing.T) {
	svc, hub := newTestService(t)
	a := connectUser(t, hub, "1")
	b := connectUser(t, hub, "2")

	res, err := svc.Broadcast(BroadcastRequest{Event: "announcement"})
	require.Nil(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, a.count("announcement"))
	assert.Equal(t, 1, b.count("announcement"))
}

func TestServicePresenceAndOnlineUsers(t *testing.T) {
	svc, hub := newTestService(t)
	connectUser(t, hub, "b")
	connectUser(t, hub, "a")

	rec, err := svc.Presence(context.Background(), "a")
	require.Nil(t, err)
	assert.Equal(t, presence.StatusOnline, rec.Status)

	rec, err = svc.Presence(context.Background(), "nobody")
	require.Nil(t, err)
	assert.Equal(t, presence.StatusOffline, rec.Status)

	_, err = svc.Presence(context.Background(), "")
	require.NotNil(t, err)

	online := svc.OnlineUsers()
	require.Equal(t, 2, online.Count)
	assert.Equal(t, "a", online.Users[0].UserID)
	assert.Equal(t, "b", online.Users[1].UserID)
}

func TestServiceHealth(t *testing.T) {
	svc, hub := newTestService(t)
	connectUser(t, hub, "1", "server-1")

	h := svc.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Connections)
	assert.Equal(t, 1, h.Authenticated)
	assert.Equal(t, 1, h.Rooms)
	assert.Equal(t, 1, h.OnlineUsers)
	assert.GreaterOrEqual(t, h.UptimeSeconds, int64(0))
}

type fakeLastKnown struct {
	mu    sync.Mutex
	rec   presence.Record
	err   error
	calls []string
}

func (f *fakeLastKnown) GetPresence(_ context.Context, userID string) (presence.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	return f.rec, f.err
}

func TestServicePresenceLastKnown(t *testing.T) {
	svc, hub := newTestService(t)
	connectUser(t, hub, "a")

	seen := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeLastKnown{rec: presence.Record{UserID: "gone", Status: presence.StatusOnline, UpdatedAt: seen}}
	svc.SetLastKnown(store)

	rec, err := svc.Presence(context.Background(), "a")
	require.Nil(t, err)
	assert.Equal(t, presence.StatusOnline, rec.Status)
	assert.Empty(t, store.calls, "live users never hit the store")

	rec, err = svc.Presence(context.Background(), "gone")
	require.Nil(t, err)
	assert.Equal(t, presence.StatusOffline, rec.Status, "a lagging row cannot resurrect a user")
	assert.Equal(t, seen, rec.UpdatedAt)
	assert.Zero(t, rec.Connections)
	assert.Equal(t, []string{"gone"}, store.calls)

	store.err = errors.New("db down")
	rec, err = svc.Presence(context.Background(), "gone")
	require.Nil(t, err)
	assert.Equal(t, presence.StatusOffline, rec.Status)
	assert.True(t, rec.UpdatedAt.IsZero())
}
