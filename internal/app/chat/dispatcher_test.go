package chat

import (
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzrealtime/internal/pkg/errs"
)

func TestBroadcastRoomWithNoMembers(t *testing.T) {
	h := newTestHub(t)

	rep, err := h.Dispatcher().BroadcastRoom("channel-7", "message-received", map[string]any{"id": 101, "text": "hi"})
	require.Nil(t, err)
	assert.NotEmpty(t, rep.EventID)
	assert.Equal(t, Report{EventID: rep.EventID}, rep)
}

func TestBroadcastRoomScopesToMembers(t *testing.T) {
	h := newTestHub(t)
	member, memberSink := connect(t, h, "a")
	_, outsiderSink := connect(t, h, "b")
	join(t, h, member, "channel-7")
	memberSink.reset()

	payload := json.RawMessage(`{"id":101,"text":"hi"}`)
	rep, err := h.Dispatcher().BroadcastRoom("channel-7", "message-received", payload)
	require.Nil(t, err)
	assert.Equal(t, 1, rep.Delivered)

	assert.Equal(t, []string{"message-received"}, memberSink.events())
	assert.Empty(t, outsiderSink.events())

	var got map[string]any
	memberSink.last(t, "message-received", &got)
	assert.Equal(t, "hi", got["text"])
}

func TestBroadcastRoomRejectsInvalidKey(t *testing.T) {
	h := newTestHub(t)
	_, err := h.Dispatcher().BroadcastRoom("bogus", "x", nil)
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrInvalidRoomKey, err.Code)
}

func TestFailedDeliveryDoesNotStopFanOut(t *testing.T) {
	h := newTestHub(t)
	a, aSink := connect(t, h, "a")
	b, bSink := connect(t, h, "b")
	c, cSink := connect(t, h, "c")
	for _, conn := range []*Connection{a, b, c} {
		join(t, h, conn, "channel-1")
	}
	aSink.reset()
	bSink.reset()
	cSink.reset()
	bSink.setFail(true)

	rep, err := h.Dispatcher().BroadcastRoom("channel-1", "message-received", "x")
	require.Nil(t, err)
	assert.Equal(t, Report{EventID: rep.EventID, Targeted: 3, Delivered: 2, Failed: 1}, rep)
	assert.Equal(t, 1, aSink.count("message-received"))
	assert.Equal(t, 1, cSink.count("message-received"))
}

func TestExceptSkipsSender(t *testing.T) {
	h := newTestHub(t)
	a, aSink := connect(t, h, "a")
	b, bSink := connect(t, h, "b")
	join(t, h, a, "channel-1")
	join(t, h, b, "channel-1")
	aSink.reset()
	bSink.reset()

	rep, err := h.Dispatcher().BroadcastRoom("channel-1", EventTypingStart, "x", Except(a.ID()))
	require.Nil(t, err)
	assert.Equal(t, 1, rep.Targeted)
	assert.Empty(t, aSink.events())
	assert.Equal(t, 1, bSink.count(EventTypingStart))
}

func TestNotifyUserReachesEveryDevice(t *testing.T) {
	h := newTestHub(t)
	_, tab1 := connect(t, h, "a")
	_, tab2 := connect(t, h, "a")
	_, other := connect(t, h, "b")

	rep, err := h.Dispatcher().NotifyUser("a", "friend-request", map[string]string{"from": "b"})
	require.Nil(t, err)
	assert.Equal(t, 2, rep.Delivered)
	assert.Equal(t, 1, tab1.count("friend-request"))
	assert.Equal(t, 1, tab2.count("friend-request"))
	assert.Zero(t, other.count("friend-request"))

	rep, err = h.Dispatcher().NotifyUser("ghost", "friend-request", nil)
	require.Nil(t, err)
	assert.Zero(t, rep.Targeted)
}

func TestBroadcastAllSkipsAnonymous(t *testing.T) {
	h := newTestHub(t)
	_, authed := connect(t, h, "a")
	anonSink := &fakeSink{}
	_, err := h.Connect(anonSink)
	require.Nil(t, err)

	rep, err := h.Dispatcher().BroadcastAll("announcement", "maintenance")
	require.Nil(t, err)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, 1, authed.count("announcement"))
	assert.Empty(t, anonSink.events())
}

func TestBroadcastRoomsDeduplicates(t *testing.T) {
	h := newTestHub(t)
	c, sink := connect(t, h, "a")
	join(t, h, c, "server-1")
	join(t, h, c, "channel-1")
	sink.reset()

	rep, err := h.Dispatcher().BroadcastRooms([]RoomKey{"server-1", "channel-1"}, "ping", nil)
	require.Nil(t, err)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, 1, sink.count("ping"))
}

func TestEphemeralSkippedForOfflineUser(t *testing.T) {
	h := newTestHub(t)
	a, _ := connect(t, h, "a")
	join(t, h, a, "channel-1")

	// Drop the presence entry without tearing the connection down, as happens in the window
	// between a user's last-connection close and its registry removal.
	h.Presence().Closed("a")

	rep, err := h.Dispatcher().BroadcastRoom("channel-1", EventTypingStart, "x")
	require.Nil(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, rep.Delivered)

	rep, err = h.Dispatcher().BroadcastRoom("channel-1", "message-received", "x")
	require.Nil(t, err)
	assert.Equal(t, 1, rep.Delivered)
}

type badPayload struct{}

func (badPayload) MarshalJSON() ([]byte, error) {
	return nil, errors.New("cannot encode")
}

func TestUnencodablePayload(t *testing.T) {
	h := newTestHub(t)
	c, _ := connect(t, h, "a")
	join(t, h, c, "channel-1")

	_, err := h.Dispatcher().BroadcastRoom("channel-1", "x", badPayload{})
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrPayloadEncoding, err.Code)
}

// blockingSink stalls the first delivery until released, so the test can join a room mid-dispatch.
type blockingSink struct {
	fakeSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSink) Send(frame []byte) error {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.fakeSink.Send(frame)
}

func TestLateJoinerMissesInFlightDispatch(t *testing.T) {
	h := newTestHub(t)

	slow := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	first, err := h.Connect(slow)
	require.Nil(t, err)
	_, err = h.Authenticate(first, sessionFor("a"))
	require.Nil(t, err)
	_, err = h.Rooms().Join(first, "channel-1")
	require.Nil(t, err)

	done := make(chan Report, 1)
	go func() {
		rep, _ := h.Dispatcher().BroadcastRoom("channel-1", "message-received", "m1")
		done <- rep
	}()

	<-slow.entered
	late, lateSink := connect(t, h, "b")
	_, err = h.Rooms().Join(late, "channel-1")
	require.Nil(t, err)
	close(slow.release)

	rep := <-done
	assert.Equal(t, 1, rep.Targeted)
	assert.Zero(t, lateSink.count("message-received"))
}

func TestDispatchStampsOneEventID(t *testing.T) {
	h := newTestHub(t)
	a, aSink := connect(t, h, "a")
	b, bSink := connect(t, h, "b")
	join(t, h, a, "channel-1")
	join(t, h, b, "channel-1")
	aSink.reset()
	bSink.reset()

	first, err := h.Dispatcher().BroadcastRoom("channel-1", "message-received", "x")
	require.Nil(t, err)
	second, err := h.Dispatcher().BroadcastRoom("channel-1", "message-received", "y")
	require.Nil(t, err)
	assert.NotEqual(t, first.EventID, second.EventID)

	for _, sink := range []*fakeSink{aSink, bSink} {
		ids := sink.ids()
		require.Len(t, ids, 2)
		assert.Equal(t, []string{first.EventID, second.EventID}, ids)
	}
}
