package chat

import (
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"hzrealtime/internal/app/presence"
	"hzrealtime/internal/app/user"
)

// fakeSink captures frames delivered to a connection.
type fakeSink struct {
	mu     sync.Mutex
	frames []Frame
	raw    [][]byte
	fail   bool
	closed bool
	code   int
	pings  int
}

func (f *fakeSink) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("transport broken")
	}
	var fr Frame
	if err := json.Unmarshal(frame, &fr); err != nil {
		return err
	}
	f.frames = append(f.frames, fr)
	f.raw = append(f.raw, frame)
	return nil
}

func (f *fakeSink) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
}

func (f *fakeSink) Ping() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
}

func (f *fakeSink) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *fakeSink) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, fr := range f.frames {
		out[i] = fr.Event
	}
	return out
}

func (f *fakeSink) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, fr := range f.frames {
		out[i] = fr.ID
	}
	return out
}

func (f *fakeSink) count(event string) int {
	n := 0
	for _, e := range f.events() {
		if e == event {
			n++
		}
	}
	return n
}

// last decodes the data of the most recent frame with the given event into dst.
func (f *fakeSink) last(t *testing.T, event string, dst any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		if f.frames[i].Event != event {
			continue
		}
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(f.raw[i], &env))
		require.NoError(t, json.Unmarshal(env.Data, dst))
		return
	}
	t.Fatalf("no %s frame captured", event)
}

func (f *fakeSink) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
	f.raw = nil
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(HubConfig{}, presence.NewTracker())
}

func sessionFor(userID string) user.Session {
	return user.NewSession(userID, "name-"+userID, "sess-"+userID)
}

// connect registers and authenticates a connection for userID.
func connect(t *testing.T, h *Hub, userID string) (*Connection, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	c, err := h.Connect(sink)
	require.Nil(t, err)
	_, err = h.Authenticate(c, sessionFor(userID))
	require.Nil(t, err)
	return c, sink
}

func join(t *testing.T, h *Hub, c *Connection, key string) {
	t.Helper()
	_, err := h.Join(c, RoomKey(key))
	require.Nil(t, err)
}
