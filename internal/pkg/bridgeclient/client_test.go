package bridgeclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, _ := json.Marshal(map[string]any{"code": code, "message": "m", "data": data})
	_, _ = w.Write(body)
}

func TestNotifyUserSendsRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/notify-user", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		writeEnvelope(w, http.StatusOK, 0, Result{Event: "friend-request", Target: "42", Delivered: 2})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/", ServiceToken: "tok"})
	require.NoError(t, err)

	res, err := c.NotifyUser(context.Background(), "42", "friend-request", map[string]int{"from": 7})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, "42", got["user_id"])
	assert.Equal(t, "friend-request", got["event"])
}

func TestPresenceAndHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/presence/42":
			writeEnvelope(w, http.StatusOK, 0, map[string]any{"user_id": "42", "status": "away", "activity": "lunch"})
		case "/health":
			writeEnvelope(w, http.StatusOK, 0, map[string]any{"status": "ok", "connections": 3})
		case "/online-users":
			writeEnvelope(w, http.StatusOK, 0, map[string]any{"count": 1, "users": []map[string]any{{"user_id": "42", "status": "away"}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	p, err := c.Presence(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "away", p.Status)
	require.NotNil(t, p.Activity)
	assert.Equal(t, "lunch", *p.Activity)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Connections)

	o, err := c.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, o.Count)
}

func TestAPIErrorDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusBadRequest, 2201, nil)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, FailureThreshold: 2})
	require.NoError(t, err)

	for range 5 {
		_, err = c.BroadcastRoom(context.Background(), "lobby", "x", nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 2201, apiErr.Code)
		assert.False(t, errors.Is(err, ErrDegraded))
	}
	assert.Equal(t, gobreaker.StateClosed, c.State())
}

func TestServerErrorsOpenBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, FailureThreshold: 2, OpenTimeout: time.Minute})
	require.NoError(t, err)

	for range 2 {
		_, err = c.Broadcast(context.Background(), "x", nil)
		assert.ErrorIs(t, err, ErrDegraded)
	}
	assert.Equal(t, gobreaker.StateOpen, c.State())

	_, err = c.Broadcast(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrDegraded)
	assert.Equal(t, int32(2), hits.Load())
}

func TestTimeoutIsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Health(context.Background())
	assert.ErrorIs(t, err, ErrDegraded)
}

func TestAfterCommitSucceedsWhenBridgeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url})
	require.NoError(t, err)

	committed := false
	var notifyErr error
	err = AfterCommit(context.Background(),
		func(context.Context) error {
			committed = true
			return nil
		},
		func(ctx context.Context) error {
			_, notifyErr = c.BroadcastRoom(ctx, "channel-7", "message-received", map[string]any{"id": 101, "text": "hi"})
			return notifyErr
		},
	)

	require.NoError(t, err)
	assert.True(t, committed)
	assert.ErrorIs(t, notifyErr, ErrDegraded)
}

func TestAfterCommitSkipsNotifyOnWriteFailure(t *testing.T) {
	writeErr := errors.New("constraint violation")
	notified := false

	err := AfterCommit(context.Background(),
		func(context.Context) error { return writeErr },
		func(context.Context) error {
			notified = true
			return nil
		},
	)

	assert.ErrorIs(t, err, writeErr)
	assert.False(t, notified)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	assert.Error(t, err)
	_, err = New(Config{})
	assert.Error(t, err)
}
