package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzrealtime/internal/pkg/auth/jwt"
)

func envelope(w http.ResponseWriter, status, code int, data any) {
	w.WriteHeader(status)
	body, _ := json.Marshal(map[string]any{"code": code, "message": "m", "data": data})
	_, _ = w.Write(body)
}

func TestBroadcastRoomMintsToken(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := jwt.ParseScoped(token, "s3cret", jwt.ScopeBridge)
		require.NoError(t, err)
		assert.Equal(t, "ops", claims.ID)

		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		envelope(w, http.StatusOK, 0, map[string]any{"event": "announce", "target": "server-1", "delivered": 4})
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{"-url", srv.URL, "-secret", "s3cret", "-caller", "ops",
		"broadcast-room", "server-1", "announce", `{"text":"hi"}`}, &stdout, &stderr)

	require.Equal(t, exitOK, code, stderr.String())
	assert.Equal(t, "server-1", body["room_key"])
	assert.Equal(t, map[string]any{"text": "hi"}, body["payload"])
	assert.Contains(t, stdout.String(), `"delivered": 4`)
}

func TestPresenceCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/presence/42", r.URL.Path)
		envelope(w, http.StatusOK, 0, map[string]any{"user_id": "42", "status": "dnd"})
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{"-url", srv.URL, "presence", "42"}, &stdout, &stderr)

	require.Equal(t, exitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), `"status": "dnd"`)
}

func TestExitCodes(t *testing.T) {
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelope(w, http.StatusBadRequest, 2001, nil)
	}))
	defer rejecting.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	cases := []struct {
		name string
		args []string
		want int
	}{
		{"no command", nil, exitUsage},
		{"unknown flag", []string{"-nope", "health"}, exitUsage},
		{"missing args", []string{"-url", rejecting.URL, "notify-user", "42"}, exitUsage},
		{"bad payload", []string{"-url", rejecting.URL, "broadcast", "x", "{"}, exitFailure},
		{"unknown command", []string{"-url", rejecting.URL, "teleport"}, exitFailure},
		{"rejected", []string{"-url", rejecting.URL, "broadcast-room", "bogus", "x"}, exitFailure},
		{"degraded", []string{"-url", failing.URL, "health"}, exitDegraded},
		{"token without secret", []string{"-secret", "", "token"}, exitUsage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("BRIDGE_SECRET", "")
			t.Setenv("BRIDGE_TOKEN", "")
			var stdout, stderr bytes.Buffer
			assert.Equal(t, tc.want, run(tc.args, &stdout, &stderr), stderr.String())
		})
	}
}

func TestTokenCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-secret", "k", "-caller", "crud", "token"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	claims, err := jwt.ParseScoped(strings.TrimSpace(stdout.String()), "k", jwt.ScopeBridge)
	require.NoError(t, err)
	assert.Equal(t, "crud", claims.ID)
}
