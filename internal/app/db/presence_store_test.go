package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzrealtime/internal/app/presence"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping test: TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, url)
	if err != nil {
		t.Skipf("Skipping test: database not available: %v", err)
	}

	_, err = pool.Exec(ctx, "DELETE FROM user_presence WHERE user_id LIKE 'test-%'")
	require.NoError(t, err)

	t.Cleanup(pool.Close)
	return pool
}

func TestPresenceStoreRoundTrip(t *testing.T) {
	store := NewPresenceStore(setupTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	err := store.SavePresence(ctx, presence.Record{
		UserID:      "test-1",
		Status:      presence.StatusDND,
		Activity:    presence.Activity("Focusing"),
		UpdatedAt:   now,
		Connections: 2,
	})
	require.NoError(t, err)

	got, err := store.GetPresence(ctx, "test-1")
	require.NoError(t, err)
	assert.Equal(t, presence.StatusDND, got.Status)
	assert.Equal(t, "Focusing", got.ActivityValue())
	assert.Equal(t, 2, got.Connections)
	assert.True(t, got.UpdatedAt.Equal(now))
}

func TestPresenceStoreIgnoresStaleWrite(t *testing.T) {
	store := NewPresenceStore(setupTestDB(t))
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.SavePresence(ctx, presence.Record{UserID: "test-2", Status: presence.StatusAway, UpdatedAt: now}))
	require.NoError(t, store.SavePresence(ctx, presence.Record{UserID: "test-2", Status: presence.StatusOnline, UpdatedAt: now.Add(-time.Minute)}))

	got, err := store.GetPresence(ctx, "test-2")
	require.NoError(t, err)
	assert.Equal(t, presence.StatusAway, got.Status)
}

func TestPresenceStoreUnknownUser(t *testing.T) {
	store := NewPresenceStore(setupTestDB(t))

	got, err := store.GetPresence(context.Background(), "test-missing")
	require.NoError(t, err)
	assert.Equal(t, presence.StatusOffline, got.Status)
}

func TestMarkAllOffline(t *testing.T) {
	store := NewPresenceStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.SavePresence(ctx, presence.Record{UserID: "test-3", Status: presence.StatusOnline, Connections: 1, UpdatedAt: time.Now().Add(-time.Second)}))

	n, err := store.MarkAllOffline(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	got, err := store.GetPresence(ctx, "test-3")
	require.NoError(t, err)
	assert.Equal(t, presence.StatusOffline, got.Status)
	assert.Nil(t, got.Activity)
	assert.Zero(t, got.Connections)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
