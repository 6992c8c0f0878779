package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hzrealtime/internal/app/presence"
)

// PresenceStore persists the last known presence of each user for page-load rendering by the CRUD tier.
type PresenceStore struct {
	pool *pgxpool.Pool
}

// NewPresenceStore wraps an open pool.
func NewPresenceStore(pool *pgxpool.Pool) *PresenceStore {
	return &PresenceStore{pool: pool}
}

const upsertPresenceSQL = `
INSERT INTO user_presence (user_id, status, activity, connections, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
	status = EXCLUDED.status,
	activity = EXCLUDED.activity,
	connections = EXCLUDED.connections,
	updated_at = EXCLUDED.updated_at
WHERE user_presence.updated_at <= EXCLUDED.updated_at`

// SavePresence upserts a record. Older records never overwrite newer ones.
func (s *PresenceStore) SavePresence(ctx context.Context, rec presence.Record) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	exec := func() error {
		_, err := s.pool.Exec(ctx, upsertPresenceSQL,
			rec.UserID, string(rec.Status), rec.Activity, rec.Connections, updatedAt)
		return err
	}

	err := exec()
	if IsTransient(err) {
		err = exec()
	}
	if err != nil {
		return fmt.Errorf("failed to save presence for %s: %w", rec.UserID, err)
	}
	return nil
}

// GetPresence loads the stored record of a user. Unknown users come back offline.
func (s *PresenceStore) GetPresence(ctx context.Context, userID string) (presence.Record, error) {
	var (
		rec    presence.Record
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, status, activity, connections, updated_at FROM user_presence WHERE user_id = $1`,
		userID,
	).Scan(&rec.UserID, &status, &rec.Activity, &rec.Connections, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return presence.Record{UserID: userID, Status: presence.StatusOffline}, nil
	}
	if err != nil {
		return presence.Record{}, fmt.Errorf("failed to load presence for %s: %w", userID, err)
	}
	rec.Status = presence.Status(status)
	return rec, nil
}

// MarkAllOffline resets every stored record to offline. It runs at startup, when no connection
// from a previous process can still be open.
func (s *PresenceStore) MarkAllOffline(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_presence SET status = 'offline', activity = NULL, connections = 0, updated_at = NOW()
		 WHERE status <> 'offline'`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset presence: %w", err)
	}
	return tag.RowsAffected(), nil
}
