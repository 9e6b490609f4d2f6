package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/florabot/core/logger"
)

// PGStore is the Postgres-backed session store.
type PGStore struct {
	db *sqlx.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sqlx.DB) *PGStore {
	return &PGStore{db: db}
}

const getQuery = `
SELECT user_id, COALESCE(username, '') AS username,
       COALESCE(auth_token, '') AS auth_token, garden
FROM sessions
WHERE user_id = $1`

// Get returns the stored record or ErrNotFound.
func (s *PGStore) Get(ctx context.Context, userID int64) (*Record, error) {
	start := time.Now()
	var rec Record
	err := s.db.GetContext(ctx, &rec, getQuery, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Error(ctx, "service.sessions", "store.get",
			slog.Int64("user_id", userID),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("session get: %w", err)
	}
	logger.Debug(ctx, "service.sessions", "store.get",
		slog.Int64("user_id", userID),
		slog.Duration("duration", logger.Took(start)),
	)
	return &rec, nil
}

const saveQuery = `
INSERT INTO sessions (user_id, username, auth_token, garden, updated_at)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, now())
ON CONFLICT (user_id) DO UPDATE SET
	username   = COALESCE(NULLIF(EXCLUDED.username, ''), sessions.username),
	auth_token = EXCLUDED.auth_token,
	garden     = EXCLUDED.garden,
	updated_at = now()`

// Save upserts the record. An empty username keeps the previously stored one;
// auth token and garden always overwrite so that remove can clear them.
func (s *PGStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("session save: nil record")
	}
	start := time.Now()
	_, err := s.db.ExecContext(ctx, saveQuery,
		rec.UserID, rec.Username, rec.AuthToken, rec.Garden)
	if err != nil {
		logger.Error(ctx, "service.sessions", "store.save",
			slog.Int64("user_id", rec.UserID),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("session save: %w", err)
	}
	logger.Debug(ctx, "service.sessions", "store.save",
		slog.Int64("user_id", rec.UserID),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}
