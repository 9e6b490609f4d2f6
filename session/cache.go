package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/m3rciful/florabot/core/logger"
)

// CacheOptions configures a Cache.
type CacheOptions struct {
	Store Store
	// Hydrate rebuilds an authenticated API client from a stored token so
	// that users do not have to /login again after a process restart.
	Hydrate func(token string) SensorAPI
}

// Cache is the in-memory session layer in front of the persistent store.
// It exclusively owns Session instances during process lifetime.
type Cache struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	store    Store
	hydrate  func(token string) SensorAPI
}

// NewCache builds an empty cache over the given store.
func NewCache(opts CacheOptions) *Cache {
	return &Cache{
		sessions: make(map[int64]*Session),
		store:    opts.Store,
		hydrate:  opts.Hydrate,
	}
}

// Resolve returns the session for a user, loading it from the store or
// creating and persisting a fresh one when the user is new. The username is
// refreshed on every call since Telegram users can rename themselves.
func (c *Cache) Resolve(ctx context.Context, userID int64, username string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess, ok := c.sessions[userID]; ok {
		if username != "" {
			sess.Username = username
		}
		logger.Debug(ctx, "service.sessions", "cache.resolve",
			slog.String("cache", "hit"),
			slog.Int64("user_id", userID),
		)
		return sess, nil
	}

	rec, err := c.store.Get(ctx, userID)
	switch {
	case err == nil:
		sess := &Session{
			UserID:    rec.UserID,
			Username:  rec.Username,
			AuthToken: rec.AuthToken,
			Garden:    rec.Garden,
		}
		if sess.Garden == nil {
			sess.Garden = Garden{}
		}
		if username != "" {
			sess.Username = username
		}
		if sess.AuthToken != "" && c.hydrate != nil {
			sess.API = c.hydrate(sess.AuthToken)
		}
		c.sessions[userID] = sess
		logger.Debug(ctx, "service.sessions", "cache.resolve",
			slog.String("cache", "miss"),
			slog.Int64("user_id", userID),
			slog.Bool("hydrated", sess.API != nil),
		)
		return sess, nil

	case errors.Is(err, ErrNotFound):
		sess := &Session{
			UserID:   userID,
			Username: username,
			Garden:   Garden{},
		}
		if err := c.persistLocked(ctx, sess); err != nil {
			return nil, err
		}
		c.sessions[userID] = sess
		logger.Info(ctx, "service.sessions", "cache.create",
			slog.Int64("user_id", userID),
		)
		return sess, nil

	default:
		return nil, err
	}
}

// Persist re-reads the in-memory session and upserts it into the store.
func (c *Cache) Persist(ctx context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[userID]
	if !ok {
		return ErrNotFound
	}
	return c.persistLocked(ctx, sess)
}

func (c *Cache) persistLocked(ctx context.Context, sess *Session) error {
	return c.store.Save(ctx, &Record{
		UserID:    sess.UserID,
		Username:  sess.Username,
		AuthToken: sess.AuthToken,
		Garden:    sess.Garden,
	})
}

// Evict removes the session from the cache only; the store is untouched.
// The next Resolve for the user re-hydrates from the store.
func (c *Cache) Evict(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, userID)
	logger.Debug(context.Background(), "service.sessions", "cache.evict",
		slog.Int64("user_id", userID),
	)
}

// Cached reports whether the user currently has an in-memory session.
func (c *Cache) Cached(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[userID]
	return ok
}
