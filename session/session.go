// Package session owns per-user link state: the Flower Power credential, the
// cached garden snapshot, and the hydrated API client. The persistent store is
// the durable owner across restarts; the in-memory cache is a
// read-through/write-through layer on top of it.
package session

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/m3rciful/florabot/flower"
)

// ErrNotFound indicates the requested session has no stored record.
var ErrNotFound = errors.New("session: not found")

// Plant is the cached metadata for one sensor in a user's garden.
type Plant struct {
	Nickname string `json:"nickname"`
}

// Garden maps sensor id to cached plant metadata. It serializes to JSONB.
type Garden map[string]Plant

// Value implements driver.Valuer for JSONB storage.
func (g Garden) Value() (driver.Value, error) {
	if g == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(g)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (g *Garden) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*g = Garden{}
		return nil
	case []byte:
		return json.Unmarshal(v, g)
	case string:
		return json.Unmarshal([]byte(v), g)
	}
	return fmt.Errorf("session: cannot scan garden from %T", src)
}

// SensorAPI is the slice of the Flower Power client the handlers need.
type SensorAPI interface {
	Garden(ctx context.Context) ([]flower.Sensor, error)
	Image(ctx context.Context, imageURL string) (*flower.Image, error)
}

// Session is the in-memory state for one linked user.
type Session struct {
	UserID    int64
	Username  string
	AuthToken string
	Garden    Garden

	// API is the hydrated client; never persisted. It is rebuilt from
	// AuthToken when the session is loaded from the store.
	API SensorAPI
}

// Registered reports whether the user has a linked Flower Power account.
func (s *Session) Registered() bool {
	return s != nil && (s.AuthToken != "" || s.API != nil)
}

// Record is the persisted shape of a session.
type Record struct {
	UserID    int64  `db:"user_id"`
	Username  string `db:"username"`
	AuthToken string `db:"auth_token"`
	Garden    Garden `db:"garden"`
}

// Store persists session records keyed by user id.
type Store interface {
	// Get returns the stored record or ErrNotFound.
	Get(ctx context.Context, userID int64) (*Record, error)
	// Save upserts the record: create if absent, merge-and-update if present.
	Save(ctx context.Context, rec *Record) error
}
