package session

import (
	"context"
	"errors"
	"testing"

	"github.com/m3rciful/florabot/flower"
)

type fakeStore struct {
	records map[int64]*Record
	gets    int
	saves   int
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[int64]*Record)}
}

func (s *fakeStore) Get(_ context.Context, userID int64) (*Record, error) {
	s.gets++
	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) Save(_ context.Context, rec *Record) error {
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := *rec
	s.records[rec.UserID] = &cp
	return nil
}

type fakeAPI struct{ token string }

func (f *fakeAPI) Garden(context.Context) ([]flower.Sensor, error)       { return nil, nil }
func (f *fakeAPI) Image(context.Context, string) (*flower.Image, error) { return nil, nil }

func TestResolveCreatesAndPersists(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(CacheOptions{Store: store})

	sess, err := cache.Resolve(context.Background(), 42, "alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sess.UserID != 42 || sess.Username != "alice" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.Garden == nil {
		t.Fatal("new session should have an empty garden, got nil")
	}
	if sess.Registered() {
		t.Fatal("new session should not be registered")
	}
	if store.saves != 1 {
		t.Fatalf("new session must be persisted once, saves = %d", store.saves)
	}
	if !cache.Cached(42) {
		t.Fatal("session should be cached after resolve")
	}
}

func TestResolveCacheHitRefreshesUsername(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(CacheOptions{Store: store})

	if _, err := cache.Resolve(context.Background(), 7, "old"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	gets := store.gets

	sess, err := cache.Resolve(context.Background(), 7, "renamed")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sess.Username != "renamed" {
		t.Fatalf("username not refreshed, got %q", sess.Username)
	}
	if store.gets != gets {
		t.Fatal("cache hit must not touch the store")
	}
}

func TestResolveHydratesFromStoredToken(t *testing.T) {
	store := newFakeStore()
	store.records[9] = &Record{
		UserID:    9,
		Username:  "bob",
		AuthToken: "tok-9",
		Garden:    Garden{"s1": {Nickname: "basil"}},
	}
	var hydrated string
	cache := NewCache(CacheOptions{
		Store: store,
		Hydrate: func(token string) SensorAPI {
			hydrated = token
			return &fakeAPI{token: token}
		},
	})

	sess, err := cache.Resolve(context.Background(), 9, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if hydrated != "tok-9" {
		t.Fatalf("hydrate called with %q, want tok-9", hydrated)
	}
	if !sess.Registered() {
		t.Fatal("session with stored token should be registered")
	}
	if sess.Username != "bob" {
		t.Fatalf("stored username lost, got %q", sess.Username)
	}
	if sess.Garden["s1"].Nickname != "basil" {
		t.Fatalf("stored garden lost, got %+v", sess.Garden)
	}
}

func TestEvictForcesStoreReload(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(CacheOptions{Store: store})

	if _, err := cache.Resolve(context.Background(), 5, "eve"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	cache.Evict(5)
	if cache.Cached(5) {
		t.Fatal("session should be gone after evict")
	}
	gets := store.gets
	if _, err := cache.Resolve(context.Background(), 5, "eve"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if store.gets != gets+1 {
		t.Fatal("resolve after evict must hit the store")
	}
	if store.saves != 1 {
		t.Fatalf("existing record must not be re-created, saves = %d", store.saves)
	}
}

func TestPersistWritesCurrentState(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(CacheOptions{Store: store})

	sess, err := cache.Resolve(context.Background(), 3, "carol")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	sess.AuthToken = "tok-3"
	sess.Garden["s9"] = Plant{Nickname: "fern"}

	if err := cache.Persist(context.Background(), 3); err != nil {
		t.Fatalf("persist: %v", err)
	}
	rec := store.records[3]
	if rec.AuthToken != "tok-3" {
		t.Fatalf("token not persisted, got %q", rec.AuthToken)
	}
	if rec.Garden["s9"].Nickname != "fern" {
		t.Fatalf("garden not persisted, got %+v", rec.Garden)
	}
}

func TestPersistUnknownUser(t *testing.T) {
	cache := NewCache(CacheOptions{Store: newFakeStore()})
	if err := cache.Persist(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestResolveSaveFailure(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("db down")
	cache := NewCache(CacheOptions{Store: store})

	if _, err := cache.Resolve(context.Background(), 1, "x"); err == nil {
		t.Fatal("resolve must fail when the initial persist fails")
	}
	if cache.Cached(1) {
		t.Fatal("failed session must not be cached")
	}
}
