package bot

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/florabot/flower"
	"github.com/m3rciful/florabot/session"
	"github.com/m3rciful/florabot/stats"
)

const adminID int64 = 99

type memStore struct {
	records map[int64]*session.Record
	saves   int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[int64]*session.Record)}
}

func (s *memStore) Get(_ context.Context, userID int64) (*session.Record, error) {
	rec, ok := s.records[userID]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) Save(_ context.Context, rec *session.Record) error {
	s.saves++
	cp := *rec
	s.records[rec.UserID] = &cp
	return nil
}

type fakeSensorAPI struct {
	sensors     []flower.Sensor
	gardenCalls int
	imageCalls  int
	imageErr    error
}

func (f *fakeSensorAPI) Garden(context.Context) ([]flower.Sensor, error) {
	f.gardenCalls++
	return f.sensors, nil
}

func (f *fakeSensorAPI) Image(context.Context, string) (*flower.Image, error) {
	f.imageCalls++
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return &flower.Image{
		ContentType: "image/jpeg",
		Body:        io.NopCloser(strings.NewReader("jpeg-bytes")),
	}, nil
}

type env struct {
	store    *memStore
	cache    *session.Cache
	api      *fakeSensorAPI
	handlers *Handlers
	d        *Dispatcher
	stop     chan error
	counters *stats.Counters
	authErr  error
}

func newEnv() *env {
	e := &env{
		store: newMemStore(),
		api: &fakeSensorAPI{
			sensors: []flower.Sensor{
				{ID: "s1", Nickname: "Rose", LastUpload: "2017-03-01T10:00:00Z", ImageURL: "https://img/rose.jpg"},
				{ID: "s2", Nickname: "Fern", LastUpload: "2017-03-02T11:00:00Z"},
			},
		},
		stop:     make(chan error, 1),
		counters: stats.New(),
	}
	e.cache = session.NewCache(session.CacheOptions{
		Store: e.store,
		Hydrate: func(string) session.SensorAPI {
			return e.api
		},
	})
	e.handlers = &Handlers{
		Sessions: e.cache,
		Authenticate: func(_ context.Context, _, _ string) (string, session.SensorAPI, error) {
			if e.authErr != nil {
				return "", nil, e.authErr
			}
			return "tok", e.api, nil
		},
		Stats:           e.counters,
		Stop:            e.stop,
		FarewellTimeout: 50 * time.Millisecond,
	}
	e.d = NewDispatcher(DispatcherOptions{
		Registry: e.handlers.Registry(),
		Stats:    e.counters,
		AdminID:  adminID,
	})
	return e
}

func (e *env) dispatch(t *testing.T, userID int64, text string) *fakeGateway {
	t.Helper()
	gw := &fakeGateway{}
	e.dispatchGW(t, gw, userID, text)
	return gw
}

func (e *env) dispatchGW(t *testing.T, gw *fakeGateway, userID int64, text string) {
	t.Helper()
	if err := e.d.Dispatch(context.Background(), gw, message(userID, text)); err != nil {
		t.Fatalf("dispatch %q: %v", text, err)
	}
}

func (e *env) login(t *testing.T, userID int64) {
	t.Helper()
	gw := e.dispatch(t, userID, "/login me@example.com pass")
	if len(gw.texts) != 1 || gw.texts[0] != msgLoginSuccess {
		t.Fatalf("login responses = %v", gw.texts)
	}
}

func TestHelpListsVisibleCommands(t *testing.T) {
	e := newEnv()
	gw := e.dispatch(t, 1, "/help")

	if len(gw.texts) != 1 {
		t.Fatalf("help responses = %v", gw.texts)
	}
	lines := strings.Split(gw.texts[0], "\n")
	if lines[0] != "Here is a possible commands list:" || lines[len(lines)-1] != "Thanks!" {
		t.Fatalf("unexpected framing: %q", gw.texts[0])
	}

	listed := map[string]int{}
	for _, line := range lines[1 : len(lines)-1] {
		name := strings.TrimPrefix(strings.SplitN(strings.TrimSpace(line), ":", 2)[0], "/")
		listed[name]++
	}
	for _, want := range []string{"help", "login", "remove", "info"} {
		if listed[want] != 1 {
			t.Fatalf("command %q listed %d times in %q", want, listed[want], gw.texts[0])
		}
	}
	for _, hidden := range []string{"404", "shutdown", "stats", "start", "stop"} {
		if listed[hidden] != 0 {
			t.Fatalf("command %q must not be listed: %q", hidden, gw.texts[0])
		}
	}
}

func TestStartAliasRunsHelpOnce(t *testing.T) {
	e := newEnv()
	gw := e.dispatch(t, 1, "/start")
	if len(gw.texts) != 1 || !strings.HasPrefix(gw.texts[0], "Here is a possible commands list:") {
		t.Fatalf("start responses = %v", gw.texts)
	}
}

func TestNotFoundFallsThroughToHelp(t *testing.T) {
	e := newEnv()
	gw := e.dispatch(t, 1, "/bogus")
	if len(gw.texts) != 2 {
		t.Fatalf("404 responses = %v", gw.texts)
	}
	if gw.texts[0] != msgNotUnderstood {
		t.Fatalf("first response = %q", gw.texts[0])
	}
	if !strings.HasPrefix(gw.texts[1], "Here is a possible commands list:") {
		t.Fatalf("second response = %q", gw.texts[1])
	}
	if got := e.counters.Read(stats.TotalMessages); got != 1 {
		t.Fatalf("total counter = %d, want 1 despite the re-dispatch", got)
	}
}

func TestLoginWrongArgumentCount(t *testing.T) {
	e := newEnv()
	for _, text := range []string{"/login", "/login a", "/login a b c"} {
		gw := e.dispatch(t, 1, text)
		if len(gw.texts) != 1 || gw.texts[0] != msgLoginUsage {
			t.Fatalf("%q responses = %v", text, gw.texts)
		}
	}
	if rec := e.store.records[1]; rec == nil || rec.AuthToken != "" {
		t.Fatalf("auth token must stay empty, record = %+v", e.store.records[1])
	}
}

func TestLoginSuccessPersistsBeforeResponding(t *testing.T) {
	e := newEnv()
	e.login(t, 1)

	rec := e.store.records[1]
	if rec == nil || rec.AuthToken != "tok" {
		t.Fatalf("persisted record = %+v", rec)
	}
	if rec.Username != "user1" {
		t.Fatalf("persisted username = %q", rec.Username)
	}
}

func TestLoginAlreadyRegistered(t *testing.T) {
	e := newEnv()
	e.login(t, 1)
	gw := e.dispatch(t, 1, "/login me@example.com pass")
	if len(gw.texts) != 1 || gw.texts[0] != msgAlreadyRegistered {
		t.Fatalf("responses = %v", gw.texts)
	}
}

func TestLoginAPIErrorShownVerbatim(t *testing.T) {
	e := newEnv()
	e.authErr = &flower.APIError{Status: 400, Description: "Wrong email or password."}
	gw := e.dispatch(t, 1, "/login me@example.com wrong")
	if len(gw.texts) != 1 || gw.texts[0] != "There is an error:\nWrong email or password." {
		t.Fatalf("responses = %v", gw.texts)
	}
	if rec := e.store.records[1]; rec == nil || rec.AuthToken != "" {
		t.Fatalf("partial state persisted, record = %+v", e.store.records[1])
	}
}

func TestInfoRequiresLogin(t *testing.T) {
	e := newEnv()
	gw := e.dispatch(t, 1, "/info all")
	if len(gw.texts) != 1 || gw.texts[0] != msgLoginFirst {
		t.Fatalf("responses = %v", gw.texts)
	}
	if e.api.gardenCalls != 0 {
		t.Fatalf("sensor API called %d times for unauthenticated user", e.api.gardenCalls)
	}
}

func TestInfoWithoutArgument(t *testing.T) {
	e := newEnv()
	e.login(t, 1)
	gw := e.dispatch(t, 1, "/info")
	if len(gw.texts) != 1 || gw.texts[0] != msgInfoUsage {
		t.Fatalf("responses = %v", gw.texts)
	}
}

func TestInfoTargetedPlant(t *testing.T) {
	e := newEnv()
	e.login(t, 1)
	gw := e.dispatch(t, 1, "/info Rose")

	var statusLines []string
	for _, text := range gw.texts {
		if strings.Contains(text, "updated") {
			statusLines = append(statusLines, text)
		}
	}
	if len(statusLines) != 1 || !strings.Contains(statusLines[0], "Rose") {
		t.Fatalf("status lines = %v", statusLines)
	}
	if len(gw.photos) != 1 {
		t.Fatalf("photos = %d, want 1", len(gw.photos))
	}

	sess, err := e.cache.Resolve(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sess.Garden["s1"].Nickname != "Rose" {
		t.Fatalf("garden s1 = %+v", sess.Garden["s1"])
	}
	if _, ok := sess.Garden["s2"]; ok {
		t.Fatalf("garden s2 must stay untouched, garden = %+v", sess.Garden)
	}
}

func TestInfoAllPlants(t *testing.T) {
	e := newEnv()
	e.login(t, 1)
	gw := e.dispatch(t, 1, "/info all")

	var statusLines []string
	for _, text := range gw.texts {
		if strings.Contains(text, "updated") {
			statusLines = append(statusLines, text)
		}
	}
	if len(statusLines) != 2 {
		t.Fatalf("status lines = %v", statusLines)
	}
	// Only s1 carries an image URL.
	if len(gw.photos) != 1 {
		t.Fatalf("photos = %d, want 1", len(gw.photos))
	}
}

func TestInfoImageFetchFailureFallsBackToStatus(t *testing.T) {
	e := newEnv()
	e.api.imageErr = errors.New("image endpoint down")
	e.login(t, 1)
	gw := e.dispatch(t, 1, "/info Rose")

	if len(gw.photos) != 0 {
		t.Fatalf("photos = %d, want 0 when the image fetch fails", len(gw.photos))
	}
	if e.api.imageCalls != 1 {
		t.Fatalf("image calls = %d, want 1", e.api.imageCalls)
	}
	if len(gw.texts) != 1 || !strings.Contains(gw.texts[0], "Rose") || !strings.Contains(gw.texts[0], "updated") {
		t.Fatalf("responses = %v, want a single Rose status line", gw.texts)
	}
}

func TestInfoPhotoSendFailureStillReportsStatus(t *testing.T) {
	e := newEnv()
	e.login(t, 1)
	gw := &fakeGateway{photoErr: errors.New("telegram rejected the upload")}
	e.dispatchGW(t, gw, 1, "/info Rose")

	if len(gw.photos) != 1 {
		t.Fatalf("photo attempts = %d, want 1", len(gw.photos))
	}
	if len(gw.texts) != 1 || !strings.Contains(gw.texts[0], "Rose") || !strings.Contains(gw.texts[0], "updated") {
		t.Fatalf("responses = %v, want a single Rose status line", gw.texts)
	}
}

func TestInfoUnknownPlant(t *testing.T) {
	e := newEnv()
	e.login(t, 1)
	gw := e.dispatch(t, 1, "/info Cactus")
	if len(gw.texts) != 1 || gw.texts[0] != "Plant with name Cactus is not found in your garden!" {
		t.Fatalf("responses = %v", gw.texts)
	}

	sess, err := e.cache.Resolve(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(sess.Garden) != 0 {
		t.Fatalf("garden mutated: %+v", sess.Garden)
	}
}

func TestInfoEmptyGarden(t *testing.T) {
	e := newEnv()
	e.api.sensors = nil
	e.login(t, 1)
	gw := e.dispatch(t, 1, "/info all")
	if len(gw.texts) != 1 || gw.texts[0] != msgNoPlants {
		t.Fatalf("responses = %v", gw.texts)
	}
}

func TestRemoveClearsPersistsAndEvicts(t *testing.T) {
	e := newEnv()
	e.login(t, 1)
	e.dispatch(t, 1, "/info Rose")

	gw := e.dispatch(t, 1, "/remove")
	if len(gw.texts) != 1 || gw.texts[0] != msgRemoved {
		t.Fatalf("responses = %v", gw.texts)
	}

	rec := e.store.records[1]
	if rec.AuthToken != "" || len(rec.Garden) != 0 {
		t.Fatalf("record not cleared: %+v", rec)
	}
	if e.cache.Cached(1) {
		t.Fatal("session must be evicted after remove")
	}

	// The next interaction re-hydrates from the cleared store record.
	gw = e.dispatch(t, 1, "/info all")
	if len(gw.texts) != 1 || gw.texts[0] != msgLoginFirst {
		t.Fatalf("post-remove responses = %v", gw.texts)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	e := newEnv()
	e.login(t, 1)
	e.dispatch(t, 1, "/remove")

	saves := e.store.saves
	gw := e.dispatch(t, 1, "/remove")
	if len(gw.texts) != 1 || gw.texts[0] != msgNotRegistered {
		t.Fatalf("responses = %v", gw.texts)
	}
	if e.store.saves != saves {
		t.Fatalf("second remove wrote to the store: %d -> %d", saves, e.store.saves)
	}
}

func TestStopAliasRemoves(t *testing.T) {
	e := newEnv()
	e.login(t, 1)
	gw := e.dispatch(t, 1, "/stop")
	if len(gw.texts) != 1 || gw.texts[0] != msgRemoved {
		t.Fatalf("responses = %v", gw.texts)
	}
}

func TestShutdownAdminOnly(t *testing.T) {
	e := newEnv()

	gw := e.dispatch(t, 1, "/shutdown")
	if len(gw.texts) != 2 || gw.texts[0] != msgNotUnderstood {
		t.Fatalf("non-admin shutdown responses = %v", gw.texts)
	}
	select {
	case err := <-e.stop:
		t.Fatalf("stop signalled by non-admin: %v", err)
	default:
	}

	gw = e.dispatch(t, adminID, "/shutdown")
	if len(gw.texts) != 1 || gw.texts[0] != msgFarewell {
		t.Fatalf("admin shutdown responses = %v", gw.texts)
	}
	select {
	case err := <-e.stop:
		if err != ErrShutdown {
			t.Fatalf("stop error = %v, want ErrShutdown", err)
		}
	default:
		t.Fatal("stop channel empty after admin shutdown")
	}
}

func TestShutdownFarewellIsDeadlined(t *testing.T) {
	e := newEnv()
	gw := e.dispatch(t, adminID, "/shutdown")

	if len(gw.textCtxs) != 1 {
		t.Fatalf("farewell sends = %d, want 1", len(gw.textCtxs))
	}
	deadline, ok := gw.textCtxs[0].Deadline()
	if !ok {
		t.Fatal("farewell context carries no deadline")
	}
	if remaining := time.Until(deadline); remaining > e.handlers.FarewellTimeout {
		t.Fatalf("farewell deadline %v away, want at most %v", remaining, e.handlers.FarewellTimeout)
	}
}

func TestStatsCommand(t *testing.T) {
	e := newEnv()
	e.dispatch(t, 1, "/help")
	e.dispatch(t, 1, "/help")

	gw := e.dispatch(t, adminID, "/stats")
	if len(gw.texts) != 1 || gw.texts[0] != "total: 3" {
		t.Fatalf("stats responses = %v", gw.texts)
	}
}
