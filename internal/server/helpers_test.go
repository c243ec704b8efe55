package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nowplaying/internal/models"
	"nowplaying/internal/spotify"
	"nowplaying/internal/store"
	"nowplaying/internal/tracker"
)

type memStore struct {
	mu      sync.Mutex
	tokens  map[string]string
	pingErr error
}

func (m *memStore) SetRefreshToken(ctx context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = token
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *memStore) token(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[userID]
}

type authRecord struct{ userID, displayName string }

type memAuthLog struct {
	mu      sync.Mutex
	records []authRecord
	last    map[string]time.Time
	getErr  error
}

func (m *memAuthLog) RecordAuthorization(ctx context.Context, userID, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, authRecord{userID, displayName})
	if m.last == nil {
		m.last = make(map[string]time.Time)
	}
	m.last[userID] = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	return nil
}

func (m *memAuthLog) GetAuthorization(ctx context.Context, userID string) (*store.Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	at, ok := m.last[userID]
	if !ok {
		return nil, nil
	}
	return &store.Authorization{UserID: userID, AuthorizedAt: at}, nil
}

func (rl *rateLimiter) allow(key string) bool {
	ok, _ := rl.reserve(key)
	return ok
}

type stubAuthorizer struct {
	userErr error
}

func (a *stubAuthorizer) AuthCodeURL(state string) string {
	return "https://accounts.example/authorize?state=" + state
}

func (a *stubAuthorizer) Exchange(ctx context.Context, code string) (*spotify.Grant, error) {
	switch code {
	case "revoked":
		return nil, spotify.ErrInvalidGrant
	case "broken":
		return nil, errors.New("token endpoint returned 502")
	}
	return &spotify.Grant{AccessToken: "access-" + code, RefreshToken: "refresh-" + code}, nil
}

func (a *stubAuthorizer) CurrentUser(ctx context.Context, accessToken string) (*spotify.User, error) {
	if a.userErr != nil {
		return nil, a.userErr
	}
	return &spotify.User{ID: "alice", DisplayName: "Alice Smith"}, nil
}

type stubLookup struct {
	mu    sync.Mutex
	calls int
}

func (l *stubLookup) Status(ctx context.Context, userID string) (models.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	switch userID {
	case "alice":
		return models.Status{IsPlaying: true, Song: "Song", Artist: "Artist", TrackID: "t1", Total: 100, Start: 1_700_000_000}, nil
	case "idle":
		return models.NotPlaying, nil
	case "broken":
		return models.NotPlaying, errors.Join(tracker.ErrStatusFetch, errors.New("status 502"))
	}
	return models.NotPlaying, tracker.ErrUnauthorized
}

func (l *stubLookup) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type testEnv struct {
	srv      *Server
	store    *memStore
	authLog  *memAuthLog
	auth     *stubAuthorizer
	lookup   *stubLookup
	registry *tracker.Registry
}

func newTestServer(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   &memStore{tokens: make(map[string]string)},
		authLog: &memAuthLog{},
		auth:    &stubAuthorizer{},
		lookup:  &stubLookup{},
	}
	env.registry = tracker.NewRegistry(env.lookup)
	all := append([]Option{
		WithAuthorizer(env.auth),
		WithAuthorizationLog(env.authLog),
		WithTracker(env.registry, env.lookup),
	}, opts...)
	env.srv = NewServer(env.store, all...)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) get(t *testing.T, target string, mod ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, m := range mod {
		m(req)
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func fromIP(ip string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("X-Forwarded-For", ip) }
}
