package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"nowplaying/internal/models"
	"nowplaying/internal/spotify"
	"nowplaying/internal/store"
	"nowplaying/internal/tracker"
)

// CredentialStore is where refresh tokens obtained at login end up.
type CredentialStore interface {
	SetRefreshToken(ctx context.Context, userID, token string) error
	Ping(ctx context.Context) error
}

// Authorizer runs the authorization code flow against the token issuer.
type Authorizer interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*spotify.Grant, error)
	CurrentUser(ctx context.Context, accessToken string) (*spotify.User, error)
}

// AuthorizationLog records who authorized the application and when.
type AuthorizationLog interface {
	RecordAuthorization(ctx context.Context, userID, displayName string) error
	GetAuthorization(ctx context.Context, userID string) (*store.Authorization, error)
}

// Snapshots exposes the cached status of tracked users.
type Snapshots interface {
	Snapshot(userID string) (models.Status, bool)
}

type Server struct {
	router     chi.Router
	store      CredentialStore
	authorizer Authorizer
	authLog    AuthorizationLog
	snapshots  Snapshots
	lookup     tracker.Fetcher
	gateway    http.Handler
	corsOrigin string

	loginLimiter *rateLimiter
	npLimiter    *rateLimiter
}

func NewServer(s CredentialStore, opts ...Option) *Server {
	srv := &Server{
		router:       chi.NewRouter(),
		store:        s,
		corsOrigin:   "*",
		loginLimiter: newRateLimiter(10, time.Hour),
		npLimiter:    newRateLimiter(5, 5*time.Minute),
	}
	for _, o := range opts {
		o(srv)
	}
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.routes()
	return srv
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

func WithAuthorizer(a Authorizer) Option {
	return func(s *Server) { s.authorizer = a }
}

func WithAuthorizationLog(l AuthorizationLog) Option {
	return func(s *Server) { s.authLog = l }
}

// WithTracker enables the one-shot status endpoint.
func WithTracker(snapshots Snapshots, lookup tracker.Fetcher) Option {
	return func(s *Server) {
		s.snapshots = snapshots
		s.lookup = lookup
	}
}

func WithGateway(h http.Handler) Option {
	return func(s *Server) { s.gateway = h }
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiter cleanup goroutines.
func (s *Server) Close() {
	s.loginLimiter.stop()
	s.npLimiter.stop()
}
