package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nowplaying/internal/version"
)

const (
	loginLimitMessage = "Too many requests, please try again later."
	npLimitMessage    = "Too many requests, please use the websocket gateway."
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	if s.gateway != nil {
		s.router.Method(http.MethodGet, "/gateway", s.gateway)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(limitBody)
		r.Use(corsMiddleware(s.corsOrigin))

		r.With(jsonContentType).Get("/version", s.handleVersion)

		if s.authorizer != nil {
			r.Group(func(r chi.Router) {
				r.Use(rateLimit(s.loginLimiter, loginLimitMessage))
				r.Get("/login", s.handleLogin)
				r.Get("/callback", s.handleCallback)
			})
		}

		if s.lookup != nil {
			r.Group(func(r chi.Router) {
				r.Use(rateLimit(s.npLimiter, npLimitMessage))
				r.Use(jsonContentType)
				r.Get("/np/{userId}", s.handleNowPlaying)
			})
		}
	})

	s.router.Get("/", s.handleIndex)
	s.servePages()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"error"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleIndex serves the landing page. Clients that connect to the root with
// a WebSocket upgrade are handed to the gateway.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.gateway != nil && websocket.IsWebSocketUpgrade(r) {
		s.gateway.ServeHTTP(w, r)
		return
	}
	s.servePage(w, r, "index.html")
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Current())
}
