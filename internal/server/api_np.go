package server

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"nowplaying/internal/tracker"
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// handleNowPlaying is the one-shot lookup. Tracked users are answered from
// the status cache without touching the provider.
func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !userIDPattern.MatchString(userID) {
		writeError(w, http.StatusBadRequest, "Bad user id")
		return
	}

	if status, ok := s.snapshots.Snapshot(userID); ok {
		writeJSON(w, http.StatusOK, status)
		return
	}

	status, err := s.lookup.Status(r.Context(), userID)
	if errors.Is(err, tracker.ErrUnauthorized) {
		slog.Debug("user has not authorized the application", "user_id", userID)
		writeError(w, http.StatusBadRequest, "User has not authorized the application.")
		return
	}
	if err != nil {
		slog.Error("fetching user status", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Error fetching user status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
