package server

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"

	"nowplaying/internal/metrics"
	"nowplaying/internal/spotify"
	"nowplaying/internal/store"
)

const stateCookieName = "nowplaying_oauth_state"

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, makeCookie(stateCookieName, state, "/api", 300, r))
	http.Redirect(w, r, s.authorizer.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	q := r.URL.Query()

	code := q.Get("code")
	if !codePattern.MatchString(code) {
		writeError(w, http.StatusBadRequest, "Bad code")
		return
	}
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value != q.Get("state") {
		writeError(w, http.StatusBadRequest, "Bad state")
		return
	}
	http.SetCookie(w, clearCookie(stateCookieName, "/api", r))

	grant, err := s.authorizer.Exchange(r.Context(), code)
	if errors.Is(err, spotify.ErrInvalidGrant) {
		writeError(w, http.StatusBadRequest, "Bad code")
		return
	}
	if err != nil {
		log.Printf("token exchange: %v", err)
		writeError(w, http.StatusInternalServerError, "Error while fetching token")
		return
	}

	user, err := s.authorizer.CurrentUser(r.Context(), grant.AccessToken)
	if err != nil {
		log.Printf("fetching user profile: %v", err)
		writeError(w, http.StatusInternalServerError, "Error while fetching user profile")
		return
	}

	if err := s.store.SetRefreshToken(r.Context(), user.ID, grant.RefreshToken); err != nil {
		log.Printf("storing refresh token for %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Error while storing token")
		return
	}
	v := url.Values{}
	v.Set("display_name", user.DisplayName)
	v.Set("id", user.ID)

	if s.authLog != nil {
		prev := s.previousAuthorization(r.Context(), user.ID)
		if err := s.authLog.RecordAuthorization(r.Context(), user.ID, user.DisplayName); err != nil {
			log.Printf("recording authorization for %s: %v", user.ID, err)
		}
		if prev != nil {
			v.Set("since", prev.AuthorizedAt.UTC().Format(time.DateOnly))
			metrics.Authorizations.WithLabelValues("returning").Inc()
		} else {
			metrics.Authorizations.WithLabelValues("new").Inc()
		}
	}
	slog.Info("user authorized the application", "user_id", user.ID, "display_name", user.DisplayName)

	http.Redirect(w, r, "/logged-in?"+v.Encode(), http.StatusFound)
}

// previousAuthorization returns nil when the user is new or the log is unreadable.
func (s *Server) previousAuthorization(ctx context.Context, userID string) *store.Authorization {
	prev, err := s.authLog.GetAuthorization(ctx, userID)
	if err != nil {
		log.Printf("reading authorization for %s: %v", userID, err)
		return nil
	}
	return prev
}

func isSecure(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

func makeCookie(name, value, path string, maxAge int, r *http.Request) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
	}
}

func clearCookie(name, path string, r *http.Request) *http.Cookie {
	return makeCookie(name, "", path, -1, r)
}
