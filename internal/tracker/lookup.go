// Package tracker keeps the last known status of every user with at least one
// subscribed session and the mapping between sessions and users.
package tracker

import (
	"context"
	"errors"
	"fmt"

	"nowplaying/internal/metrics"
	"nowplaying/internal/models"
	"nowplaying/internal/spotify"
)

var (
	ErrUnauthorized      = errors.New("user has not authorized the application")
	ErrAlreadySubscribed = errors.New("session already subscribed")
	ErrTokenRefresh      = errors.New("error fetching user access token")
	ErrStatusFetch       = errors.New("error fetching user status")
)

// Credentials hands out access tokens per user. ok is false when the user
// never authorized the application or revoked it.
type Credentials interface {
	Get(ctx context.Context, userID string) (cred models.Credential, ok bool, err error)
	Invalidate(userID string)
}

// StatusFetcher performs one currently-playing lookup with an access token.
type StatusFetcher interface {
	CurrentlyPlaying(ctx context.Context, accessToken string) (models.Status, error)
}

// Fetcher resolves the current status of a user.
type Fetcher interface {
	Status(ctx context.Context, userID string) (models.Status, error)
}

// Lookup combines the credential cache and the status provider.
type Lookup struct {
	creds   Credentials
	fetcher StatusFetcher
}

func NewLookup(creds Credentials, fetcher StatusFetcher) *Lookup {
	return &Lookup{creds: creds, fetcher: fetcher}
}

// Status returns ErrUnauthorized, an error wrapping ErrTokenRefresh or
// ErrStatusFetch, or the user's current status.
func (l *Lookup) Status(ctx context.Context, userID string) (models.Status, error) {
	cred, ok, err := l.creds.Get(ctx, userID)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("token").Inc()
		return models.NotPlaying, fmt.Errorf("%w: %w", ErrTokenRefresh, err)
	}
	if !ok {
		return models.NotPlaying, ErrUnauthorized
	}

	status, err := l.fetcher.CurrentlyPlaying(ctx, cred.Token)
	if err != nil {
		var apiErr *spotify.APIError
		if errors.As(err, &apiErr) {
			l.creds.Invalidate(userID)
		}
		metrics.UpstreamErrors.WithLabelValues("status").Inc()
		return models.NotPlaying, fmt.Errorf("%w: %w", ErrStatusFetch, err)
	}
	return status, nil
}
