// Package tokens caches short-lived Spotify access tokens per user and
// refreshes them from the stored long-lived refresh token on demand.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"nowplaying/internal/metrics"
	"nowplaying/internal/models"
	"nowplaying/internal/spotify"
)

// ExpiryMargin is how long before the declared expiry a credential is evicted.
const ExpiryMargin = 5 * time.Second

// SecretStore persists long-lived refresh tokens. GetRefreshToken returns an
// empty string when the user never authorized or has been revoked.
type SecretStore interface {
	GetRefreshToken(ctx context.Context, userID string) (string, error)
	SetRefreshToken(ctx context.Context, userID, token string) error
	DeleteRefreshToken(ctx context.Context, userID string) error
}

// Refresher exchanges a refresh token for an access token. It returns an error
// wrapping spotify.ErrInvalidGrant when the refresh token was revoked.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*spotify.Grant, error)
}

type entry struct {
	cred  models.Credential
	timer clockwork.Timer
}

type Cache struct {
	store     SecretStore
	refresher Refresher
	clock     clockwork.Clock

	mu      sync.Mutex
	entries map[string]*entry

	group singleflight.Group
}

type Option func(*Cache)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

func New(store SecretStore, refresher Refresher, opts ...Option) *Cache {
	c := &Cache{
		store:     store,
		refresher: refresher,
		clock:     clockwork.NewRealClock(),
		entries:   make(map[string]*entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type refreshResult struct {
	cred models.Credential
	ok   bool
}

// Get returns a usable credential for userID. ok is false (with a nil error)
// when the user has not authorized the application or revoked access; errors
// are transient and nothing is cached for them.
func (c *Cache) Get(ctx context.Context, userID string) (models.Credential, bool, error) {
	if cred, ok := c.cached(userID); ok {
		return cred, true, nil
	}

	v, err, _ := c.group.Do(userID, func() (any, error) {
		return c.refresh(ctx, userID)
	})
	if err != nil {
		return models.Credential{}, false, err
	}
	res := v.(refreshResult)
	return res.cred, res.ok, nil
}

// Invalidate drops the cached credential so the next Get refreshes it.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[userID]; ok {
		e.timer.Stop()
		delete(c.entries, userID)
	}
}

func (c *Cache) cached(userID string) (models.Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if !ok || !e.cred.Valid(c.clock.Now()) {
		return models.Credential{}, false
	}
	return e.cred, true
}

func (c *Cache) refresh(ctx context.Context, userID string) (refreshResult, error) {
	refreshToken, err := c.store.GetRefreshToken(ctx, userID)
	if err != nil {
		return refreshResult{}, fmt.Errorf("loading refresh token: %w", err)
	}
	if refreshToken == "" {
		return refreshResult{}, nil
	}

	grant, err := c.refresher.Refresh(ctx, refreshToken)
	if errors.Is(err, spotify.ErrInvalidGrant) {
		metrics.TokenRefreshes.WithLabelValues("revoked").Inc()
		slog.Debug("user has deauthorized the application", "user_id", userID)
		if err := c.store.DeleteRefreshToken(ctx, userID); err != nil {
			slog.Error("deleting revoked refresh token", "user_id", userID, "error", err)
		}
		return refreshResult{}, nil
	}
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return refreshResult{}, fmt.Errorf("refreshing access token: %w", err)
	}
	metrics.TokenRefreshes.WithLabelValues("ok").Inc()

	if grant.RefreshToken != "" && grant.RefreshToken != refreshToken {
		if err := c.store.SetRefreshToken(ctx, userID, grant.RefreshToken); err != nil {
			slog.Error("storing rotated refresh token", "user_id", userID, "error", err)
		}
	}

	ttl := grant.ExpiresIn - ExpiryMargin
	cred := models.Credential{Token: grant.AccessToken, ValidUntil: c.clock.Now().Add(ttl)}
	if ttl > 0 {
		c.put(userID, cred, ttl)
	}
	return refreshResult{cred: cred, ok: true}, nil
}

func (c *Cache) put(userID string, cred models.Credential, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[userID]; ok {
		old.timer.Stop()
	}
	e := &entry{cred: cred}
	e.timer = c.clock.AfterFunc(ttl, func() { c.evict(userID, e) })
	c.entries[userID] = e
}

func (c *Cache) evict(userID string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[userID] == e {
		delete(c.entries, userID)
	}
}
