// Package spotify talks to the Spotify accounts service (OAuth2 token issuer)
// and the Web API endpoints the gateway needs.
//
// API reference: https://developer.spotify.com/documentation/web-api/reference/
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"nowplaying/internal/httputil"
)

const (
	defaultAuthURL  = "https://accounts.spotify.com/authorize"
	defaultTokenURL = "https://accounts.spotify.com/api/token"
	defaultAPIURL   = "https://api.spotify.com/v1"

	// ScopeCurrentlyPlaying is the only scope the gateway requests.
	ScopeCurrentlyPlaying = "user-read-currently-playing"
)

// ErrInvalidGrant is returned when the accounts service rejects a code or
// refresh token with 400. For refresh tokens it means the user revoked access.
var ErrInvalidGrant = errors.New("invalid grant")

// APIError is a non-success response from the Web API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify returned status %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type Client struct {
	oauth  oauth2.Config
	apiURL string
	http   *http.Client
	clock  clockwork.Clock
}

type Option func(*Client)

// WithBaseURLs points the client at alternative accounts/API hosts (tests).
func WithBaseURLs(authURL, tokenURL, apiURL string) Option {
	return func(c *Client) {
		c.oauth.Endpoint.AuthURL = authURL
		c.oauth.Endpoint.TokenURL = tokenURL
		c.apiURL = apiURL
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{ScopeCurrentlyPlaying},
			Endpoint: oauth2.Endpoint{
				AuthURL:   defaultAuthURL,
				TokenURL:  defaultTokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		apiURL: defaultAPIURL,
		http:   httputil.NewClient(),
		clock:  clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// get performs an authenticated GET against the Web API. A 204 yields a nil
// body and no error; any other non-2xx yields *APIError.
func (c *Client) get(ctx context.Context, path, accessToken string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("connection failed: %w", err)
	}
	defer httputil.DrainBody(resp)

	if resp.StatusCode == http.StatusNoContent {
		return resp, nil, nil
	}

	body, err := httputil.ReadBody(resp)
	if err != nil {
		return resp, nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil, &APIError{StatusCode: resp.StatusCode, Body: httputil.Truncate(body, 200)}
	}
	return resp, body, nil
}

// User is the subset of the current user's profile the gateway keeps.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// CurrentUser returns the profile of the user owning accessToken.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	_, body, err := c.get(ctx, "/me", accessToken)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("empty profile response")
	}
	var u User
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	if u.ID == "" {
		return nil, errors.New("profile response has no id")
	}
	return &u, nil
}
