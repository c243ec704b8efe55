package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Grant is a token response from the accounts service.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// AuthCodeURL is where users are sent to authorize the application.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a grant that includes the
// long-lived refresh token.
func (c *Client) Exchange(ctx context.Context, code string) (*Grant, error) {
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, translateTokenError(err)
	}
	if tok.RefreshToken == "" {
		return nil, errors.New("token response has no refresh_token")
	}
	return toGrant(tok), nil
}

// Refresh trades a refresh token for a fresh access token. The returned grant
// carries the refresh token to keep using, which differs from the input when
// the accounts service rotated it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, translateTokenError(err)
	}
	g := toGrant(tok)
	if g.RefreshToken == "" {
		g.RefreshToken = refreshToken
	}
	return g, nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func toGrant(tok *oauth2.Token) *Grant {
	g := &Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	switch {
	case tok.ExpiresIn > 0:
		g.ExpiresIn = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		g.ExpiresIn = time.Until(tok.Expiry).Round(time.Second)
	}
	return g
}

func translateTokenError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		if rErr.Response.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", ErrInvalidGrant, rErr.ErrorCode)
		}
		return fmt.Errorf("token endpoint returned status %d: %w", rErr.Response.StatusCode, err)
	}
	return fmt.Errorf("token request failed: %w", err)
}
