package spotify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nowplaying/internal/models"
)

type fakeSpotify struct {
	t          *testing.T
	tokenCalls atomic.Int32

	tokenStatus int
	tokenBody   string

	playerStatus int
	playerBody   string

	lastGrantType string
	lastAuth      string
	lastBearer    string
}

func newFakeSpotify(t *testing.T) (*fakeSpotify, *httptest.Server) {
	f := &fakeSpotify{t: t, tokenStatus: http.StatusOK, playerStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		f.lastGrantType = r.PostForm.Get("grant_type")
		f.lastAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		w.Write([]byte(f.tokenBody))
	})
	mux.HandleFunc("/v1/me/player/currently-playing", func(w http.ResponseWriter, r *http.Request) {
		f.lastBearer = r.Header.Get("Authorization")
		if f.playerStatus == http.StatusNoContent {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.playerStatus)
		w.Write([]byte(f.playerBody))
	})
	mux.HandleFunc("/v1/me", func(w http.ResponseWriter, r *http.Request) {
		f.lastBearer = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"alice123","display_name":"Alice"}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return f, ts
}

func newTestClient(ts *httptest.Server, opts ...Option) *Client {
	opts = append([]Option{WithBaseURLs(ts.URL+"/authorize", ts.URL+"/api/token", ts.URL+"/v1")}, opts...)
	return New(Config{ClientID: "cid", ClientSecret: "csecret", RedirectURL: "http://localhost/api/callback"}, opts...)
}

func TestEstimateStart(t *testing.T) {
	const base = 1_700_000_000_000.0
	tests := []struct {
		name string
		now  float64
		want int64
	}{
		{"950ms rounds up with bias", base + 950, 1_700_000_001},
		{"300ms rounds down", base + 300, 1_700_000_000},
		{"50ms stays with bias", base + 50, 1_700_000_000},
		{"500ms no bias", base + 500, 1_700_000_000},
		{"899ms no bias", base + 899, 1_700_000_000},
		{"901ms bias", base + 901, 1_700_000_001},
		{"half ms midpoint", base + 950.5, 1_700_000_001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, estimateStart(tt.now, 0))
		})
	}
}

func TestEstimateStartSubtractsProgress(t *testing.T) {
	now := 1_700_000_100_300.0
	assert.Equal(t, int64(1_700_000_070), estimateStart(now, 30_000))
	assert.Equal(t, int64(1_700_000_071), estimateStart(now, 29_350))
}

const playingTrackJSON = `{
	"currently_playing_type": "track",
	"is_playing": true,
	"progress_ms": 30000,
	"item": {
		"id": "4uLU6hMCjMI75M1A2tKUQC",
		"name": "Never Gonna Give You Up",
		"duration_ms": 213573,
		"album": {"name": "Whenever You Need Somebody", "images": [{"url": "https://i.scdn.co/image/big"}, {"url": "https://i.scdn.co/image/small"}]},
		"artists": [{"name": "Rick Astley"}, {"name": "Someone Else"}]
	}
}`

func TestCurrentlyPlaying_Track(t *testing.T) {
	f, ts := newFakeSpotify(t)
	f.playerBody = playingTrackJSON
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_100_300))
	c := newTestClient(ts, WithClock(clock))

	status, err := c.CurrentlyPlaying(context.Background(), "access-1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer access-1", f.lastBearer)

	want := models.Status{
		IsPlaying: true,
		Song:      "Never Gonna Give You Up",
		Album:     "Whenever You Need Somebody",
		AlbumArt:  "https://i.scdn.co/image/big",
		Artist:    "Rick Astley, Someone Else",
		TrackID:   "4uLU6hMCjMI75M1A2tKUQC",
		Total:     213,
		Start:     1_700_000_070,
	}
	assert.True(t, want.Equal(status), "got %+v", status)
}

func TestCurrentlyPlaying_NoContent(t *testing.T) {
	f, ts := newFakeSpotify(t)
	f.playerStatus = http.StatusNoContent
	c := newTestClient(ts)

	status, err := c.CurrentlyPlaying(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, status.IsPlaying)
}

func TestCurrentlyPlaying_NotATrackOrPaused(t *testing.T) {
	bodies := map[string]string{
		"episode": `{"currently_playing_type":"episode","is_playing":true,"progress_ms":1,"item":{"name":"Podcast"}}`,
		"ad":      `{"currently_playing_type":"ad","is_playing":true,"progress_ms":null,"item":null}`,
		"paused":  strings.Replace(playingTrackJSON, `"is_playing": true`, `"is_playing": false`, 1),
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			f, ts := newFakeSpotify(t)
			f.playerBody = body
			status, err := newTestClient(ts).CurrentlyPlaying(context.Background(), "a")
			require.NoError(t, err)
			assert.True(t, status.Equal(models.NotPlaying))
		})
	}
}

func TestCurrentlyPlaying_NoAlbumImages(t *testing.T) {
	f, ts := newFakeSpotify(t)
	f.playerBody = strings.Replace(playingTrackJSON,
		`"images": [{"url": "https://i.scdn.co/image/big"}, {"url": "https://i.scdn.co/image/small"}]`,
		`"images": []`, 1)

	status, err := newTestClient(ts).CurrentlyPlaying(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, status.IsPlaying)
	assert.Empty(t, status.AlbumArt)
}

func TestCurrentlyPlaying_ErrorStatus(t *testing.T) {
	f, ts := newFakeSpotify(t)
	f.playerStatus = http.StatusUnauthorized
	f.playerBody = `{"error":{"status":401,"message":"The access token expired"}}`

	_, err := newTestClient(ts).CurrentlyPlaying(context.Background(), "a")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "401")
}

func TestCurrentlyPlaying_Malformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":     `{"currently_playing_type":`,
		"missing item": `{"currently_playing_type":"track","is_playing":true,"progress_ms":5}`,
	} {
		t.Run(name, func(t *testing.T) {
			f, ts := newFakeSpotify(t)
			f.playerBody = body
			_, err := newTestClient(ts).CurrentlyPlaying(context.Background(), "a")
			require.Error(t, err)
			var apiErr *APIError
			assert.False(t, errors.As(err, &apiErr))
		})
	}
}

func TestRefresh_Success(t *testing.T) {
	f, ts := newFakeSpotify(t)
	f.tokenBody = `{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`

	g, err := newTestClient(ts).Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", g.AccessToken)
	assert.Equal(t, "rt-1", g.RefreshToken)
	assert.InDelta(t, float64(time.Hour), float64(g.ExpiresIn), float64(2*time.Second))
	assert.Equal(t, "refresh_token", f.lastGrantType)
	assert.True(t, strings.HasPrefix(f.lastAuth, "Basic "), "client credentials go in the header")
}

func TestRefresh_Rotated(t *testing.T) {
	f, ts := newFakeSpotify(t)
	f.tokenBody = `{"access_token":"new-access","token_type":"Bearer","expires_in":3600,"refresh_token":"rt-2"}`

	g, err := newTestClient(ts).Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "rt-2", g.RefreshToken)
}

func TestRefresh_InvalidGrant(t *testing.T) {
	f, ts := newFakeSpotify(t)
	f.tokenStatus = http.StatusBadRequest
	f.tokenBody = `{"error":"invalid_grant","error_description":"Refresh token revoked"}`

	_, err := newTestClient(ts).Refresh(context.Background(), "rt-1")
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRefresh_ServerError(t *testing.T) {
	f, ts := newFakeSpotify(t)
	f.tokenStatus = http.StatusBadGateway
	f.tokenBody = `upstream down`

	_, err := newTestClient(ts).Refresh(context.Background(), "rt-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidGrant)
}

func TestExchange(t *testing.T) {
	f, ts := newFakeSpotify(t)
	f.tokenBody = `{"access_token":"a","token_type":"Bearer","expires_in":3600,"refresh_token":"rt"}`

	g, err := newTestClient(ts).Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "rt", g.RefreshToken)
	assert.Equal(t, "authorization_code", f.lastGrantType)
}

func TestExchange_BadCode(t *testing.T) {
	f, ts := newFakeSpotify(t)
	f.tokenStatus = http.StatusBadRequest
	f.tokenBody = `{"error":"invalid_grant","error_description":"Invalid authorization code"}`

	_, err := newTestClient(ts).Exchange(context.Background(), "bad")
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestExchange_NoRefreshToken(t *testing.T) {
	f, ts := newFakeSpotify(t)
	f.tokenBody = `{"access_token":"a","token_type":"Bearer","expires_in":3600}`

	_, err := newTestClient(ts).Exchange(context.Background(), "code")
	require.Error(t, err)
}

func TestCurrentUser(t *testing.T) {
	f, ts := newFakeSpotify(t)

	u, err := newTestClient(ts).CurrentUser(context.Background(), "access")
	require.NoError(t, err)
	assert.Equal(t, "alice123", u.ID)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.Equal(t, "Bearer access", f.lastBearer)
}

func TestAuthCodeURL(t *testing.T) {
	_, ts := newFakeSpotify(t)
	raw := newTestClient(ts).AuthCodeURL("state-xyz")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, ScopeCurrentlyPlaying, q.Get("scope"))
	assert.Equal(t, "http://localhost/api/callback", q.Get("redirect_uri"))
	assert.Equal(t, "state-xyz", q.Get("state"))
}
