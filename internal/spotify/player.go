package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"nowplaying/internal/models"
)

type image struct {
	URL string `json:"url"`
}

type album struct {
	Name   string  `json:"name"`
	Images []image `json:"images"`
}

type artist struct {
	Name string `json:"name"`
}

type track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Album      album    `json:"album"`
	Artists    []artist `json:"artists"`
	DurationMs int64    `json:"duration_ms"`
}

type currentlyPlaying struct {
	CurrentlyPlayingType string `json:"currently_playing_type"`
	IsPlaying            bool   `json:"is_playing"`
	ProgressMs           *int64 `json:"progress_ms"`
	Item                 *track `json:"item"`
}

// CurrentlyPlaying fetches what the owner of accessToken is listening to.
// Anything other than an actively playing track is models.NotPlaying.
// Non-success responses are returned as *APIError.
func (c *Client) CurrentlyPlaying(ctx context.Context, accessToken string) (models.Status, error) {
	before := c.clock.Now()
	_, body, err := c.get(ctx, "/me/player/currently-playing", accessToken)
	after := c.clock.Now()
	if err != nil {
		return models.NotPlaying, err
	}
	if body == nil {
		return models.NotPlaying, nil
	}

	var cp currentlyPlaying
	if err := json.Unmarshal(body, &cp); err != nil {
		return models.NotPlaying, fmt.Errorf("decoding currently playing: %w", err)
	}
	if cp.CurrentlyPlayingType != "track" || !cp.IsPlaying {
		return models.NotPlaying, nil
	}
	if cp.Item == nil || cp.ProgressMs == nil {
		return models.NotPlaying, errors.New("currently playing track without item or progress")
	}

	// Latency compensation: the progress was sampled somewhere during the
	// request, so measure from the midpoint.
	nowMs := float64(before.UnixMilli()+after.UnixMilli()) / 2

	artists := make([]string, 0, len(cp.Item.Artists))
	for _, a := range cp.Item.Artists {
		artists = append(artists, a.Name)
	}
	var albumArt string
	if len(cp.Item.Album.Images) > 0 {
		albumArt = cp.Item.Album.Images[0].URL
	}

	return models.Status{
		IsPlaying: true,
		Song:      cp.Item.Name,
		Album:     cp.Item.Album.Name,
		AlbumArt:  albumArt,
		Artist:    strings.Join(artists, ", "),
		TrackID:   cp.Item.ID,
		Total:     cp.Item.DurationMs / 1000,
		Start:     estimateStart(nowMs, *cp.ProgressMs),
	}, nil
}

// estimateStart returns the playback start in unix seconds. When the start
// lands within 100ms of a whole second a half-second bias is added before
// flooring, so sub-second jitter between polls does not flip the result
// between two adjacent seconds.
func estimateStart(nowMs float64, progressMs int64) int64 {
	startMs := nowMs - float64(progressMs)
	ms := math.Mod(startMs, 1000)
	if ms < 0 {
		ms += 1000
	}
	dist := ms
	if ms > 500 {
		dist = 1000 - ms
	}
	if dist < 100 {
		startMs += 500
	}
	return int64(math.Floor(startMs / 1000))
}
