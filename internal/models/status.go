package models

import (
	"encoding/json"
	"time"
)

// Credential is a short-lived bearer token for the status provider.
type Credential struct {
	Token      string
	ValidUntil time.Time
}

// Valid reports whether the credential can still be used at now.
func (c Credential) Valid(now time.Time) bool {
	return c.Token != "" && now.Before(c.ValidUntil)
}

// Status is either a playing track or the not-playing state.
// A zero Status is NotPlaying.
type Status struct {
	IsPlaying bool
	Song      string
	Album     string
	AlbumArt  string
	Artist    string
	TrackID   string
	// Total is the track duration in whole seconds.
	Total int64
	// Start is the estimated playback start as a unix timestamp in seconds.
	Start int64
}

// NotPlaying is the status reported when nothing (or no track) is playing.
var NotPlaying = Status{}

// Equal compares two statuses field by field. All NotPlaying values are equal
// regardless of leftover track fields.
func (s Status) Equal(o Status) bool {
	if s.IsPlaying != o.IsPlaying {
		return false
	}
	if !s.IsPlaying {
		return true
	}
	return s.Song == o.Song &&
		s.Album == o.Album &&
		s.AlbumArt == o.AlbumArt &&
		s.Artist == o.Artist &&
		s.TrackID == o.TrackID &&
		s.Total == o.Total &&
		s.Start == o.Start
}

type notPlayingJSON struct {
	IsPlaying bool `json:"is_playing"`
}

type playingJSON struct {
	IsPlaying bool   `json:"is_playing"`
	Song      string `json:"song"`
	Album     string `json:"album"`
	AlbumArt  string `json:"album_art"`
	Artist    string `json:"artist"`
	Total     int64  `json:"total"`
	Start     int64  `json:"start"`
	TrackID   string `json:"track_id"`
}

func (s Status) MarshalJSON() ([]byte, error) {
	if !s.IsPlaying {
		return json.Marshal(notPlayingJSON{})
	}
	return json.Marshal(playingJSON{
		IsPlaying: true,
		Song:      s.Song,
		Album:     s.Album,
		AlbumArt:  s.AlbumArt,
		Artist:    s.Artist,
		Total:     s.Total,
		Start:     s.Start,
		TrackID:   s.TrackID,
	})
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var p playingJSON
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if !p.IsPlaying {
		*s = NotPlaying
		return nil
	}
	*s = Status{
		IsPlaying: true,
		Song:      p.Song,
		Album:     p.Album,
		AlbumArt:  p.AlbumArt,
		Artist:    p.Artist,
		TrackID:   p.TrackID,
		Total:     p.Total,
		Start:     p.Start,
	}
	return nil
}
