// ABOUTME: Listening history domain types passed to plugins.
// ABOUTME: A Listening is the payload of the listening_created extension point.

package history

import "time"

// Track is the subset of track metadata plugins forward to remote services.
type Track struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	Position   int    `json:"position,omitempty"`
	DiscNumber int    `json:"disc_number,omitempty"`

	// Duration in seconds, 0 when unknown.
	Duration int `json:"duration,omitempty"`

	MBID       string `json:"mbid,omitempty"`
	ArtistMBID string `json:"artist_mbid,omitempty"`
	AlbumMBID  string `json:"album_mbid,omitempty"`
}

// Listening records that a user played a track.
type Listening struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	Track     Track     `json:"track"`
	CreatedAt time.Time `json:"created_at"`
}

// FromArgs extracts the listening argument of a listening_created dispatch.
func FromArgs(args map[string]any) (Listening, bool) {
	switch v := args["listening"].(type) {
	case Listening:
		return v, true
	case *Listening:
		if v != nil {
			return *v, true
		}
	}
	return Listening{}, false
}
