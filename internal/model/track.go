package model

import (
	"strings"
	"time"
)

// Track is a known catalog track. ExternalURL is its best external-link source, if any.
type Track struct {
	ID          int64
	Title       string
	Artists     []string
	DurationSec *int
	ExternalURL string
	LocalFileID *int64
}

// DisplayTitle is the title used for download records, "Artist, Artist - Title" when artists are known.
func (t *Track) DisplayTitle() string {
	title := strings.TrimSpace(t.Title)
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		if a = strings.TrimSpace(a); a != "" {
			artists = append(artists, a)
		}
	}
	if len(artists) == 0 {
		return title
	}
	if title == "" {
		return strings.Join(artists, ", ")
	}
	return strings.Join(artists, ", ") + " - " + title
}

type LocalFile struct {
	ID          int64
	Path        string
	Title       *string
	DurationSec *int
	ProcessID   *int64
	CreatedAt   time.Time
}

// Target names what a backend should download: a bare URL or a known track.
// Title and DurationSec only apply when URL is set.
type Target struct {
	URL         string
	TrackID     *int64
	Title       *string
	DurationSec *int
}
