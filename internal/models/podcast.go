package models

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Feed is a show that owns zero or more episodes.
type Feed struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ImageURL string `json:"imageUrl,omitempty"`
	Author   string `json:"author,omitempty"`
	FeedURL  string `json:"feedUrl,omitempty"` // RSS location, used by the rss episode source
}

// Episode is immutable once ingested. Episodes reference their feed by id.
type Episode struct {
	ID          string         `json:"id"`
	FeedID      string         `json:"feedId"`
	Title       string         `json:"title"`
	AudioURL    string         `json:"audioUrl"`
	Duration    *time.Duration `json:"duration,omitempty"`
	PublishedAt *time.Time     `json:"publishedAt,omitempty"`
	ImageURL    string         `json:"imageUrl,omitempty"`
}

// DurationMs returns the declared duration in milliseconds, or 0 when unknown.
func (e Episode) DurationMs() int64 {
	if e.Duration == nil {
		return 0
	}
	return e.Duration.Milliseconds()
}

// GenerateEpisodeID creates a unique ID for an episode based on feed URL, audio URL, and publish date
func GenerateEpisodeID(feedURL, audioURL string, publishDate time.Time) string {
	h := sha256.New()
	h.Write([]byte(feedURL + audioURL + publishDate.Format(time.RFC3339)))
	return fmt.Sprintf("%x", h.Sum(nil))[:16] // First 16 chars for filename safety
}
