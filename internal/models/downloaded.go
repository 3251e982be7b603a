package models

import "time"

// DownloadedEpisode is an Episode made available offline. LocalURI equal to
// AudioURL means there is no real local copy (pass-through storage).
type DownloadedEpisode struct {
	ID           string     `json:"id"`
	FeedID       string     `json:"feedId"`
	Title        string     `json:"title"`
	AudioURL     string     `json:"audioUrl"`
	DurationMs   int64      `json:"durationMs,omitempty"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
	ImageURL     string     `json:"imageUrl,omitempty"`
	LocalURI     string     `json:"localUri"`
	FeedTitle    string     `json:"feedTitle"`
	FeedImageURL string     `json:"feedImageUrl,omitempty"`
	DownloadedAt time.Time  `json:"downloadedAt"`
}

// NewDownloadedEpisode projects an episode and its feed into an index entry.
func NewDownloadedEpisode(ep Episode, feed Feed, localURI string, at time.Time) DownloadedEpisode {
	return DownloadedEpisode{
		ID:           ep.ID,
		FeedID:       ep.FeedID,
		Title:        ep.Title,
		AudioURL:     ep.AudioURL,
		DurationMs:   ep.DurationMs(),
		PublishedAt:  ep.PublishedAt,
		ImageURL:     ep.ImageURL,
		LocalURI:     localURI,
		FeedTitle:    feed.Title,
		FeedImageURL: feed.ImageURL,
		DownloadedAt: at,
	}
}

// IsPassthrough reports whether the entry has no real local copy.
func (d DownloadedEpisode) IsPassthrough() bool {
	return d.LocalURI == d.AudioURL
}

// Episode rebuilds the episode this entry was projected from.
func (d DownloadedEpisode) Episode() Episode {
	ep := Episode{
		ID:          d.ID,
		FeedID:      d.FeedID,
		Title:       d.Title,
		AudioURL:    d.AudioURL,
		PublishedAt: d.PublishedAt,
		ImageURL:    d.ImageURL,
	}
	if d.DurationMs > 0 {
		dur := time.Duration(d.DurationMs) * time.Millisecond
		ep.Duration = &dur
	}
	return ep
}
