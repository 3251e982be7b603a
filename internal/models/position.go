package models

import "time"

// SavedPosition is the persisted resume point for an episode.
type SavedPosition struct {
	EpisodeID  string    `json:"episodeId"`
	FeedID     string    `json:"feedId"`
	PositionMs int64     `json:"positionMs"`
	DurationMs int64     `json:"durationMs"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// RecentEntry represents a single episode in the recently played list
type RecentEntry struct {
	EpisodeID    string    `json:"episodeId"`
	FeedID       string    `json:"feedId"`
	EpisodeTitle string    `json:"episodeTitle"`
	FeedTitle    string    `json:"feedTitle"`
	PlayedAt     time.Time `json:"playedAt"`
}

// ListenEvent reports that playback of an episode started.
type ListenEvent struct {
	ID         string    `json:"id"`
	EpisodeID  string    `json:"episodeId"`
	FeedID     string    `json:"feedId"`
	PositionMs int64     `json:"positionMs"`
	StartedAt  time.Time `json:"startedAt"`
}
