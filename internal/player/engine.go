// Package player drives a single playback session on top of a media engine
// and keeps its resume position and recently played list up to date.
package player

import (
	"context"
	"time"
)

// Status is a point-in-time view of the media engine.
type Status struct {
	Position  time.Duration
	Duration  time.Duration
	Playing   bool
	Buffering bool
	// Finished is set once playback reached the end of the media.
	Finished bool
}

// MediaEngine is the platform audio engine. Load blocks until the media is
// ready to play or fails. A loaded source starts paused.
type MediaEngine interface {
	Load(ctx context.Context, uri string) error
	Play() error
	Pause() error
	Seek(pos time.Duration) error
	SetRate(rate float64) error
	Unload() error
	Status(ctx context.Context) (Status, error)
	Close() error
}
