package download

import (
	"time"

	"github.com/csams/podcast-offline/internal/config"
)

// EventKind identifies what changed in the download manager.
type EventKind int

const (
	EventProgress EventKind = iota
	EventCompleted
	EventFailed
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is published on the manager's event channel.
type Event struct {
	Kind      EventKind
	EpisodeID string
	Fraction  float64 // 0.0 to 1.0, meaningful for progress events
	Err       error   // set for failed events
}

// Options tunes the download manager.
type Options struct {
	MaxConcurrent    int
	ProgressMinDelta float64
	ProgressInterval time.Duration
}

// DefaultOptions returns the default download options
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig().Downloads)
}

// OptionsFromConfig converts the [downloads] config section.
func OptionsFromConfig(cfg config.Downloads) Options {
	return Options{
		MaxConcurrent:    cfg.MaxConcurrent,
		ProgressMinDelta: cfg.ProgressMinDelta,
		ProgressInterval: cfg.ProgressInterval(),
	}
}

// StorageStats represents storage usage statistics
type StorageStats struct {
	TotalBytes   int64 `json:"totalBytes"`
	EpisodeCount int   `json:"episodeCount"`
	LocalCount   int   `json:"localCount"`
}
