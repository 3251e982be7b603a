// Package artifact stores one playable audio blob per downloaded episode.
package artifact

import (
	"context"

	"github.com/csams/podcast-offline/internal/models"
)

// ProgressFunc receives the completed fraction of a transfer in [0, 1].
type ProgressFunc func(fraction float64)

// Store abstracts persistent per-file storage. Implementations without
// durable storage hand back the remote URL as the local artifact.
type Store interface {
	// Durable reports whether artifacts are real local files.
	Durable() bool
	// Fetch moves the episode audio into storage and returns its local URI.
	Fetch(ctx context.Context, episode models.Episode, feedTitle string, onProgress ProgressFunc) (string, error)
	// Exists reports whether the artifact behind uri is present.
	Exists(ctx context.Context, uri string) bool
	// Remove deletes the artifact behind uri.
	Remove(ctx context.Context, uri string) error
}

// Passthrough registers the remote URL itself as the artifact. No transfer
// takes place.
type Passthrough struct{}

func (Passthrough) Durable() bool { return false }

func (Passthrough) Fetch(_ context.Context, episode models.Episode, _ string, onProgress ProgressFunc) (string, error) {
	if onProgress != nil {
		onProgress(1)
	}
	return episode.AudioURL, nil
}

func (Passthrough) Exists(context.Context, string) bool { return true }

func (Passthrough) Remove(context.Context, string) error { return nil }
