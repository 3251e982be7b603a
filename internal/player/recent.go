package player

import (
	"context"
	"errors"

	"github.com/csams/podcast-offline/internal/kvstore"
	"github.com/csams/podcast-offline/internal/models"
)

// MaxRecent caps the recently played list.
const MaxRecent = 20

// LoadRecent reads the persisted recently played list. Corrupt state is
// reset to empty.
func (c *Controller) LoadRecent(ctx context.Context) {
	var entries []models.RecentEntry
	err := kvstore.GetJSON(ctx, c.kv, kvstore.KeyRecentlyPlayed, &entries)
	switch {
	case err == nil:
	case errors.Is(err, kvstore.ErrNotFound):
		return
	case errors.Is(err, kvstore.ErrCorrupt):
		c.logger.Warn("discarding corrupt recently played list", "err", err)
		c.mu.Lock()
		c.recent = nil
		c.mu.Unlock()
		c.persistRecent(ctx)
		return
	default:
		c.logger.Error("failed to read recently played list", "err", err)
		return
	}

	if len(entries) > MaxRecent {
		entries = entries[:MaxRecent]
	}
	c.mu.Lock()
	c.recent = entries
	c.mu.Unlock()
}

// RecentlyPlayed returns recently started episodes, most recent first.
func (c *Controller) RecentlyPlayed() []models.RecentEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.RecentEntry, len(c.recent))
	copy(out, c.recent)
	return out
}

// addRecent moves the episode to the front of the recent list.
func (c *Controller) addRecent(ctx context.Context, episode models.Episode, feed models.Feed) {
	entry := models.RecentEntry{
		EpisodeID:    episode.ID,
		FeedID:       feed.ID,
		EpisodeTitle: episode.Title,
		FeedTitle:    feed.Title,
		PlayedAt:     c.now(),
	}
	if entry.FeedID == "" {
		entry.FeedID = episode.FeedID
	}

	c.mu.Lock()
	updated := make([]models.RecentEntry, 0, MaxRecent)
	updated = append(updated, entry)
	for _, e := range c.recent {
		if e.EpisodeID == episode.ID {
			continue
		}
		if len(updated) == MaxRecent {
			break
		}
		updated = append(updated, e)
	}
	c.recent = updated
	c.mu.Unlock()

	c.persistRecent(ctx)
}

func (c *Controller) persistRecent(ctx context.Context) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	snapshot := make([]models.RecentEntry, len(c.recent))
	copy(snapshot, c.recent)
	c.mu.Unlock()

	if err := kvstore.SetJSON(context.WithoutCancel(ctx), c.kv, kvstore.KeyRecentlyPlayed, snapshot); err != nil {
		c.logger.Error("failed to persist recently played list", "err", err)
	}
}
