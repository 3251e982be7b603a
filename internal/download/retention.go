package download

import "context"

// EnforceStorageLimit keeps the maxPerFeed most recently downloaded episodes
// of a feed and removes the rest, returning how many were removed. A limit
// of zero or less means no limit.
func (m *Manager) EnforceStorageLimit(ctx context.Context, feedID string, maxPerFeed int) int {
	if maxPerFeed <= 0 {
		return 0
	}

	downloads := m.GetDownloadsForFeed(feedID)
	if len(downloads) <= maxPerFeed {
		return 0
	}

	removed := 0
	for _, e := range downloads[maxPerFeed:] {
		m.RemoveDownload(ctx, e.ID)
		removed++
	}
	m.logger.Info("enforced storage limit", "feed", feedID, "limit", maxPerFeed, "removed", removed)
	return removed
}
