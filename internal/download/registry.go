package download

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/csams/podcast-offline/internal/kvstore"
	"github.com/csams/podcast-offline/internal/models"
)

// errCorruptIndex marks a persisted index that could not be decoded.
var errCorruptIndex = errors.New("corrupt downloaded index")

// loadIndex reads the persisted downloaded-episode list. A missing key is an
// empty index. Duplicate ids keep the most recent download.
func loadIndex(ctx context.Context, kv kvstore.Store) (map[string]models.DownloadedEpisode, error) {
	var entries []models.DownloadedEpisode
	err := kvstore.GetJSON(ctx, kv, kvstore.KeyDownloadedEpisodes, &entries)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return make(map[string]models.DownloadedEpisode), nil
	case errors.Is(err, kvstore.ErrCorrupt):
		return nil, fmt.Errorf("%w: %v", errCorruptIndex, err)
	case err != nil:
		return nil, fmt.Errorf("failed to read downloaded index: %w", err)
	}

	index := make(map[string]models.DownloadedEpisode, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		if prev, ok := index[e.ID]; ok && prev.DownloadedAt.After(e.DownloadedAt) {
			continue
		}
		index[e.ID] = e
	}
	return index, nil
}

// saveIndex writes the full index as a single list, oldest first.
func saveIndex(ctx context.Context, kv kvstore.Store, index map[string]models.DownloadedEpisode) error {
	entries := make([]models.DownloadedEpisode, 0, len(index))
	for _, e := range index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DownloadedAt.Equal(entries[j].DownloadedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].DownloadedAt.Before(entries[j].DownloadedAt)
	})
	if err := kvstore.SetJSON(ctx, kv, kvstore.KeyDownloadedEpisodes, entries); err != nil {
		return fmt.Errorf("failed to save downloaded index: %w", err)
	}
	return nil
}

// newestFirst sorts entries by download time, most recent first.
func newestFirst(entries []models.DownloadedEpisode) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].DownloadedAt.Equal(entries[j].DownloadedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].DownloadedAt.After(entries[j].DownloadedAt)
	})
}
