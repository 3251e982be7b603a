// Package positions keeps per-episode resume points.
package positions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/csams/podcast-offline/internal/kvstore"
	"github.com/csams/podcast-offline/internal/logging"
	"github.com/csams/podcast-offline/internal/models"
)

const (
	// MaxEntries caps the number of stored positions.
	MaxEntries = 200
	// CompletionRatio above which an episode counts as finished.
	CompletionRatio = 0.97
	// MinPositionMs below which a position is not worth resuming.
	MinPositionMs = 3000
)

// Uploader receives positions for best-effort backend sync.
type Uploader interface {
	UploadPositions(ctx context.Context, positions []models.SavedPosition) error
}

// Store holds saved positions in memory and mirrors every change to the
// key-value store.
type Store struct {
	mu        sync.RWMutex
	kv        kvstore.Store
	logger    *log.Logger
	now       func() time.Time
	positions map[string]models.SavedPosition

	// persistMu orders snapshot+write pairs so an older snapshot never
	// overwrites a newer one.
	persistMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store. Call Load to read persisted state.
func New(kv kvstore.Store, logger *log.Logger, opts ...Option) *Store {
	s := &Store{
		kv:        kv,
		logger:    logging.OrDiscard(logger).WithPrefix("positions"),
		now:       time.Now,
		positions: make(map[string]models.SavedPosition),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads persisted positions. Corrupt state is discarded and reset.
func (s *Store) Load(ctx context.Context) {
	loaded := make(map[string]models.SavedPosition)
	err := kvstore.GetJSON(ctx, s.kv, kvstore.KeyPlaybackPositions, &loaded)
	switch {
	case err == nil:
	case errors.Is(err, kvstore.ErrNotFound):
		loaded = make(map[string]models.SavedPosition)
	case errors.Is(err, kvstore.ErrCorrupt):
		s.logger.Warn("discarding corrupt saved positions", "err", err)
		loaded = make(map[string]models.SavedPosition)
		s.mu.Lock()
		s.positions = loaded
		s.mu.Unlock()
		s.persist(ctx)
		return
	default:
		s.logger.Error("failed to read saved positions", "err", err)
		return
	}
	if loaded == nil {
		loaded = make(map[string]models.SavedPosition)
	}

	s.mu.Lock()
	s.positions = loaded
	evicted := s.evictLocked()
	s.mu.Unlock()

	if evicted > 0 {
		s.persist(ctx)
	}
}

// Get returns the saved position for an episode.
func (s *Store) Get(episodeID string) (models.SavedPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[episodeID]
	return p, ok
}

// Len returns the number of stored positions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// All returns every saved position, most recently updated first.
func (s *Store) All() []models.SavedPosition {
	s.mu.RLock()
	out := make([]models.SavedPosition, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Save records the playback position of an episode.
//
// Past 97% completion the position is deleted. Otherwise positions beyond
// the first three seconds are upserted, and the store is trimmed back to
// MaxEntries by evicting the least recently updated entries.
func (s *Store) Save(ctx context.Context, episodeID, feedID string, positionMs, durationMs int64) {
	if episodeID == "" {
		return
	}

	ratio := 0.0
	if durationMs > 0 {
		ratio = float64(positionMs) / float64(durationMs)
	}

	s.mu.Lock()
	switch {
	case ratio > CompletionRatio:
		if _, ok := s.positions[episodeID]; !ok {
			s.mu.Unlock()
			return
		}
		delete(s.positions, episodeID)
	case positionMs > MinPositionMs:
		s.positions[episodeID] = models.SavedPosition{
			EpisodeID:  episodeID,
			FeedID:     feedID,
			PositionMs: positionMs,
			DurationMs: durationMs,
			UpdatedAt:  s.now(),
		}
		s.evictLocked()
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.persist(ctx)
}

// Delete removes the saved position for an episode.
func (s *Store) Delete(ctx context.Context, episodeID string) {
	s.mu.Lock()
	if _, ok := s.positions[episodeID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.positions, episodeID)
	s.mu.Unlock()

	s.persist(ctx)
}

// Sync uploads every saved position. Failures are logged only.
func (s *Store) Sync(ctx context.Context, up Uploader) {
	if up == nil {
		return
	}
	all := s.All()
	if len(all) == 0 {
		return
	}
	if err := up.UploadPositions(ctx, all); err != nil {
		s.logger.Warn("position sync failed", "count", len(all), "err", err)
		return
	}
	s.logger.Debug("positions synced", "count", len(all))
}

// evictLocked drops the oldest entries until at most MaxEntries remain.
func (s *Store) evictLocked() int {
	excess := len(s.positions) - MaxEntries
	if excess <= 0 {
		return 0
	}

	ordered := make([]models.SavedPosition, 0, len(s.positions))
	for _, p := range s.positions {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].UpdatedAt.Before(ordered[j].UpdatedAt)
	})
	for _, p := range ordered[:excess] {
		delete(s.positions, p.EpisodeID)
	}
	return excess
}

func (s *Store) persist(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[string]models.SavedPosition, len(s.positions))
	for k, v := range s.positions {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	if err := kvstore.SetJSON(ctx, s.kv, kvstore.KeyPlaybackPositions, snapshot); err != nil {
		s.logger.Error("failed to persist saved positions", "err", err)
	}
}
