// Package download makes episodes available offline and keeps the index of
// downloaded episodes consistent with the artifact store.
package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/csams/podcast-offline/internal/artifact"
	"github.com/csams/podcast-offline/internal/kvstore"
	"github.com/csams/podcast-offline/internal/logging"
	"github.com/csams/podcast-offline/internal/models"
)

const eventBuffer = 100

// Manager handles download operations and the downloaded-episode index.
//
// An episode id is never both downloaded and in flight, and every progress
// entry belongs to an in-flight transfer.
type Manager struct {
	mu         sync.RWMutex
	kv         kvstore.Store
	artifacts  artifact.Store
	logger     *log.Logger
	opts       Options
	now        func() time.Time
	downloaded map[string]models.DownloadedEpisode
	inFlight   map[string]*transfer
	events     chan Event

	// persistMu orders snapshot+write pairs so an older snapshot never
	// overwrites a newer one.
	persistMu sync.Mutex
}

// NewManager creates a download manager. Call Load before use.
func NewManager(kv kvstore.Store, artifacts artifact.Store, opts Options, logger *log.Logger) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.ProgressMinDelta < 0 {
		opts.ProgressMinDelta = 0
	}
	return &Manager{
		kv:         kv,
		artifacts:  artifacts,
		logger:     logging.OrDiscard(logger).WithPrefix("download"),
		opts:       opts,
		now:        time.Now,
		downloaded: make(map[string]models.DownloadedEpisode),
		inFlight:   make(map[string]*transfer),
		events:     make(chan Event, eventBuffer),
	}
}

// Load reads the persisted index and drops entries whose local file has
// disappeared. A corrupt index is reset to empty. Only a failing store read
// is returned as an error.
func (m *Manager) Load(ctx context.Context) error {
	index, err := loadIndex(ctx, m.kv)
	if errors.Is(err, errCorruptIndex) {
		m.logger.Warn("resetting downloaded index", "err", err)
		m.mu.Lock()
		m.downloaded = make(map[string]models.DownloadedEpisode)
		m.mu.Unlock()
		m.persist(ctx)
		return nil
	}
	if err != nil {
		return err
	}

	pruned := 0
	if m.artifacts.Durable() {
		for id, e := range index {
			if e.IsPassthrough() {
				continue
			}
			if !m.artifacts.Exists(ctx, e.LocalURI) {
				m.logger.Info("dropping download with missing file", "episode", id, "uri", e.LocalURI)
				delete(index, id)
				pruned++
			}
		}
	}

	m.mu.Lock()
	m.downloaded = index
	m.mu.Unlock()

	if pruned > 0 {
		m.persist(ctx)
	}
	m.logger.Debug("loaded downloaded index", "entries", len(index), "pruned", pruned)
	return nil
}

// DownloadEpisode fetches one episode and records it in the index. It
// returns true when the episode is available offline afterwards. A call for
// an episode that is already in flight is a no-op returning false.
func (m *Manager) DownloadEpisode(ctx context.Context, episode models.Episode, feed models.Feed) bool {
	if episode.ID == "" {
		m.logger.Warn("refusing download without episode id", "title", episode.Title)
		return false
	}

	reserved, stale := m.reserve(ctx, episode.ID)
	if !reserved {
		return m.IsDownloaded(episode.ID)
	}

	entry, err := m.transfer(ctx, episode, feed)

	m.mu.Lock()
	delete(m.inFlight, episode.ID)
	if err == nil {
		m.downloaded[episode.ID] = entry
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("download failed", "episode", episode.ID, "title", episode.Title, "feed", feed.ID, "err", err)
		if stale {
			m.persist(ctx)
		}
		m.emit(Event{Kind: EventFailed, EpisodeID: episode.ID, Err: err})
		return false
	}

	m.persist(ctx)
	m.logger.Info("downloaded episode", "episode", episode.ID, "title", episode.Title, "uri", entry.LocalURI)
	m.emit(Event{Kind: EventCompleted, EpisodeID: episode.ID, Fraction: 1})
	return true
}

// BatchDownload downloads episodes in chunks of at most MaxConcurrent
// parallel transfers. Every job in a chunk settles before the next chunk
// starts, and each chunk's successes are written to the index at once.
// Episodes already downloaded, in flight or repeated in the input are
// skipped. It returns the entries that were added.
func (m *Manager) BatchDownload(ctx context.Context, episodes []models.Episode, feed models.Feed) []models.DownloadedEpisode {
	pending := m.filterPending(episodes)
	if len(pending) == 0 {
		return nil
	}

	var added []models.DownloadedEpisode
	size := m.opts.MaxConcurrent
	for start := 0; start < len(pending); start += size {
		if ctx.Err() != nil {
			m.logger.Debug("batch download cancelled", "feed", feed.ID, "remaining", len(pending)-start)
			break
		}
		end := min(start+size, len(pending))
		added = append(added, m.runChunk(ctx, pending[start:end], feed)...)
	}
	return added
}

type chunkResult struct {
	entry *models.DownloadedEpisode
	err   error
}

func (m *Manager) runChunk(ctx context.Context, chunk []models.Episode, feed models.Feed) []models.DownloadedEpisode {
	results := make([]chunkResult, len(chunk))
	reserved := make([]bool, len(chunk))

	var g errgroup.Group
	g.SetLimit(m.opts.MaxConcurrent)
	for i, ep := range chunk {
		// Another caller may have claimed the id since filtering
		ok, _ := m.reserve(ctx, ep.ID)
		if !ok {
			continue
		}
		reserved[i] = true
		g.Go(func() error {
			entry, err := m.transfer(ctx, ep, feed)
			if err != nil {
				results[i].err = err
				return nil
			}
			results[i].entry = &entry
			return nil
		})
	}
	_ = g.Wait()

	var added []models.DownloadedEpisode
	m.mu.Lock()
	for i, ep := range chunk {
		if !reserved[i] {
			continue
		}
		delete(m.inFlight, ep.ID)
		if e := results[i].entry; e != nil {
			m.downloaded[ep.ID] = *e
			added = append(added, *e)
		}
	}
	m.mu.Unlock()

	if len(added) > 0 {
		m.persist(ctx)
	}

	for i, ep := range chunk {
		switch {
		case !reserved[i]:
		case results[i].err != nil:
			m.logger.Error("download failed", "episode", ep.ID, "title", ep.Title, "feed", feed.ID, "err", results[i].err)
			m.emit(Event{Kind: EventFailed, EpisodeID: ep.ID, Err: results[i].err})
		default:
			m.emit(Event{Kind: EventCompleted, EpisodeID: ep.ID, Fraction: 1})
		}
	}
	m.logger.Info("batch chunk finished", "feed", feed.ID, "jobs", len(chunk), "added", len(added))
	return added
}

// RemoveDownload deletes the local artifact and the index entry. Artifact
// deletion is best-effort; the entry is removed regardless.
func (m *Manager) RemoveDownload(ctx context.Context, episodeID string) {
	m.mu.RLock()
	entry, ok := m.downloaded[episodeID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	if m.artifacts.Durable() && !entry.IsPassthrough() {
		if err := m.artifacts.Remove(ctx, entry.LocalURI); err != nil {
			m.logger.Warn("failed to delete downloaded file", "episode", episodeID, "uri", entry.LocalURI, "err", err)
		}
	}

	m.mu.Lock()
	delete(m.downloaded, episodeID)
	m.mu.Unlock()

	m.persist(ctx)
	m.logger.Info("removed download", "episode", episodeID, "title", entry.Title)
	m.emit(Event{Kind: EventRemoved, EpisodeID: episodeID})
}

// IsDownloaded reports whether the episode is in the index.
func (m *Manager) IsDownloaded(episodeID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.downloaded[episodeID]
	return ok
}

// IsDownloading reports whether a transfer for the episode is in flight.
func (m *Manager) IsDownloading(episodeID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.inFlight[episodeID]
	return ok
}

// GetLocalURI returns the playable local URI of a downloaded episode.
func (m *Manager) GetLocalURI(episodeID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.downloaded[episodeID]
	if !ok {
		return "", false
	}
	return e.LocalURI, true
}

// GetDownloadsForFeed returns the feed's downloads, newest first.
func (m *Manager) GetDownloadsForFeed(feedID string) []models.DownloadedEpisode {
	m.mu.RLock()
	var out []models.DownloadedEpisode
	for _, e := range m.downloaded {
		if e.FeedID == feedID {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	newestFirst(out)
	return out
}

// Downloads returns every downloaded episode, newest first.
func (m *Manager) Downloads() []models.DownloadedEpisode {
	m.mu.RLock()
	out := make([]models.DownloadedEpisode, 0, len(m.downloaded))
	for _, e := range m.downloaded {
		out = append(out, e)
	}
	m.mu.RUnlock()
	newestFirst(out)
	return out
}

// Progress returns the latest fraction of every in-flight transfer.
func (m *Manager) Progress() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.inFlight))
	for id, t := range m.inFlight {
		out[id] = t.fraction
	}
	return out
}

// Events returns the channel progress and completion events are published
// on. Events are dropped when the channel is full.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// StorageStats reports how much space downloads take.
func (m *Manager) StorageStats() (*StorageStats, error) {
	m.mu.RLock()
	stats := &StorageStats{EpisodeCount: len(m.downloaded)}
	for _, e := range m.downloaded {
		if !e.IsPassthrough() {
			stats.LocalCount++
		}
	}
	m.mu.RUnlock()

	if u, ok := m.artifacts.(interface{ Usage() (int64, error) }); ok {
		total, err := u.Usage()
		if err != nil {
			return nil, fmt.Errorf("failed to calculate storage usage: %w", err)
		}
		stats.TotalBytes = total
	}
	return stats, nil
}

// reserve claims the in-flight slot for id. A downloaded entry whose
// artifact is still present blocks the reservation; a stale one is dropped
// so the id is never both downloaded and in flight.
func (m *Manager) reserve(ctx context.Context, id string) (reserved, stale bool) {
	m.mu.RLock()
	e, done := m.downloaded[id]
	_, busy := m.inFlight[id]
	m.mu.RUnlock()
	if busy {
		return false, false
	}
	if done && (!m.artifacts.Durable() || e.IsPassthrough() || m.artifacts.Exists(ctx, e.LocalURI)) {
		return false, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[id]; busy {
		return false, false
	}
	if cur, ok := m.downloaded[id]; ok {
		if cur != e {
			return false, false
		}
		delete(m.downloaded, id)
		stale = true
	}
	m.inFlight[id] = newTransfer(m.opts.ProgressMinDelta, m.opts.ProgressInterval)
	return true, stale
}

func (m *Manager) filterPending(episodes []models.Episode) []models.Episode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool, len(episodes))
	var pending []models.Episode
	for _, ep := range episodes {
		if ep.ID == "" || seen[ep.ID] {
			continue
		}
		seen[ep.ID] = true
		if _, ok := m.downloaded[ep.ID]; ok {
			continue
		}
		if _, ok := m.inFlight[ep.ID]; ok {
			continue
		}
		pending = append(pending, ep)
	}
	return pending
}

// transfer runs the artifact fetch for a reserved episode and builds its
// index entry.
func (m *Manager) transfer(ctx context.Context, episode models.Episode, feed models.Feed) (models.DownloadedEpisode, error) {
	m.logger.Debug("starting download", "episode", episode.ID, "title", episode.Title)
	uri, err := m.artifacts.Fetch(ctx, episode, feed.Title, func(f float64) {
		m.reportProgress(episode.ID, f)
	})
	if err != nil {
		return models.DownloadedEpisode{}, err
	}
	entry := models.NewDownloadedEpisode(episode, feed, uri, m.now())
	if entry.FeedID == "" {
		entry.FeedID = feed.ID
	}
	return entry, nil
}

func (m *Manager) reportProgress(id string, fraction float64) {
	m.mu.Lock()
	t, ok := m.inFlight[id]
	publish := ok && t.update(fraction)
	m.mu.Unlock()
	if publish {
		m.emit(Event{Kind: EventProgress, EpisodeID: id, Fraction: fraction})
	}
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		// Drop when nobody is listening
	}
}

func (m *Manager) persist(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.RLock()
	snapshot := make(map[string]models.DownloadedEpisode, len(m.downloaded))
	for id, e := range m.downloaded {
		snapshot[id] = e
	}
	m.mu.RUnlock()

	// A cancelled caller must not lose transfers that already finished
	if err := saveIndex(context.WithoutCancel(ctx), m.kv, snapshot); err != nil {
		m.logger.Error("failed to persist downloaded index", "entries", len(snapshot), "err", err)
	}
}
