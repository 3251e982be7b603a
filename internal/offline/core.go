// Package offline wires the offline media components into one Core.
package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/csams/podcast-offline/internal/artifact"
	"github.com/csams/podcast-offline/internal/autosync"
	"github.com/csams/podcast-offline/internal/backend"
	"github.com/csams/podcast-offline/internal/config"
	"github.com/csams/podcast-offline/internal/download"
	"github.com/csams/podcast-offline/internal/feed"
	"github.com/csams/podcast-offline/internal/kvstore"
	"github.com/csams/podcast-offline/internal/logging"
	"github.com/csams/podcast-offline/internal/models"
	"github.com/csams/podcast-offline/internal/netstate"
	"github.com/csams/podcast-offline/internal/player"
	"github.com/csams/podcast-offline/internal/positions"
)

// Core owns every offline component and the store they share.
type Core struct {
	Config    *config.Config
	Positions *positions.Store
	Downloads *download.Manager
	Player    *player.Controller
	Backend   *backend.Client
	RSS       *feed.Source
	Network   *netstate.Checker

	store     *kvstore.SQLite
	source    autosync.EpisodeSource
	scheduler *autosync.Scheduler
	logger    *log.Logger

	mu         sync.RWMutex
	followed   models.Subscriptions
	stopSync   context.CancelFunc
	syncActive bool
	closed     bool
}

// New builds a Core that plays through mpv.
func New(ctx context.Context, cfg *config.Config, configDir string, logger *log.Logger) (*Core, error) {
	engine := player.NewMPV(cfg.Playback.MPVBinary, cfg.Playback.MPVSocket, logger)
	return NewWithEngine(ctx, cfg, configDir, engine, logger)
}

// NewWithEngine builds a Core on top of the given media engine. Persisted
// state is loaded before it returns.
func NewWithEngine(ctx context.Context, cfg *config.Config, configDir string, engine player.MediaEngine, logger *log.Logger) (*Core, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger = logging.OrDiscard(logger)

	store, err := kvstore.OpenSQLite(cfg.ResolveDataDir(configDir))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	artifacts, err := newArtifacts(cfg, configDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	c := &Core{
		Config:  cfg,
		Backend: backend.NewClient(cfg.Backend, logger),
		RSS:     feed.NewSource(cfg.Backend.Timeout(), cfg.Backend.UserAgent, logger),
		Network: netstate.NewChecker(cfg.Sync.WifiOnly, logger),
		store:   store,
		logger:  logger.WithPrefix("offline"),
	}

	c.Positions = positions.New(store, logger)
	c.Positions.Load(ctx)

	c.Downloads = download.NewManager(store, artifacts, download.OptionsFromConfig(cfg.Downloads), logger)
	if err := c.Downloads.Load(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("load downloads: %w", err)
	}

	var listens player.ListenRecorder
	if c.Backend.Configured() {
		listens = c.Backend
	}
	c.Player = player.NewController(engine, c.Positions, c.Downloads, listens, store, player.OptionsFromConfig(cfg.Playback), logger)
	c.Player.LoadRecent(ctx)

	if err := kvstore.GetJSON(ctx, store, kvstore.KeyFollowedFeeds, &c.followed); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		c.logger.Warn("discarding unreadable followed feeds", "err", err)
		c.followed = models.Subscriptions{}
	}

	c.source = c.episodeSource()
	c.scheduler = autosync.NewScheduler(c.source, c.Downloads, c.Network, cfg.Sync.Interval(), logger,
		autosync.WithAfterSweep(c.afterSweep))

	return c, nil
}

func newArtifacts(cfg *config.Config, configDir string) (artifact.Store, error) {
	if !cfg.Storage.DurableFiles {
		return artifact.Passthrough{}, nil
	}
	files, err := artifact.NewFiles(cfg.ResolveDownloadDir(configDir),
		artifact.WithUserAgent(cfg.Backend.UserAgent))
	if err != nil {
		return nil, fmt.Errorf("create artifact store: %w", err)
	}
	return files, nil
}

// episodeSource picks where auto-sync lists episodes from. An unconfigured
// backend falls back to the feeds' own RSS.
func (c *Core) episodeSource() autosync.EpisodeSource {
	if c.Config.Sync.Source == config.SourceRSS {
		return c.RSS
	}
	if !c.Backend.Configured() {
		c.logger.Info("backend not configured, syncing from RSS")
		return c.RSS
	}
	return c.Backend
}

func (c *Core) afterSweep(ctx context.Context) {
	if c.Backend.Configured() {
		c.Positions.Sync(ctx, c.Backend)
	}
}

// Episodes lists a feed's episodes from the configured episode source.
func (c *Core) Episodes(ctx context.Context, f models.Feed) ([]models.Episode, error) {
	return c.source.FetchEpisodes(ctx, f)
}

// FollowedFeed looks up a followed feed by id.
func (c *Core) FollowedFeed(feedID string) (models.Feed, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, f := range c.followed.Feeds {
		if f.ID == feedID {
			return f, true
		}
	}
	return models.Feed{}, false
}

// DownloadEpisodes batch-downloads episodes of feed, then trims the feed
// back to max_episodes_per_feed. It returns the episodes that completed.
func (c *Core) DownloadEpisodes(ctx context.Context, episodes []models.Episode, f models.Feed) []models.DownloadedEpisode {
	added := c.Downloads.BatchDownload(ctx, episodes, f)
	if removed := c.Downloads.EnforceStorageLimit(ctx, f.ID, c.Config.Downloads.MaxEpisodesPerFeed); removed > 0 {
		c.logger.Info("retention removed old downloads", "feed", f.ID, "removed", removed)
	}
	return added
}

// Follow adds feed to the auto-sync set.
func (c *Core) Follow(ctx context.Context, f models.Feed) error {
	if f.ID == "" {
		return errors.New("feed has no id")
	}
	c.mu.Lock()
	c.followed.Add(f)
	snapshot := models.Subscriptions{Feeds: c.followed.Snapshot()}
	c.mu.Unlock()
	return c.persistFollowed(ctx, snapshot)
}

// FollowURL fetches an RSS feed and follows it.
func (c *Core) FollowURL(ctx context.Context, feedURL string) (models.Feed, error) {
	f, _, err := c.RSS.FetchFeed(ctx, feedURL)
	if err != nil {
		return models.Feed{}, err
	}
	return f, c.Follow(ctx, f)
}

// Unfollow removes a feed from the auto-sync set. Its downloads stay.
func (c *Core) Unfollow(ctx context.Context, feedID string) error {
	c.mu.Lock()
	c.followed.Remove(feedID)
	snapshot := models.Subscriptions{Feeds: c.followed.Snapshot()}
	c.mu.Unlock()
	return c.persistFollowed(ctx, snapshot)
}

// Followed returns the followed feeds.
func (c *Core) Followed() []models.Feed {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.followed.Snapshot()
}

func (c *Core) persistFollowed(ctx context.Context, s models.Subscriptions) error {
	if err := kvstore.SetJSON(ctx, c.store, kvstore.KeyFollowedFeeds, s); err != nil {
		return fmt.Errorf("save followed feeds: %w", err)
	}
	return nil
}

// StartAutoSync starts periodic sweeps over feeds, or over the followed
// feeds when feeds is nil. It does nothing when sync is disabled or
// already running.
func (c *Core) StartAutoSync(ctx context.Context, feeds func() []models.Feed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.syncActive || !c.Config.Sync.Enabled {
		return
	}
	if feeds == nil {
		feeds = c.Followed
	}
	ctx, c.stopSync = context.WithCancel(ctx)
	c.syncActive = true
	c.scheduler.Start(ctx, feeds, c.Config.Downloads.MaxEpisodesPerFeed)
}

// SyncNow runs one sweep over the followed feeds.
func (c *Core) SyncNow(ctx context.Context) autosync.Report {
	report := c.scheduler.SyncOnce(ctx, c.Followed(), c.Config.Downloads.MaxEpisodesPerFeed)
	if !report.Deferred {
		c.afterSweep(ctx)
	}
	return report
}

// Close stops playback and sync, then releases the store.
func (c *Core) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stop := c.stopSync
	c.mu.Unlock()

	if stop != nil {
		stop()
		c.scheduler.Wait()
	}

	var errs []error
	if err := c.Player.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close player: %w", err))
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
