// Package autosync periodically tops up each followed feed with its newest
// episodes and trims older downloads.
package autosync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/csams/podcast-offline/internal/logging"
	"github.com/csams/podcast-offline/internal/models"
)

const (
	// fetchTimeout bounds each episode listing request.
	fetchTimeout = 30 * time.Second
	// maxConcurrentFetches limits parallel listing requests.
	maxConcurrentFetches = 4
)

// EpisodeSource lists the episodes of a feed.
type EpisodeSource interface {
	FetchEpisodes(ctx context.Context, feed models.Feed) ([]models.Episode, error)
}

// NetworkChecker gates bulk transfers on the current network.
type NetworkChecker interface {
	BulkTransferAllowed(ctx context.Context) bool
}

// Downloader is the part of the download manager the scheduler drives.
type Downloader interface {
	IsDownloaded(episodeID string) bool
	IsDownloading(episodeID string) bool
	GetDownloadsForFeed(feedID string) []models.DownloadedEpisode
	BatchDownload(ctx context.Context, episodes []models.Episode, feed models.Feed) []models.DownloadedEpisode
	EnforceStorageLimit(ctx context.Context, feedID string, maxPerFeed int) int
}

// FeedReport summarizes one feed in a sweep.
type FeedReport struct {
	FeedID     string
	Skipped    bool // already at quota, nothing fetched
	Requested  int
	Downloaded int
	Failed     int
	Removed    int
	Err        error
}

// Report summarizes a sweep.
type Report struct {
	// Deferred is set when the network did not allow bulk transfers.
	Deferred bool
	Feeds    []FeedReport
}

// Downloaded returns the total number of new downloads in the sweep.
func (r Report) Downloaded() int {
	n := 0
	for _, f := range r.Feeds {
		n += f.Downloaded
	}
	return n
}

// Scheduler runs auto-sync sweeps. Uses context cancellation as the only
// stop mechanism.
type Scheduler struct {
	source    EpisodeSource
	downloads Downloader
	network   NetworkChecker
	interval  time.Duration
	afterHook func(ctx context.Context)
	logger    *log.Logger
	wg        sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithAfterSweep registers a function run after every periodic sweep.
func WithAfterSweep(fn func(ctx context.Context)) Option {
	return func(s *Scheduler) { s.afterHook = fn }
}

// NewScheduler creates a scheduler that sweeps every interval.
func NewScheduler(source EpisodeSource, downloads Downloader, network NetworkChecker, interval time.Duration, logger *log.Logger, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	s := &Scheduler{
		source:    source,
		downloads: downloads,
		network:   network,
		interval:  interval,
		logger:    logging.OrDiscard(logger).WithPrefix("autosync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins background sweeps. Call with a cancellable context.
// Performs an initial sweep immediately, then one per interval. feeds is
// called at the start of every sweep.
func (s *Scheduler) Start(ctx context.Context, feeds func() []models.Feed, quota int) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.sweep(ctx, feeds, quota)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx, feeds, quota)
			}
		}
	}()
}

// Wait blocks until the background goroutine exits.
// Call after canceling the context passed to Start.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) sweep(ctx context.Context, feeds func() []models.Feed, quota int) {
	report := s.SyncOnce(ctx, feeds(), quota)
	if !report.Deferred && s.afterHook != nil && ctx.Err() == nil {
		s.afterHook(ctx)
	}
}

type feedJob struct {
	feed     models.Feed
	need     int
	episodes []models.Episode
	err      error
}

// SyncOnce runs one sweep: every feed below quota gets its newest missing
// episodes downloaded, then older downloads beyond quota are removed. A
// failing feed never aborts the sweep.
func (s *Scheduler) SyncOnce(ctx context.Context, feeds []models.Feed, quota int) Report {
	var report Report
	if quota <= 0 {
		s.logger.Debug("auto-download disabled", "quota", quota)
		return report
	}
	if !s.network.BulkTransferAllowed(ctx) {
		s.logger.Info("sync deferred until an unmetered network is available")
		report.Deferred = true
		return report
	}

	start := time.Now()
	var jobs []*feedJob
	for _, feed := range feeds {
		have := len(s.downloads.GetDownloadsForFeed(feed.ID))
		if have >= quota {
			report.Feeds = append(report.Feeds, FeedReport{FeedID: feed.ID, Skipped: true})
			continue
		}
		jobs = append(jobs, &feedJob{feed: feed, need: quota - have})
	}

	// Listings are fetched in parallel; per-feed errors never fail the group
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, job := range jobs {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, fetchTimeout)
			defer cancel()
			job.episodes, job.err = s.source.FetchEpisodes(fctx, job.feed)
			return nil
		})
	}
	_ = g.Wait()

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		report.Feeds = append(report.Feeds, s.syncFeed(ctx, job, quota))
	}

	s.logger.Info("sync finished",
		"feeds", len(feeds),
		"fetched", len(jobs),
		"downloaded", report.Downloaded(),
		"duration", time.Since(start).Round(time.Millisecond))
	return report
}

func (s *Scheduler) syncFeed(ctx context.Context, job *feedJob, quota int) FeedReport {
	fr := FeedReport{FeedID: job.feed.ID}
	if job.err != nil {
		s.logger.Warn("failed to list episodes", "feed", job.feed.ID, "title", job.feed.Title, "err", job.err)
		fr.Err = job.err
		return fr
	}

	candidates := make([]models.Episode, 0, len(job.episodes))
	for _, ep := range job.episodes {
		if ep.ID == "" || s.downloads.IsDownloaded(ep.ID) || s.downloads.IsDownloading(ep.ID) {
			continue
		}
		candidates = append(candidates, ep)
	}
	newestFirst(candidates)
	if len(candidates) > job.need {
		candidates = candidates[:job.need]
	}

	if len(candidates) > 0 {
		fr.Requested = len(candidates)
		added := s.downloads.BatchDownload(ctx, candidates, job.feed)
		fr.Downloaded = len(added)
		fr.Failed = fr.Requested - fr.Downloaded
	}
	fr.Removed = s.downloads.EnforceStorageLimit(ctx, job.feed.ID, quota)

	s.logger.Debug("feed synced", "feed", job.feed.ID, "downloaded", fr.Downloaded, "failed", fr.Failed, "removed", fr.Removed)
	return fr
}

// newestFirst orders episodes by publish date, undated ones last.
func newestFirst(episodes []models.Episode) {
	sort.SliceStable(episodes, func(i, j int) bool {
		a, b := episodes[i].PublishedAt, episodes[j].PublishedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}
