package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/csams/podcast-offline/internal/config"
	"github.com/csams/podcast-offline/internal/kvstore"
	"github.com/csams/podcast-offline/internal/logging"
	"github.com/csams/podcast-offline/internal/models"
	"github.com/csams/podcast-offline/internal/positions"
)

// ErrUnsupportedRate is returned by SetRate for rates outside SupportedRates.
var ErrUnsupportedRate = errors.New("unsupported playback rate")

// SupportedRates lists the playback rates the controller accepts.
var SupportedRates = []float64{0.5, 0.75, 1.0, 1.25, 1.5, 1.75, 2.0}

const (
	subscriberBuffer = 16
	listenTimeout    = 30 * time.Second
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Session is a snapshot of the playback session.
type Session struct {
	Episode      models.Episode
	Feed         models.Feed
	State        State
	IsPlaying    bool
	IsLoading    bool
	PositionMs   int64
	DurationMs   int64
	PlaybackRate float64
	// Generation identifies the session; it changes on every start and stop.
	Generation uint64
}

// Active reports whether an episode is loaded.
func (s Session) Active() bool {
	return s.State == StatePlaying || s.State == StatePaused
}

// SourceResolver maps an episode to a local playable URI when one exists.
type SourceResolver interface {
	GetLocalURI(episodeID string) (string, bool)
}

// ListenRecorder receives a listen event when playback of an episode starts.
type ListenRecorder interface {
	RecordListen(ctx context.Context, ev models.ListenEvent) error
}

// Options tunes the controller loops.
type Options struct {
	PollInterval time.Duration
	SaveInterval time.Duration
	DefaultRate  float64
}

// OptionsFromConfig converts the [playback] config section.
func OptionsFromConfig(cfg config.Playback) Options {
	return Options{
		PollInterval: cfg.PollInterval(),
		SaveInterval: cfg.SaveInterval(),
		DefaultRate:  cfg.DefaultRate,
	}
}

// Controller owns the single playback session. Starting a new episode
// always tears down the previous session first.
type Controller struct {
	mu          sync.Mutex
	engine      MediaEngine
	positions   *positions.Store
	sources     SourceResolver
	listens     ListenRecorder
	kv          kvstore.Store
	logger      *log.Logger
	opts        Options
	now         func() time.Time
	session     Session
	loading     bool
	generation  uint64
	defaultRate float64
	stopLoops   context.CancelFunc
	recent      []models.RecentEntry
	subscribers []chan Session
	closed      bool

	baseCtx  context.Context
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	detached sync.WaitGroup

	persistMu sync.Mutex
}

// NewController creates an idle controller. sources and listens may be nil.
func NewController(engine MediaEngine, store *positions.Store, sources SourceResolver, listens ListenRecorder, kv kvstore.Store, opts Options, logger *log.Logger) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = 10 * time.Second
	}
	rate := 1.0
	if IsSupportedRate(opts.DefaultRate) {
		rate = opts.DefaultRate
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		engine:      engine,
		positions:   store,
		sources:     sources,
		listens:     listens,
		kv:          kv,
		logger:      logging.OrDiscard(logger).WithPrefix("player"),
		opts:        opts,
		now:         time.Now,
		defaultRate: rate,
		session:     Session{PlaybackRate: rate},
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// IsSupportedRate reports whether rate is one of SupportedRates.
func IsSupportedRate(rate float64) bool {
	for _, r := range SupportedRates {
		if r == rate {
			return true
		}
	}
	return false
}

// PlayEpisode makes episode the current session. The previous session's
// position is saved from the live engine before it is torn down. Calls made
// while another episode is loading are ignored.
func (c *Controller) PlayEpisode(ctx context.Context, episode models.Episode, feed models.Feed) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.loading {
		c.mu.Unlock()
		c.logger.Debug("ignoring play request while loading", "episode", episode.ID)
		return
	}
	c.loading = true
	prev := c.session
	c.generation++
	gen := c.generation
	c.cancelLoopsLocked()
	c.session = Session{
		Episode:      episode,
		Feed:         feed,
		State:        StateLoading,
		IsLoading:    true,
		DurationMs:   episode.DurationMs(),
		PlaybackRate: c.defaultRate,
		Generation:   gen,
	}
	rate := c.defaultRate
	snap := c.session
	c.mu.Unlock()
	c.publish(snap)

	if prev.Active() {
		c.flushPosition(ctx, prev)
	}
	if err := c.engine.Unload(); err != nil {
		c.logger.Debug("unload failed", "err", err)
	}

	uri := c.resolveSource(episode)
	if err := c.engine.Load(ctx, uri); err != nil {
		c.logger.Error("failed to load episode", "episode", episode.ID, "title", episode.Title, "uri", uri, "err", err)
		c.mu.Lock()
		c.loading = false
		if c.generation == gen {
			c.generation++
			c.session = Session{PlaybackRate: c.defaultRate, Generation: c.generation}
		}
		snap := c.session
		c.mu.Unlock()
		c.publish(snap)
		return
	}

	var startMs int64
	if saved, ok := c.positions.Get(episode.ID); ok {
		startMs = saved.PositionMs
		if snap.DurationMs == 0 {
			snap.DurationMs = saved.DurationMs
		}
		if err := c.engine.Seek(time.Duration(startMs) * time.Millisecond); err != nil {
			c.logger.Warn("failed to restore position", "episode", episode.ID, "position_ms", startMs, "err", err)
		}
	}
	if err := c.engine.SetRate(rate); err != nil {
		c.logger.Warn("failed to apply playback rate", "rate", rate, "err", err)
	}
	if err := c.engine.Play(); err != nil {
		c.logger.Warn("failed to start playback", "episode", episode.ID, "err", err)
	}

	c.mu.Lock()
	c.loading = false
	if c.generation != gen || c.closed {
		// Stopped while loading
		c.mu.Unlock()
		if err := c.engine.Unload(); err != nil {
			c.logger.Debug("unload failed", "err", err)
		}
		return
	}
	c.session.State = StatePlaying
	c.session.IsPlaying = true
	c.session.IsLoading = false
	c.session.PositionMs = startMs
	c.session.DurationMs = snap.DurationMs
	loopCtx, cancel := context.WithCancel(c.baseCtx)
	c.stopLoops = cancel
	c.loops.Add(2)
	go c.pollLoop(loopCtx, gen)
	go c.saveLoop(loopCtx, gen)
	snap = c.session
	c.mu.Unlock()

	c.publish(snap)
	c.logger.Info("playing episode", "episode", episode.ID, "title", episode.Title, "source", uri, "position_ms", startMs)

	c.addRecent(ctx, episode, feed)
	c.recordListen(episode, feed, startMs)
}

// Pause pauses playback and saves the position immediately.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.session.State != StatePlaying {
		c.mu.Unlock()
		return
	}
	gen := c.generation
	c.mu.Unlock()

	if err := c.engine.Pause(); err != nil {
		c.logger.Warn("failed to pause", "err", err)
		return
	}

	c.mu.Lock()
	if c.generation != gen {
		// Stopped or replaced while the engine call was in flight
		c.mu.Unlock()
		return
	}
	c.session.State = StatePaused
	c.session.IsPlaying = false
	snap := c.session
	c.mu.Unlock()

	c.publish(snap)
	c.flushPosition(c.baseCtx, snap)
}

// Resume continues a paused session.
func (c *Controller) Resume() {
	c.mu.Lock()
	if c.session.State != StatePaused {
		c.mu.Unlock()
		return
	}
	gen := c.generation
	c.mu.Unlock()

	if err := c.engine.Play(); err != nil {
		c.logger.Warn("failed to resume", "err", err)
		return
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.session.State = StatePlaying
	c.session.IsPlaying = true
	snap := c.session
	c.mu.Unlock()
	c.publish(snap)
}

// SeekTo moves to an absolute position, clamped to the episode bounds.
func (c *Controller) SeekTo(positionMs int64) {
	c.mu.Lock()
	if !c.session.Active() {
		c.mu.Unlock()
		return
	}
	target := clamp(positionMs, c.session.DurationMs)
	gen := c.generation
	c.mu.Unlock()

	if err := c.engine.Seek(time.Duration(target) * time.Millisecond); err != nil {
		c.logger.Warn("failed to seek", "position_ms", target, "err", err)
		return
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.session.PositionMs = target
	snap := c.session
	c.mu.Unlock()
	c.publish(snap)
}

// Skip seeks relative to the current position.
func (c *Controller) Skip(deltaSeconds int) {
	c.mu.Lock()
	target := c.session.PositionMs + int64(deltaSeconds)*1000
	c.mu.Unlock()
	c.SeekTo(target)
}

// SetRate changes the playback rate of the current session and of every
// later one.
func (c *Controller) SetRate(rate float64) error {
	if !IsSupportedRate(rate) {
		return fmt.Errorf("%w: %v", ErrUnsupportedRate, rate)
	}

	c.mu.Lock()
	c.defaultRate = rate
	active := c.session.Active()
	c.session.PlaybackRate = rate
	snap := c.session
	c.mu.Unlock()

	if active {
		if err := c.engine.SetRate(rate); err != nil {
			c.logger.Warn("failed to set playback rate", "rate", rate, "err", err)
		}
	}
	c.publish(snap)
	return nil
}

// Stop saves the position, unloads the media and returns to idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	prev := c.session
	c.generation++
	c.cancelLoopsLocked()
	c.session = Session{PlaybackRate: c.defaultRate, Generation: c.generation}
	snap := c.session
	c.mu.Unlock()

	if prev.Active() {
		c.flushPosition(c.baseCtx, prev)
		c.logger.Info("stopped playback", "episode", prev.Episode.ID)
	}
	if prev.State != StateIdle {
		if err := c.engine.Unload(); err != nil {
			c.logger.Debug("unload failed", "err", err)
		}
	}
	c.publish(snap)
}

// Session returns a snapshot of the current session.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Subscribe returns a channel of session snapshots. Snapshots are dropped
// when the subscriber falls behind. The channel is closed by Close.
func (c *Controller) Subscribe() <-chan Session {
	ch := make(chan Session, subscriberBuffer)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// Close stops playback, waits for background work and releases the engine.
func (c *Controller) Close() error {
	c.Stop()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.loops.Wait()
	c.detached.Wait()

	c.mu.Lock()
	for _, ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = nil
	c.mu.Unlock()

	return c.engine.Close()
}

func (c *Controller) cancelLoopsLocked() {
	if c.stopLoops != nil {
		c.stopLoops()
		c.stopLoops = nil
	}
}

// pollLoop refreshes the session from the engine. It exits as soon as the
// session generation moves on.
func (c *Controller) pollLoop(ctx context.Context, gen uint64) {
	defer c.loops.Done()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := c.engine.Status(ctx)
		if err != nil {
			c.logger.Debug("status poll failed", "err", err)
			continue
		}

		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			return
		}
		c.session.PositionMs = st.Position.Milliseconds()
		if st.Duration > 0 {
			c.session.DurationMs = st.Duration.Milliseconds()
		}
		c.session.IsLoading = st.Buffering
		if !st.Finished {
			c.session.IsPlaying = st.Playing
			if st.Playing {
				c.session.State = StatePlaying
			} else if !st.Buffering {
				c.session.State = StatePaused
			}
		}
		snap := c.session
		c.mu.Unlock()

		c.publish(snap)
		if st.Finished {
			c.finish(gen)
			return
		}
	}
}

// saveLoop persists the polled position at the save interval.
func (c *Controller) saveLoop(ctx context.Context, gen uint64) {
	defer c.loops.Done()
	ticker := time.NewTicker(c.opts.SaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Saving under the lock keeps a stale tick from writing after
		// the session has moved on
		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			return
		}
		if s := c.session; s.Active() {
			c.positions.Save(ctx, s.Episode.ID, s.Feed.ID, s.PositionMs, s.DurationMs)
		}
		c.mu.Unlock()
	}
}

// finish ends a session that played to the end.
func (c *Controller) finish(gen uint64) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	prev := c.session
	c.generation++
	c.cancelLoopsLocked()
	c.session = Session{PlaybackRate: c.defaultRate, Generation: c.generation}
	snap := c.session
	c.mu.Unlock()

	c.positions.Save(c.baseCtx, prev.Episode.ID, prev.Feed.ID, prev.DurationMs, prev.DurationMs)
	if err := c.engine.Unload(); err != nil {
		c.logger.Debug("unload failed", "err", err)
	}
	c.logger.Info("finished episode", "episode", prev.Episode.ID)
	c.publish(snap)
}

// flushPosition saves the position of s, preferring the live engine status
// over the last polled value.
func (c *Controller) flushPosition(ctx context.Context, s Session) {
	positionMs, durationMs := s.PositionMs, s.DurationMs
	if st, err := c.engine.Status(ctx); err == nil && (st.Position > 0 || st.Duration > 0) {
		positionMs = st.Position.Milliseconds()
		if st.Duration > 0 {
			durationMs = st.Duration.Milliseconds()
		}
	}
	c.positions.Save(ctx, s.Episode.ID, s.Feed.ID, positionMs, durationMs)
}

func (c *Controller) resolveSource(episode models.Episode) string {
	if c.sources != nil {
		if uri, ok := c.sources.GetLocalURI(episode.ID); ok && uri != "" {
			return uri
		}
	}
	return episode.AudioURL
}

// recordListen reports the listen in the background. Failures never reach
// the caller.
func (c *Controller) recordListen(episode models.Episode, feed models.Feed, positionMs int64) {
	if c.listens == nil {
		return
	}
	feedID := episode.FeedID
	if feedID == "" {
		feedID = feed.ID
	}
	ev := models.ListenEvent{
		EpisodeID:  episode.ID,
		FeedID:     feedID,
		PositionMs: positionMs,
		StartedAt:  c.now(),
	}

	c.detached.Add(1)
	go func() {
		defer c.detached.Done()
		ctx, cancel := context.WithTimeout(c.baseCtx, listenTimeout)
		defer cancel()
		if err := c.listens.RecordListen(ctx, ev); err != nil {
			c.logger.Warn("failed to record listen", "episode", ev.EpisodeID, "err", err)
		}
	}()
}

func (c *Controller) publish(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}

func clamp(positionMs, durationMs int64) int64 {
	if positionMs < 0 {
		return 0
	}
	if durationMs > 0 && positionMs > durationMs {
		return durationMs
	}
	return positionMs
}
