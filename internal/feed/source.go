// Package feed reads podcast RSS feeds into feeds and episodes.
package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mmcdole/gofeed"

	"github.com/csams/podcast-offline/internal/logging"
	"github.com/csams/podcast-offline/internal/models"
)

// Source fetches episodes straight from a feed's RSS document.
type Source struct {
	client    *http.Client
	userAgent string
	logger    *log.Logger
}

// NewSource creates a Source with the given HTTP client timeout.
func NewSource(timeout time.Duration, userAgent string, logger *log.Logger) *Source {
	return &Source{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logging.OrDiscard(logger).WithPrefix("feed"),
	}
}

// FetchEpisodes downloads and parses feed.FeedURL. Items without an audio
// enclosure are skipped.
func (s *Source) FetchEpisodes(ctx context.Context, feed models.Feed) ([]models.Episode, error) {
	if feed.FeedURL == "" {
		return nil, fmt.Errorf("feed %s has no feed url", feed.ID)
	}
	_, episodes, err := s.fetch(ctx, feed.FeedURL, feed.ID)
	return episodes, err
}

// FetchFeed reads a feed by URL, deriving the feed id from the URL.
func (s *Source) FetchFeed(ctx context.Context, feedURL string) (models.Feed, []models.Episode, error) {
	return s.fetch(ctx, feedURL, FeedID(feedURL))
}

func (s *Source) fetch(ctx context.Context, feedURL, feedID string) (models.Feed, []models.Episode, error) {
	if ctx.Err() != nil {
		return models.Feed{}, nil, ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return models.Feed{}, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return models.Feed{}, nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Feed{}, nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	feed, episodes, err := Parse(resp.Body, feedURL, feedID)
	if err != nil {
		return models.Feed{}, nil, err
	}
	s.logger.Debug("fetched feed", "feed", feedID, "url", feedURL, "episodes", len(episodes))
	return feed, episodes, nil
}

// Parse converts an RSS or Atom document into a feed and its episodes.
func Parse(r io.Reader, feedURL, feedID string) (models.Feed, []models.Episode, error) {
	parsed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return models.Feed{}, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	feed := models.Feed{
		ID:      feedID,
		Title:   parsed.Title,
		FeedURL: feedURL,
	}
	// Try to get the best image URL
	if parsed.Image != nil {
		feed.ImageURL = parsed.Image.URL
	}
	if parsed.ITunesExt != nil {
		if feed.ImageURL == "" {
			feed.ImageURL = parsed.ITunesExt.Image
		}
		feed.Author = parsed.ITunesExt.Author
	}
	if feed.Author == "" && parsed.Author != nil {
		feed.Author = parsed.Author.Name
	}

	episodes := make([]models.Episode, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if ep, ok := convertItem(item, feed); ok {
			episodes = append(episodes, ep)
		}
	}
	return feed, episodes, nil
}

func convertItem(item *gofeed.Item, feed models.Feed) (models.Episode, bool) {
	audioURL := audioEnclosure(item)
	if audioURL == "" {
		return models.Episode{}, false
	}

	var published time.Time
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if t, err := parseRFC2822Date(item.Published); err == nil {
		published = t
	}

	ep := models.Episode{
		ID:       models.GenerateEpisodeID(feed.FeedURL, audioURL, published),
		FeedID:   feed.ID,
		Title:    item.Title,
		AudioURL: audioURL,
	}
	if !published.IsZero() {
		ep.PublishedAt = &published
	}

	if item.ITunesExt != nil {
		if d := parseDuration(item.ITunesExt.Duration); d > 0 {
			ep.Duration = &d
		}
		ep.ImageURL = item.ITunesExt.Image
	}
	if ep.ImageURL == "" && item.Image != nil {
		ep.ImageURL = item.Image.URL
	}
	return ep, true
}

// audioEnclosure returns the first enclosure that looks like audio.
func audioEnclosure(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if strings.HasPrefix(enc.Type, "audio/") {
			return enc.URL
		}
		if enc.Type == "" {
			switch strings.ToLower(path.Ext(strings.SplitN(enc.URL, "?", 2)[0])) {
			case ".mp3", ".m4a", ".aac", ".ogg", ".opus", ".wav", ".flac":
				return enc.URL
			}
		}
	}
	return ""
}

// FeedID derives a stable feed id from its URL.
func FeedID(feedURL string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(feedURL)))
	return hex.EncodeToString(h[:8])
}

func parseRFC2822Date(dateStr string) (time.Time, error) {
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 02 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 -0700",
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, strings.TrimSpace(dateStr)); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}

// parseDuration converts itunes:duration values (seconds, MM:SS or
// HH:MM:SS) to a time.Duration. Unparseable values yield 0.
func parseDuration(duration string) time.Duration {
	duration = strings.TrimSpace(duration)
	if duration == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(duration); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if strings.Contains(duration, ":") {
		return parseTimeFormatDuration(duration)
	}
	return 0
}

// parseTimeFormatDuration parses HH:MM:SS or MM:SS format into time.Duration
func parseTimeFormatDuration(timeStr string) time.Duration {
	parts := strings.Split(timeStr, ":")

	var hours, minutes, seconds int
	var err error

	switch len(parts) {
	case 2: // MM:SS format
		if minutes, err = strconv.Atoi(parts[0]); err != nil {
			return 0
		}
		if seconds, err = strconv.Atoi(parts[1]); err != nil {
			return 0
		}
	case 3: // HH:MM:SS format
		if hours, err = strconv.Atoi(parts[0]); err != nil {
			return 0
		}
		if minutes, err = strconv.Atoi(parts[1]); err != nil {
			return 0
		}
		if seconds, err = strconv.Atoi(parts[2]); err != nil {
			return 0
		}
	default:
		return 0
	}

	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
}
