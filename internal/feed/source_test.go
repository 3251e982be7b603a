package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/csams/podcast-offline/internal/logging"
	"github.com/csams/podcast-offline/internal/models"
)

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Test Podcast</title>
    <description>A test podcast for unit testing</description>
    <link>https://example.com</link>
    <itunes:author>Jane Host</itunes:author>
    <itunes:image href="https://example.com/itunes.jpg"/>
    <item>
      <title>Episode 1</title>
      <enclosure url="https://example.com/episode1.mp3" type="audio/mpeg" length="1024"/>
      <pubDate>Mon, 16 Oct 2023 12:00:00 GMT</pubDate>
      <itunes:duration>30:00</itunes:duration>
    </item>
    <item>
      <title>Episode 2</title>
      <enclosure url="https://example.com/episode2.m4a?token=abc" length="2048"/>
      <pubDate>Tue, 17 Oct 2023 12:00:00 GMT</pubDate>
      <itunes:duration>3725</itunes:duration>
    </item>
    <item>
      <title>Video only</title>
      <enclosure url="https://example.com/video.mp4" type="video/mp4" length="4096"/>
    </item>
    <item>
      <title>Blog post</title>
    </item>
  </channel>
</rss>`

func newFeedServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSource_FetchEpisodes(t *testing.T) {
	server := newFeedServer(t, testRSS, http.StatusOK)
	src := NewSource(5*time.Second, "test-agent", logging.Discard())

	feed := models.Feed{ID: "feed-1", FeedURL: server.URL}
	episodes, err := src.FetchEpisodes(context.Background(), feed)
	if err != nil {
		t.Fatalf("FetchEpisodes failed: %v", err)
	}
	if len(episodes) != 2 {
		t.Fatalf("expected 2 audio episodes, got %d", len(episodes))
	}

	first := episodes[0]
	if first.Title != "Episode 1" || first.FeedID != "feed-1" {
		t.Errorf("unexpected first episode: %+v", first)
	}
	if first.DurationMs() != 30*60*1000 {
		t.Errorf("expected 30 minutes, got %dms", first.DurationMs())
	}
	if first.PublishedAt == nil || first.PublishedAt.Day() != 16 {
		t.Errorf("unexpected publish date %v", first.PublishedAt)
	}
	want := models.GenerateEpisodeID(server.URL, "https://example.com/episode1.mp3", *first.PublishedAt)
	if first.ID != want {
		t.Errorf("expected derived id %s, got %s", want, first.ID)
	}

	second := episodes[1]
	if second.DurationMs() != 3725*1000 {
		t.Errorf("expected 3725s, got %dms", second.DurationMs())
	}
	if second.AudioURL != "https://example.com/episode2.m4a?token=abc" {
		t.Errorf("unexpected audio url %q", second.AudioURL)
	}
}

func TestSource_FetchFeed(t *testing.T) {
	server := newFeedServer(t, testRSS, http.StatusOK)
	src := NewSource(5*time.Second, "test-agent", nil)

	feed, episodes, err := src.FetchFeed(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("FetchFeed failed: %v", err)
	}
	if feed.ID != FeedID(server.URL) || feed.Title != "Test Podcast" {
		t.Errorf("unexpected feed: %+v", feed)
	}
	if feed.ImageURL != "https://example.com/itunes.jpg" || feed.Author != "Jane Host" {
		t.Errorf("expected itunes metadata, got %+v", feed)
	}
	for _, ep := range episodes {
		if ep.FeedID != feed.ID {
			t.Errorf("episode %s has feed id %s", ep.ID, ep.FeedID)
		}
	}
}

func TestSource_Errors(t *testing.T) {
	src := NewSource(5*time.Second, "test-agent", nil)

	if _, err := src.FetchEpisodes(context.Background(), models.Feed{ID: "x"}); err == nil {
		t.Error("expected error for feed without url")
	}

	server := newFeedServer(t, "gone", http.StatusNotFound)
	if _, err := src.FetchEpisodes(context.Background(), models.Feed{ID: "x", FeedURL: server.URL}); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected HTTP error, got %v", err)
	}

	bad := newFeedServer(t, "<not a feed", http.StatusOK)
	if _, err := src.FetchEpisodes(context.Background(), models.Feed{ID: "x", FeedURL: bad.URL}); err == nil {
		t.Error("expected parse error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.FetchEpisodes(ctx, models.Feed{ID: "x", FeedURL: server.URL}); err == nil {
		t.Error("expected cancelled context error")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
	}{
		{"", 0},
		{"1800", 30 * time.Minute},
		{"30:00", 30 * time.Minute},
		{"1:02:03", time.Hour + 2*time.Minute + 3*time.Second},
		{" 45 ", 45 * time.Second},
		{"invalid", 0},
		{"1:2:3:4", 0},
		{"aa:bb", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseDuration(tt.input); got != tt.expected {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFeedID_Stable(t *testing.T) {
	a := FeedID("https://example.com/feed.xml")
	b := FeedID(" https://example.com/feed.xml ")
	if a != b || len(a) != 16 {
		t.Errorf("expected stable 16 char id, got %q and %q", a, b)
	}
}
