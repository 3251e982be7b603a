package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/csams/podcast-offline/internal/config"
	"github.com/csams/podcast-offline/internal/feed"
	"github.com/csams/podcast-offline/internal/models"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cm := config.NewConfigManager(dir)
	cfg := cm.GetConfig()
	cfg.Storage.DownloadDir = filepath.Join(dir, "downloads")
	cfg.Sync.Source = config.SourceRSS
	cfg.Sync.WifiOnly = false
	cfg.Downloads.MaxEpisodesPerFeed = 1
	cfg.Playback.MPVSocket = filepath.Join(dir, "mpv.sock")
	if err := cm.Save(); err != nil {
		t.Fatalf("save config: %v", err)
	}
	return dir
}

func newTestFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>CLI Show</title>
<item><title>Old Episode</title><enclosure url="%[1]s/a/old.mp3" type="audio/mpeg"/><pubDate>Mon, 01 Jan 2024 08:00:00 GMT</pubDate></item>
<item><title>New Episode</title><enclosure url="%[1]s/a/new.mp3" type="audio/mpeg"/><pubDate>Tue, 02 Jan 2024 08:00:00 GMT</pubDate></item>
</channel></rss>`, server.URL)
	})
	mux.HandleFunc("/a/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("audio"))
	})
	return server
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_FollowSyncAndList(t *testing.T) {
	dir := writeTestConfig(t)
	server := newTestFeedServer(t)

	out, err := runCLI(t, "--config-dir", dir, "follow", server.URL+"/feed.xml")
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if !strings.Contains(out, "Following CLI Show") {
		t.Errorf("unexpected follow output: %q", out)
	}

	out, err = runCLI(t, "--config-dir", dir, "feeds")
	if err != nil {
		t.Fatalf("feeds: %v", err)
	}
	if !strings.Contains(out, "CLI Show") {
		t.Errorf("expected followed feed in output: %q", out)
	}

	out, err = runCLI(t, "--config-dir", dir, "sync")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !strings.Contains(out, "Downloaded") {
		t.Errorf("expected sync report table: %q", out)
	}

	out, err = runCLI(t, "--config-dir", dir, "downloads")
	if err != nil {
		t.Fatalf("downloads: %v", err)
	}
	if !strings.Contains(out, "New Episode") || strings.Contains(out, "Old Episode") {
		t.Errorf("expected only the newest episode downloaded: %q", out)
	}
}

func TestCLI_RemoveUnknownEpisode(t *testing.T) {
	dir := writeTestConfig(t)
	if _, err := runCLI(t, "--config-dir", dir, "remove", "nope"); err == nil {
		t.Error("expected error removing an unknown episode")
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"1"}, {"2", "3"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"A", "B", "1", "2", "3"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in table:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("expected empty output without headers")
	}
}

func TestCLI_DownloadRespectsPerFeedLimit(t *testing.T) {
	dir := writeTestConfig(t)
	server := newTestFeedServer(t)

	feedURL := server.URL + "/feed.xml"
	if _, err := runCLI(t, "--config-dir", dir, "follow", feedURL); err != nil {
		t.Fatalf("follow: %v", err)
	}

	out, err := runCLI(t, "--config-dir", dir, "download", feed.FeedID(feedURL), "--latest", "2")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !strings.Contains(out, "Downloaded 2 of 2 episodes") {
		t.Errorf("unexpected download output: %q", out)
	}

	out, err = runCLI(t, "--config-dir", dir, "downloads")
	if err != nil {
		t.Fatalf("downloads: %v", err)
	}
	if n := strings.Count(out, "New Episode") + strings.Count(out, "Old Episode"); n != 1 {
		t.Errorf("expected retention to leave one download, got %d:\n%s", n, out)
	}
}

func TestCLI_DownloadUnknownFeed(t *testing.T) {
	dir := writeTestConfig(t)
	if _, err := runCLI(t, "--config-dir", dir, "download", "missing"); err == nil {
		t.Error("expected error for a feed that is not followed")
	}
}

func TestSelectEpisodes(t *testing.T) {
	day := func(d int) *time.Time {
		ts := time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
		return &ts
	}
	episodes := []models.Episode{
		{ID: "a", PublishedAt: day(1)},
		{ID: "undated"},
		{ID: "c", PublishedAt: day(3)},
		{ID: "b", PublishedAt: day(2)},
	}

	got := selectEpisodes(episodes, nil, 2)
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("expected newest two, got %+v", got)
	}
	if got := selectEpisodes(episodes, []string{"a", "undated"}, 1); len(got) != 2 {
		t.Errorf("expected the two listed ids, got %+v", got)
	}
	if got := selectEpisodes(episodes, nil, 10); len(got) != 4 || got[3].ID != "undated" {
		t.Errorf("expected all episodes with undated last, got %+v", got)
	}
}
