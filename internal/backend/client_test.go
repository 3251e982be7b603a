package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/csams/podcast-offline/internal/config"
	"github.com/csams/podcast-offline/internal/logging"
	"github.com/csams/podcast-offline/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.DefaultConfig().Backend
	cfg.BaseURL = server.URL + "/"
	cfg.RequestsPerSecond = 0
	return NewClient(cfg, logging.Discard(), WithBackoffs(time.Millisecond, time.Millisecond))
}

func TestClient_RecordListen(t *testing.T) {
	var got models.ListenEvent
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/listens" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("User-Agent") != "podcast-offline/1.0" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})

	ev := models.ListenEvent{EpisodeID: "ep1", FeedID: "feed1", StartedAt: time.Now().UTC()}
	if err := client.RecordListen(context.Background(), ev); err != nil {
		t.Fatalf("RecordListen failed: %v", err)
	}
	if got.EpisodeID != "ep1" || got.FeedID != "feed1" {
		t.Errorf("unexpected event: %+v", got)
	}
	if _, err := uuid.Parse(got.ID); err != nil {
		t.Errorf("expected a generated uuid, got %q", got.ID)
	}
}

func TestClient_FetchEpisodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/feeds/feed 1/episodes" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"episodes":[
			{"id":"a","title":"A","audioUrl":"https://example.com/a.mp3","durationSeconds":90,"publishedAt":"2024-03-01T10:00:00Z"},
			{"id":"b","feedId":"other","title":"B","audioUrl":"https://example.com/b.mp3"},
			{"id":"","title":"no id","audioUrl":"https://example.com/c.mp3"},
			{"id":"d","title":"no audio"}
		]}`))
	})

	episodes, err := client.FetchEpisodes(context.Background(), models.Feed{ID: "feed 1"})
	if err != nil {
		t.Fatalf("FetchEpisodes failed: %v", err)
	}
	if len(episodes) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(episodes))
	}
	a := episodes[0]
	if a.FeedID != "feed 1" {
		t.Errorf("expected feed id fallback, got %q", a.FeedID)
	}
	if a.DurationMs() != 90000 {
		t.Errorf("expected 90s duration, got %dms", a.DurationMs())
	}
	if a.PublishedAt == nil || a.PublishedAt.Year() != 2024 {
		t.Errorf("unexpected publish date %v", a.PublishedAt)
	}
	if episodes[1].FeedID != "other" {
		t.Errorf("expected explicit feed id to be kept, got %q", episodes[1].FeedID)
	}
}

func TestClient_UploadPositions(t *testing.T) {
	var body positionsRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/positions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	})

	positions := []models.SavedPosition{{EpisodeID: "ep1", PositionMs: 50000, DurationMs: 3600000}}
	if err := client.UploadPositions(context.Background(), positions); err != nil {
		t.Fatalf("UploadPositions failed: %v", err)
	}
	if len(body.Positions) != 1 || body.Positions[0].PositionMs != 50000 {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestClient_StatusErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such feed", http.StatusNotFound)
	})

	_, err := client.FetchEpisodes(context.Background(), models.Feed{ID: "missing"})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusNotFound || se.Body != "no such feed" {
		t.Errorf("unexpected status error: %+v", se)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"episodes":[]}`))
	})

	if _, err := client.FetchEpisodes(context.Background(), models.Feed{ID: "f"}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := client.UploadPositions(context.Background(), nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 StatusError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient(config.DefaultConfig().Backend, nil)
	if client.Configured() {
		t.Fatal("expected unconfigured client")
	}
	if err := client.RecordListen(context.Background(), models.ListenEvent{EpisodeID: "x"}); err == nil {
		t.Error("expected error without base url")
	}
}
