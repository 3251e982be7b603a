// Package backend talks to the podcast REST backend: listen events, episode
// listings and position sync.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/csams/podcast-offline/internal/config"
	"github.com/csams/podcast-offline/internal/logging"
	"github.com/csams/podcast-offline/internal/models"
)

const maxResponseBytes = 4 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client is a rate-limited JSON client for the backend API.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	backoffs  []time.Duration
	logger    *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithBackoffs sets the delays between retries of transient failures.
func WithBackoffs(d ...time.Duration) Option {
	return func(cl *Client) { cl.backoffs = d }
}

// NewClient creates a backend client from the [backend] config section.
func NewClient(cfg config.Backend, logger *log.Logger, opts ...Option) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: cfg.Timeout()},
		limiter:   rate.NewLimiter(limit, 1),
		backoffs:  []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		logger:    logging.OrDiscard(logger).WithPrefix("backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// RecordListen posts a listen event. Events without an id get a fresh one.
func (c *Client) RecordListen(ctx context.Context, ev models.ListenEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if err := c.do(ctx, http.MethodPost, "/listens", ev, nil); err != nil {
		return fmt.Errorf("record listen %s: %w", ev.EpisodeID, err)
	}
	return nil
}

type episodeDTO struct {
	ID              string     `json:"id"`
	FeedID          string     `json:"feedId"`
	Title           string     `json:"title"`
	AudioURL        string     `json:"audioUrl"`
	DurationSeconds int64      `json:"durationSeconds,omitempty"`
	PublishedAt     *time.Time `json:"publishedAt,omitempty"`
	ImageURL        string     `json:"imageUrl,omitempty"`
}

type episodesResponse struct {
	Episodes []episodeDTO `json:"episodes"`
}

// FetchEpisodes lists the episodes of a feed.
func (c *Client) FetchEpisodes(ctx context.Context, feed models.Feed) ([]models.Episode, error) {
	var resp episodesResponse
	path := "/feeds/" + url.PathEscape(feed.ID) + "/episodes"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch episodes for %s: %w", feed.ID, err)
	}

	episodes := make([]models.Episode, 0, len(resp.Episodes))
	for _, e := range resp.Episodes {
		if e.ID == "" || e.AudioURL == "" {
			continue
		}
		ep := models.Episode{
			ID:          e.ID,
			FeedID:      e.FeedID,
			Title:       e.Title,
			AudioURL:    e.AudioURL,
			PublishedAt: e.PublishedAt,
			ImageURL:    e.ImageURL,
		}
		if ep.FeedID == "" {
			ep.FeedID = feed.ID
		}
		if e.DurationSeconds > 0 {
			d := time.Duration(e.DurationSeconds) * time.Second
			ep.Duration = &d
		}
		episodes = append(episodes, ep)
	}
	return episodes, nil
}

type positionsRequest struct {
	Positions []models.SavedPosition `json:"positions"`
}

// UploadPositions replaces the remote copy of the saved positions.
func (c *Client) UploadPositions(ctx context.Context, positions []models.SavedPosition) error {
	if err := c.do(ctx, http.MethodPut, "/positions", positionsRequest{Positions: positions}, nil); err != nil {
		return fmt.Errorf("upload positions: %w", err)
	}
	return nil
}

// do sends one JSON request, retrying 429 and 5xx responses with backoff.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.Configured() {
		return fmt.Errorf("backend base url not configured")
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= len(c.backoffs); attempt++ {
		if attempt > 0 {
			delay := c.backoffs[attempt-1]
			if se, ok := lastErr.(*retryAfterError); ok && se.delay > 0 {
				delay = se.delay
				lastErr = se.StatusError
			}
			c.logger.Debug("retrying request", "method", method, "path", path, "attempt", attempt, "delay", delay, "err", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.once(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		lastErr = err
		if !retryable(err) {
			return unwrapRetryAfter(err)
		}
	}
	return fmt.Errorf("request failed after %d retries: %w", len(c.backoffs), unwrapRetryAfter(lastErr))
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &transportError{err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if resp.StatusCode == http.StatusTooManyRequests {
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				return &retryAfterError{StatusError: se, delay: min(time.Duration(secs)*time.Second, 30*time.Second)}
			}
		}
		return se
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "request failed: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// retryAfterError carries a server-requested delay alongside the status.
type retryAfterError struct {
	*StatusError
	delay time.Duration
}

func retryable(err error) bool {
	switch e := err.(type) {
	case *transportError:
		return true
	case *retryAfterError:
		return true
	case *StatusError:
		return e.Retryable()
	default:
		return false
	}
}

func unwrapRetryAfter(err error) error {
	if ra, ok := err.(*retryAfterError); ok {
		return ra.StatusError
	}
	return err
}
