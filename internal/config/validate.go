package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDownloads(); err != nil {
		return err
	}
	if err := c.validatePlayback(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateBackend(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDownloads() error {
	if c.Downloads.MaxConcurrent < 1 {
		return errors.New("downloads.max_concurrent must be at least 1")
	}
	if c.Downloads.ProgressMinDelta < 0 || c.Downloads.ProgressMinDelta > 1 {
		return errors.New("downloads.progress_min_delta must be between 0 and 1")
	}
	if c.Downloads.ProgressIntervalMs < 0 {
		return errors.New("downloads.progress_interval_ms must not be negative")
	}
	if c.Downloads.MaxEpisodesPerFeed < 0 {
		return errors.New("downloads.max_episodes_per_feed must not be negative")
	}
	return nil
}

func (c *Config) validatePlayback() error {
	if c.Playback.PollIntervalMs <= 0 {
		return errors.New("playback.poll_interval_ms must be positive")
	}
	if c.Playback.SaveIntervalMs <= 0 {
		return errors.New("playback.save_interval_ms must be positive")
	}
	if c.Playback.DefaultRate < 0.5 || c.Playback.DefaultRate > 2.0 {
		return fmt.Errorf("playback.default_rate %.2f out of range [0.5, 2.0]", c.Playback.DefaultRate)
	}
	return nil
}

func (c *Config) validateSync() error {
	switch strings.ToLower(strings.TrimSpace(c.Sync.Source)) {
	case SourceBackend, SourceRSS:
	default:
		return fmt.Errorf("sync.source must be %q or %q, got %q", SourceBackend, SourceRSS, c.Sync.Source)
	}
	if c.Sync.Enabled && c.Sync.IntervalMinutes <= 0 {
		return errors.New("sync.interval_minutes must be positive when sync is enabled")
	}
	return nil
}

func (c *Config) validateBackend() error {
	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("backend.base_url %q is not an absolute URL", c.Backend.BaseURL)
		}
	}
	if c.Backend.TimeoutSeconds < 0 {
		return errors.New("backend.timeout_seconds must not be negative")
	}
	if c.Backend.RequestsPerSecond < 0 {
		return errors.New("backend.requests_per_second must not be negative")
	}
	return nil
}
