// Package config loads and validates the offline media configuration.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Storage controls where persisted state and audio artifacts live.
type Storage struct {
	DataDir     string `toml:"data_dir"`
	DownloadDir string `toml:"download_dir"`
	// DurableFiles selects real per-file storage. When false, downloads
	// register the remote URL as the local artifact.
	DurableFiles bool `toml:"durable_files"`
}

// Downloads controls the download manager.
type Downloads struct {
	MaxConcurrent      int     `toml:"max_concurrent"`
	ProgressMinDelta   float64 `toml:"progress_min_delta"`
	ProgressIntervalMs int     `toml:"progress_interval_ms"`
	MaxEpisodesPerFeed int     `toml:"max_episodes_per_feed"`
}

// Playback controls the playback engine.
type Playback struct {
	PollIntervalMs int     `toml:"poll_interval_ms"`
	SaveIntervalMs int     `toml:"save_interval_ms"`
	DefaultRate    float64 `toml:"default_rate"`
	MPVBinary      string  `toml:"mpv_binary"`
	MPVSocket      string  `toml:"mpv_socket"`
}

// Sync controls the auto-sync scheduler.
type Sync struct {
	Enabled         bool   `toml:"enabled"`
	IntervalMinutes int    `toml:"interval_minutes"`
	WifiOnly        bool   `toml:"wifi_only"`
	Source          string `toml:"source"` // "backend" or "rss"
}

// Backend contains the REST collaborator settings.
type Backend struct {
	BaseURL           string  `toml:"base_url"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	UserAgent         string  `toml:"user_agent"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Logging contains logger settings.
type Logging struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Config represents the offline media configuration
type Config struct {
	Storage   Storage   `toml:"storage"`
	Downloads Downloads `toml:"downloads"`
	Playback  Playback  `toml:"playback"`
	Sync      Sync      `toml:"sync"`
	Backend   Backend   `toml:"backend"`
	Logging   Logging   `toml:"logging"`
}

const (
	SourceBackend = "backend"
	SourceRSS     = "rss"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Storage: Storage{
			DurableFiles: true,
		},
		Downloads: Downloads{
			MaxConcurrent:      3,
			ProgressMinDelta:   0.05,
			ProgressIntervalMs: 1000,
			MaxEpisodesPerFeed: 5,
		},
		Playback: Playback{
			PollIntervalMs: 500,
			SaveIntervalMs: 10000,
			DefaultRate:    1.0,
			MPVBinary:      "mpv",
		},
		Sync: Sync{
			Enabled:         true,
			IntervalMinutes: 60,
			WifiOnly:        true,
			Source:          SourceBackend,
		},
		Backend: Backend{
			TimeoutSeconds:    30,
			UserAgent:         "podcast-offline/1.0",
			RequestsPerSecond: 2,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// ProgressInterval returns the minimum time between progress publications.
func (d Downloads) ProgressInterval() time.Duration {
	return time.Duration(d.ProgressIntervalMs) * time.Millisecond
}

func (p Playback) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}

func (p Playback) SaveInterval() time.Duration {
	return time.Duration(p.SaveIntervalMs) * time.Millisecond
}

func (s Sync) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

func (b Backend) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// ResolveDataDir returns the directory holding the persisted store.
func (c *Config) ResolveDataDir(configDir string) string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}
	return configDir
}

// ResolveDownloadDir returns the download directory path
func (c *Config) ResolveDownloadDir(configDir string) string {
	if c.Storage.DownloadDir != "" {
		return c.Storage.DownloadDir
	}

	// Default to ~/Music/Podcasts
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to config dir if home dir unavailable
		return filepath.Join(configDir, "downloads")
	}
	return filepath.Join(homeDir, "Music", "Podcasts")
}
