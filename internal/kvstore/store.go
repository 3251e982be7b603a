// Package kvstore persists small JSON documents under fixed keys.
package kvstore

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned by Get when no value is stored under the key.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrLocked is returned when another process owns the data directory.
	ErrLocked = errors.New("kvstore: data directory is locked by another process")
)

// Fixed storage keys.
const (
	KeyDownloadedEpisodes = "downloaded_episodes"
	KeyPlaybackPositions  = "playback_positions"
	KeyRecentlyPlayed     = "recently_played"
	KeyFollowedFeeds      = "followed_feeds"
)

// Store is a durable key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store. It backs tests and environments without
// durable storage.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	m.values[key] = v
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
