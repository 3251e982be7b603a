package download

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/csams/podcast-offline/internal/artifact"
	"github.com/csams/podcast-offline/internal/kvstore"
	"github.com/csams/podcast-offline/internal/models"
)

// fakeArtifacts is an in-memory artifact store that records concurrency.
type fakeArtifacts struct {
	mu        sync.Mutex
	durable   bool
	files     map[string]bool
	failures  map[string]error
	fetches   map[string]int
	removed   []string
	gate      chan struct{}
	delay     time.Duration
	delays    map[string]time.Duration
	trace     []string // "start:<id>" and "end:<id>" in call order
	onFetch   func()
	active    int
	maxActive int
}

func newFakeArtifacts(durable bool) *fakeArtifacts {
	return &fakeArtifacts{
		durable:  durable,
		files:    make(map[string]bool),
		failures: make(map[string]error),
		fetches:  make(map[string]int),
		delays:   make(map[string]time.Duration),
	}
}

func fakeURI(id string) string {
	return "file:///downloads/" + id + ".mp3"
}

func (f *fakeArtifacts) Durable() bool { return f.durable }

func (f *fakeArtifacts) Fetch(ctx context.Context, ep models.Episode, _ string, onProgress artifact.ProgressFunc) (string, error) {
	f.mu.Lock()
	f.fetches[ep.ID]++
	f.trace = append(f.trace, "start:"+ep.ID)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	gate, delay, hook := f.gate, f.delay, f.onFetch
	if d, ok := f.delays[ep.ID]; ok {
		delay = d
	}
	failure := f.failures[ep.ID]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.trace = append(f.trace, "end:"+ep.ID)
		f.mu.Unlock()
	}()

	if hook != nil {
		hook()
	}
	onProgress(0.5)

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if failure != nil {
		return "", failure
	}
	if !f.durable {
		onProgress(1)
		return ep.AudioURL, nil
	}

	uri := fakeURI(ep.ID)
	f.mu.Lock()
	f.files[uri] = true
	f.mu.Unlock()
	onProgress(1)
	return uri, nil
}

func (f *fakeArtifacts) Exists(_ context.Context, uri string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.durable || f.files[uri]
}

func (f *fakeArtifacts) Remove(_ context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.files[uri] {
		return errors.New("no such file")
	}
	delete(f.files, uri)
	f.removed = append(f.removed, uri)
	return nil
}

func (f *fakeArtifacts) fetchCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

func (f *fakeArtifacts) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// traceIndex returns the position of entry in the call trace, or -1.
func (f *fakeArtifacts) traceIndex(entry string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.trace {
		if e == entry {
			return i
		}
	}
	return -1
}

// countingKV counts writes per key.
type countingKV struct {
	*kvstore.Memory
	mu   sync.Mutex
	sets map[string]int
}

func newCountingKV() *countingKV {
	return &countingKV{Memory: kvstore.NewMemory(), sets: make(map[string]int)}
}

func (c *countingKV) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	c.sets[key]++
	c.mu.Unlock()
	return c.Memory.Set(ctx, key, value)
}

func (c *countingKV) writes(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets[key]
}

func (c *countingKV) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = make(map[string]int)
}

// steppingClock returns times one minute apart.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Minute)
		return t
	}
}
