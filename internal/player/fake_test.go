package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/csams/podcast-offline/internal/models"
)

type fakeEngine struct {
	mu       sync.Mutex
	loaded   bool
	uri      string
	playing  bool
	finished bool
	position time.Duration
	duration time.Duration
	rate     float64
	loadErr  error
	loadGate chan struct{}
	// pauseGate and seekGate hold Pause and Seek until closed. entered
	// receives the call name once one of them is blocked.
	pauseGate chan struct{}
	seekGate  chan struct{}
	entered   chan string
	loads    []string
	seeks    []time.Duration
	unloads  int
	closed   bool
}

func newFakeEngine(duration time.Duration) *fakeEngine {
	return &fakeEngine{duration: duration, rate: 1}
}

func (e *fakeEngine) Load(ctx context.Context, uri string) error {
	e.mu.Lock()
	e.loads = append(e.loads, uri)
	gate, loadErr := e.loadGate, e.loadErr
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if loadErr != nil {
		return loadErr
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = true
	e.uri = uri
	e.playing = false
	e.finished = false
	e.position = 0
	return nil
}

func (e *fakeEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return errors.New("nothing loaded")
	}
	e.playing = true
	return nil
}

func (e *fakeEngine) Pause() error {
	e.mu.Lock()
	gate := e.pauseGate
	e.mu.Unlock()
	e.hold("pause", gate)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
	return nil
}

func (e *fakeEngine) Seek(pos time.Duration) error {
	e.mu.Lock()
	gate := e.seekGate
	e.mu.Unlock()
	e.hold("seek", gate)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.seeks = append(e.seeks, pos)
	e.position = pos
	return nil
}

func (e *fakeEngine) SetRate(rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = rate
	return nil
}

func (e *fakeEngine) Unload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unloads++
	e.loaded = false
	e.playing = false
	e.uri = ""
	return nil
}

func (e *fakeEngine) Status(context.Context) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return Status{}, nil
	}
	return Status{
		Position: e.position,
		Duration: e.duration,
		Playing:  e.playing,
		Finished: e.finished,
	}, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) hold(call string, gate chan struct{}) {
	if gate == nil {
		return
	}
	if e.entered != nil {
		e.entered <- call
	}
	<-gate
}

func (e *fakeEngine) setPosition(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = d
}

func (e *fakeEngine) lastSeek() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.seeks) == 0 {
		return 0, false
	}
	return e.seeks[len(e.seeks)-1], true
}

func (e *fakeEngine) current() (string, float64, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uri, e.rate, len(e.loads)
}

type fakeSources map[string]string

func (f fakeSources) GetLocalURI(id string) (string, bool) {
	uri, ok := f[id]
	return uri, ok
}

type fakeListens struct {
	mu     sync.Mutex
	err    error
	events []models.ListenEvent
}

func (f *fakeListens) RecordListen(_ context.Context, ev models.ListenEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeListens) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}
