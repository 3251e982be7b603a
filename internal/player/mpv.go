package player

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/csams/podcast-offline/internal/logging"
)

const (
	commandTimeout = 2 * time.Second
	loadPoll       = 100 * time.Millisecond
	loadTimeout    = 30 * time.Second
)

var errPropertyUnavailable = errors.New("property unavailable")

type mpvCommand struct {
	Command   []interface{} `json:"command"`
	RequestID int           `json:"request_id,omitempty"`
}

type mpvResponse struct {
	Data      interface{} `json:"data"`
	RequestID int         `json:"request_id"`
	Error     string      `json:"error"`
}

// MPV is a MediaEngine backed by an mpv process controlled over its JSON
// IPC socket. The process is started lazily in idle mode and reused across
// sessions.
type MPV struct {
	mu         sync.Mutex
	cmd        *exec.Cmd
	binary     string
	socketPath string
	loaded     bool
	logger     *log.Logger
}

// NewMPV creates an engine that runs binary with its IPC server on
// socketPath. An empty socketPath picks a per-process path in the temp dir.
func NewMPV(binary, socketPath string, logger *log.Logger) *MPV {
	if binary == "" {
		binary = "mpv"
	}
	if socketPath == "" {
		socketPath = fmt.Sprintf("%s/podcast-offline-mpv-%d.sock", os.TempDir(), os.Getpid())
	}
	// Clean up any stale socket from previous run
	os.Remove(socketPath)

	return &MPV{
		binary:     binary,
		socketPath: socketPath,
		logger:     logging.OrDiscard(logger).WithPrefix("mpv"),
	}
}

// startLocked starts mpv in idle mode if it is not running.
func (p *MPV) startLocked() error {
	if p.cmd != nil && p.cmd.ProcessState == nil {
		return nil
	}

	os.Remove(p.socketPath)

	p.cmd = exec.Command(p.binary,
		"--no-video",
		"--really-quiet",
		"--no-terminal",
		fmt.Sprintf("--input-ipc-server=%s", p.socketPath),
		"--idle",
		"--force-window=no",
		// Stay on the last frame so eof-reached can be observed
		"--keep-open=yes",
	)
	if err := p.cmd.Start(); err != nil {
		p.cmd = nil
		return fmt.Errorf("failed to start mpv: %w", err)
	}

	// Wait for mpv to create the socket with timeout
	for i := 0; i < 20; i++ {
		if _, err := os.Stat(p.socketPath); err == nil {
			p.logger.Debug("mpv started in idle mode", "socket", p.socketPath)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	p.cmd.Process.Kill()
	p.cmd.Wait()
	p.cmd = nil
	return fmt.Errorf("mpv socket not created after timeout")
}

// Load replaces the current media with uri and waits until mpv reports a
// duration for it.
func (p *MPV) Load(ctx context.Context, uri string) error {
	p.mu.Lock()
	if err := p.startLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.loaded = false
	p.mu.Unlock()

	if _, err := p.send("set_property", "pause", true); err != nil {
		return fmt.Errorf("failed to pause before load: %w", err)
	}
	if _, err := p.send("loadfile", uri, "replace"); err != nil {
		return fmt.Errorf("failed to load %s: %w", uri, err)
	}

	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	ticker := time.NewTicker(loadPoll)
	defer ticker.Stop()
	started := time.Now()
	for {
		select {
		case <-ctx.Done():
			p.send("stop")
			return fmt.Errorf("load %s: %w", uri, ctx.Err())
		case <-ticker.C:
		}

		if d, err := p.getFloat("duration"); err == nil && d > 0 {
			p.mu.Lock()
			p.loaded = true
			p.mu.Unlock()
			return nil
		}
		// mpv drops back to idle when the file could not be opened
		if time.Since(started) > 5*loadPoll {
			if idle, err := p.getBool("idle-active"); err == nil && idle {
				return fmt.Errorf("mpv could not open %s", uri)
			}
		}
	}
}

func (p *MPV) Play() error {
	if _, err := p.send("set_property", "pause", false); err != nil {
		return fmt.Errorf("failed to resume: %w", err)
	}
	return nil
}

func (p *MPV) Pause() error {
	if _, err := p.send("set_property", "pause", true); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}
	return nil
}

// Seek moves to an absolute position.
func (p *MPV) Seek(pos time.Duration) error {
	if pos < 0 {
		pos = 0
	}
	if _, err := p.send("seek", pos.Seconds(), "absolute"); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	return nil
}

func (p *MPV) SetRate(rate float64) error {
	if _, err := p.send("set_property", "speed", rate); err != nil {
		return fmt.Errorf("failed to set speed: %w", err)
	}
	return nil
}

// Unload stops playback but keeps mpv running in idle mode.
func (p *MPV) Unload() error {
	p.mu.Lock()
	running := p.cmd != nil
	p.loaded = false
	p.mu.Unlock()
	if !running {
		return nil
	}
	if _, err := p.send("stop"); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	return nil
}

func (p *MPV) Status(ctx context.Context) (Status, error) {
	p.mu.Lock()
	loaded := p.loaded
	p.mu.Unlock()
	if !loaded {
		return Status{}, nil
	}

	var st Status
	pos, err := p.getFloat("time-pos")
	switch {
	case err == nil:
		st.Position = seconds(pos)
	case errors.Is(err, errPropertyUnavailable):
	default:
		return Status{}, err
	}
	if d, err := p.getFloat("duration"); err == nil {
		st.Duration = seconds(d)
	}
	if paused, err := p.getBool("pause"); err == nil {
		st.Playing = !paused
	}
	if buffering, err := p.getBool("paused-for-cache"); err == nil {
		st.Buffering = buffering
	}
	if eof, err := p.getBool("eof-reached"); err == nil && eof {
		st.Finished = true
		st.Playing = false
		if st.Duration > 0 {
			st.Position = st.Duration
		}
	}
	return st, ctx.Err()
}

// Close quits mpv, killing it if it does not exit promptly.
func (p *MPV) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.loaded = false
	if p.cmd == nil || p.cmd.Process == nil {
		os.Remove(p.socketPath)
		return nil
	}

	// Try graceful quit first
	p.sendLocked(mpvCommand{Command: []interface{}{"quit"}})

	done := make(chan error, 1)
	go func() {
		done <- p.cmd.Wait()
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		if err := p.cmd.Process.Kill(); err != nil {
			p.logger.Warn("failed to kill mpv", "err", err)
		}
		<-done
	}

	// Clean up socket file - try multiple times in case it's still in use
	for i := 0; i < 3; i++ {
		if err := os.Remove(p.socketPath); err == nil || os.IsNotExist(err) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	p.cmd = nil
	return nil
}

func (p *MPV) getFloat(name string) (float64, error) {
	resp, err := p.send("get_property", name)
	if err != nil {
		return 0, err
	}
	v, ok := resp.Data.(float64)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected value %v", name, resp.Data)
	}
	return v, nil
}

func (p *MPV) getBool(name string) (bool, error) {
	resp, err := p.send("get_property", name)
	if err != nil {
		return false, err
	}
	v, ok := resp.Data.(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected value %v", name, resp.Data)
	}
	return v, nil
}

func (p *MPV) send(args ...interface{}) (*mpvResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return nil, fmt.Errorf("mpv is not running")
	}
	return p.sendLocked(mpvCommand{Command: args})
}

// sendLocked sends a command to mpv via the IPC socket and reads one reply.
func (p *MPV) sendLocked(cmd mpvCommand) (*mpvResponse, error) {
	conn, err := net.Dial("unix", p.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mpv socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(commandTimeout))

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write command: %w", err)
	}

	// mpv may interleave events with the reply; skip lines without an error field
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		var response mpvResponse
		if err := json.Unmarshal(line, &response); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if response.Error == "" {
			continue
		}
		switch response.Error {
		case "success":
			return &response, nil
		case "property unavailable":
			return &response, errPropertyUnavailable
		default:
			return &response, fmt.Errorf("mpv error: %s", response.Error)
		}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
