package player

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/csams/podcast-offline/internal/logging"
)

// fakeMPV answers JSON IPC commands on a unix socket. Property reads are
// served from props; a missing property replies "property unavailable".
// Every reply is preceded by an unrelated event line.
type fakeMPV struct {
	listener net.Listener
	props    map[string]any
	commands chan []any
}

func newFakeMPV(t *testing.T, props map[string]any) (*fakeMPV, string) {
	t.Helper()
	// Unix socket paths are length limited, so avoid the long test temp dir
	dir, err := os.MkdirTemp("", "mpv")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "ipc.sock")

	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeMPV{listener: l, props: props, commands: make(chan []any, 64)}
	t.Cleanup(func() { l.Close() })
	go f.serve()
	return f, path
}

func (f *fakeMPV) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeMPV) handle(conn net.Conn) {
	defer conn.Close()
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return
	}
	var cmd mpvCommand
	if err := json.Unmarshal(line, &cmd); err != nil {
		return
	}
	f.commands <- cmd.Command

	fmt.Fprintln(conn, `{"event":"property-change","name":"time-pos","data":1}`)

	reply := mpvResponse{Error: "success"}
	switch cmd.Command[0] {
	case "get_property":
		v, ok := f.props[cmd.Command[1].(string)]
		if !ok {
			reply.Error = "property unavailable"
		}
		reply.Data = v
	case "bogus":
		reply.Error = "invalid parameter"
	}
	data, _ := json.Marshal(reply)
	conn.Write(append(data, '\n'))
}

func newTestMPV(socketPath string) *MPV {
	return &MPV{
		// Stands in for the running process; never started or waited on
		cmd:        &exec.Cmd{},
		socketPath: socketPath,
		loaded:     true,
		logger:     logging.Discard(),
	}
}

func TestMPV_SendSkipsEventLines(t *testing.T) {
	server, path := newFakeMPV(t, map[string]any{"duration": 60.5})
	p := newTestMPV(path)

	d, err := p.getFloat("duration")
	if err != nil {
		t.Fatalf("getFloat: %v", err)
	}
	if d != 60.5 {
		t.Errorf("expected 60.5, got %v", d)
	}
	got := <-server.commands
	if len(got) != 2 || got[0] != "get_property" || got[1] != "duration" {
		t.Errorf("unexpected command %v", got)
	}
}

func TestMPV_PropertyUnavailable(t *testing.T) {
	_, path := newFakeMPV(t, map[string]any{})
	p := newTestMPV(path)

	_, err := p.getFloat("time-pos")
	if !errors.Is(err, errPropertyUnavailable) {
		t.Errorf("expected errPropertyUnavailable, got %v", err)
	}
}

func TestMPV_CommandError(t *testing.T) {
	_, path := newFakeMPV(t, nil)
	p := newTestMPV(path)

	_, err := p.send("bogus")
	if err == nil || errors.Is(err, errPropertyUnavailable) {
		t.Errorf("expected an mpv error, got %v", err)
	}
}

func TestMPV_Status(t *testing.T) {
	_, path := newFakeMPV(t, map[string]any{
		"time-pos":         12.5,
		"duration":         60.0,
		"pause":            false,
		"paused-for-cache": false,
		"eof-reached":      false,
	})
	p := newTestMPV(path)

	st, err := p.Status(t.Context())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	want := Status{Position: 12500 * time.Millisecond, Duration: time.Minute, Playing: true}
	if st != want {
		t.Errorf("got %+v, want %+v", st, want)
	}
}

func TestMPV_StatusAtEOF(t *testing.T) {
	_, path := newFakeMPV(t, map[string]any{
		"duration":    60.0,
		"pause":       false,
		"eof-reached": true,
	})
	p := newTestMPV(path)

	st, err := p.Status(t.Context())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Finished || st.Playing || st.Position != time.Minute {
		t.Errorf("expected finished at duration, got %+v", st)
	}
}

func TestMPV_StatusWhenUnloaded(t *testing.T) {
	p := NewMPV("mpv", filepath.Join(t.TempDir(), "unused.sock"), nil)
	st, err := p.Status(t.Context())
	if err != nil || st != (Status{}) {
		t.Errorf("expected empty status, got %+v, %v", st, err)
	}
}
