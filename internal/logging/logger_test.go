package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestNewWithWriter_KeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, log.DebugLevel)

	logger.Error("download failed", "episode", "ep-1", "err", "boom")

	out := buf.String()
	if !strings.Contains(out, "download failed") {
		t.Errorf("Expected message in output, got %q", out)
	}
	if !strings.Contains(out, "episode=ep-1") {
		t.Errorf("Expected episode context in output, got %q", out)
	}
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, log.WarnLevel)

	logger.Info("chatty")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered at warn level, got %q", buf.String())
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "offline.log")
	logger, closer, err := New(Options{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.Debug("hello", "k", "v")
	if err := closer.Close(); err != nil {
		t.Fatalf("Failed to close log file: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("Expected log line in file, got %q", data)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("Expected error for invalid level")
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Error("Expected a logger for nil input")
	}
	l := Discard()
	if OrDiscard(l) != l {
		t.Error("Expected the same logger back")
	}
}
