package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/csams/podcast-offline/internal/models"
)

const tempDirName = "temp"

// ErrOutsideStore is returned when asked to remove a file that is not under
// the download directory.
var ErrOutsideStore = errors.New("artifact outside the download directory")

// Files stores artifacts as regular files under a download directory.
// In-progress transfers live in <dir>/temp and are renamed into place.
type Files struct {
	client           *http.Client
	dir              string
	userAgent        string
	progressInterval time.Duration
}

// FilesOption configures a Files store.
type FilesOption func(*Files)

// WithHTTPClient overrides the transfer client.
func WithHTTPClient(c *http.Client) FilesOption {
	return func(f *Files) { f.client = c }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) FilesOption {
	return func(f *Files) { f.userAgent = ua }
}

// WithProgressInterval sets how often the byte reader reports progress.
func WithProgressInterval(d time.Duration) FilesOption {
	return func(f *Files) { f.progressInterval = d }
}

// NewFiles creates a file store rooted at dir, creating dir and its temp
// directory.
func NewFiles(dir string, opts ...FilesOption) (*Files, error) {
	f := &Files{
		// No overall timeout: large files rely on ctx and transport limits
		client:           &http.Client{},
		dir:              dir,
		userAgent:        "podcast-offline/1.0",
		progressInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := os.MkdirAll(filepath.Join(dir, tempDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	return f, nil
}

// Dir returns the root download directory.
func (f *Files) Dir() string {
	return f.dir
}

func (f *Files) Durable() bool { return true }

// Fetch downloads the episode audio. The file only appears at its final
// path once the transfer has completed.
func (f *Files) Fetch(ctx context.Context, episode models.Episode, feedTitle string, onProgress ProgressFunc) (string, error) {
	if episode.AudioURL == "" {
		return "", fmt.Errorf("episode %s has no audio url", episode.ID)
	}

	filename := EpisodeFilename(episode)
	targetPath := filepath.Join(f.dir, FeedDirectory(feedTitle), filename)
	tempPath := filepath.Join(f.dir, tempDirName, filename+".tmp")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, episode.AudioURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var totalSize int64
	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
			totalSize = size
		}
	}

	file, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	reader := newProgressReader(resp.Body, totalSize, f.progressInterval, onProgress)

	if _, err := io.Copy(file, reader); err != nil {
		file.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if totalSize > 0 && reader.read != totalSize {
		os.Remove(tempPath)
		return "", fmt.Errorf("short download: got %d of %d bytes", reader.read, totalSize)
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to create target directory: %w", err)
	}

	// Move temp file to final location (atomic operation)
	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to move file to final location: %w", err)
	}

	if onProgress != nil {
		onProgress(1)
	}
	return targetPath, nil
}

// Exists reports whether uri names an existing regular file.
func (f *Files) Exists(_ context.Context, uri string) bool {
	path := localPath(uri)
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes the file behind uri. A missing file is not an error.
func (f *Files) Remove(_ context.Context, uri string) error {
	path := localPath(uri)
	if path == "" {
		return fmt.Errorf("not a local artifact: %s", uri)
	}
	if !f.contains(path) {
		return fmt.Errorf("%w: %s", ErrOutsideStore, path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove audio file: %w", err)
	}

	// Drop the feed directory once it is empty
	dir := filepath.Dir(path)
	if filepath.Clean(dir) != filepath.Clean(f.dir) && f.contains(dir) {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
	return nil
}

// Usage returns the total bytes stored, excluding in-progress temp files.
func (f *Files) Usage() (int64, error) {
	var totalSize int64
	err := filepath.Walk(f.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && info.Name() == tempDirName {
			return filepath.SkipDir
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	return totalSize, err
}

// localPath maps a file:// URI or plain path to a filesystem path. Remote
// URLs map to "".
// contains reports whether path lies inside the store's root directory.
func (f *Files) contains(path string) bool {
	root, err := filepath.Abs(f.dir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func localPath(uri string) string {
	switch {
	case strings.HasPrefix(uri, "file://"):
		return strings.TrimPrefix(uri, "file://")
	case strings.Contains(uri, "://"):
		return ""
	default:
		return uri
	}
}
