package artifact

import (
	"crypto/sha256"
	"fmt"
	"path"
	"strings"

	"github.com/csams/podcast-offline/internal/models"
)

// FeedDirectory creates a sanitized directory name for the feed
func FeedDirectory(feedTitle string) string {
	sanitized := sanitize(feedTitle, 255)

	// Fallback to hash if sanitization results in empty string
	if sanitized == "" {
		h := sha256.New()
		h.Write([]byte(strings.ToLower(strings.TrimSpace(feedTitle))))
		return fmt.Sprintf("feed_%x", h.Sum(nil))[:20]
	}

	return sanitized
}

// EpisodeFilename creates a filename for an episode. The episode id keeps
// names unique when titles collide.
func EpisodeFilename(episode models.Episode) string {
	ext := audioExtension(episode.AudioURL)
	// Reserve room for the id suffix and extension
	title := sanitize(episode.Title, 200)
	id := sanitize(episode.ID, 40)
	if id == "" {
		id = fmt.Sprintf("%x", sha256.Sum256([]byte(episode.AudioURL)))[:16]
	}
	if title == "" {
		return id + ext
	}
	return title + "_" + id + ext
}

func sanitize(s string, maxLen int) string {
	s = strings.TrimSpace(s)

	// Replace all non-alphanumeric characters with underscores
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}
	s = result.String()

	// Collapse runs of spaces/underscores into a single underscore
	s = strings.ReplaceAll(s, " ", "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")

	// Limit length to prevent filesystem issues
	if len(s) > maxLen {
		s = strings.Trim(s[:maxLen], "_")
	}
	return s
}

var knownExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".aac": true, ".ogg": true, ".opus": true, ".wav": true, ".flac": true,
}

// audioExtension picks the extension from the URL path, defaulting to .mp3.
func audioExtension(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if knownExtensions[ext] {
		return ext
	}
	return ".mp3"
}
