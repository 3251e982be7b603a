package download

import (
	"sort"
	"strings"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"

	"github.com/csams/podcast-offline/internal/models"
)

// Score threshold constants (based on raw fzf scores)
const (
	ScoreThresholdStrict     = 70
	ScoreThresholdNormal     = 50
	ScoreThresholdPermissive = 30
	ScoreThresholdNone       = 0
)

func init() {
	algo.Init("default")
}

// SearchResult is a downloaded episode matched by Search.
type SearchResult struct {
	Episode models.DownloadedEpisode
	Score   int
	// Field is "title" or "feed" depending on which text matched.
	Field string
}

// Search fuzzy-matches downloaded episodes by episode title, then by feed
// title, and returns matches ordered by score. An empty query returns every
// download, newest first.
func (m *Manager) Search(query string, minScore int) []SearchResult {
	downloads := m.Downloads()
	query = strings.TrimSpace(query)
	if query == "" {
		out := make([]SearchResult, len(downloads))
		for i, e := range downloads {
			out[i] = SearchResult{Episode: e}
		}
		return out
	}

	pattern := []rune(strings.ToLower(query))
	slab := util.MakeSlab(16384, 1024)
	var out []SearchResult
	for _, e := range downloads {
		if score := matchScore(e.Title, pattern, slab); accept(score, minScore) {
			out = append(out, SearchResult{Episode: e, Score: score, Field: "title"})
			continue
		}
		if score := matchScore(e.FeedTitle, pattern, slab); accept(score, minScore) {
			out = append(out, SearchResult{Episode: e, Score: score, Field: "feed"})
		}
	}
	// Stable keeps newest-first order among equal scores
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func accept(score, minScore int) bool {
	return score >= 0 && (minScore == 0 || score >= minScore)
}

// matchScore returns the fzf v2 score of text against a lowercase pattern,
// or -1 when it does not match.
func matchScore(text string, pattern []rune, slab *util.Slab) int {
	if text == "" {
		return -1
	}
	chars := util.ToChars([]byte(strings.ToLower(text)))
	result, _ := algo.FuzzyMatchV2(false, false, true, &chars, pattern, false, slab)
	if result.Start < 0 {
		return -1
	}
	return result.Score
}
