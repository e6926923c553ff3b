package ranker

import (
	"sort"

	"meetprep/internal/models"
)

// Rank keeps the messages scoring at least minRelevance, orders them most relevant
// first and returns at most maxResults of them. Equal scores are ordered by newer
// timestamp first, then by ascending message ID, so the order is total.
// The input slice is not modified.
func Rank(scored []models.ScoredMessage, minRelevance float64, maxResults int) []models.ScoredMessage {
	kept := make([]models.ScoredMessage, 0, len(scored))
	for _, sm := range scored {
		if sm.Score >= minRelevance {
			kept = append(kept, sm)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return Less(kept[i], kept[j])
	})

	if maxResults < 0 {
		maxResults = 0
	}
	if len(kept) > maxResults {
		kept = kept[:maxResults]
	}
	return kept
}

// Less reports whether a ranks before b.
func Less(a, b models.ScoredMessage) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.Message.Timestamp.Equal(b.Message.Timestamp) {
		return a.Message.Timestamp.After(b.Message.Timestamp)
	}
	return a.Message.ID < b.Message.ID
}
