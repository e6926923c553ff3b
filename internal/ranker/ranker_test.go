package ranker

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetprep/internal/models"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func scored(id string, score float64, offset time.Duration) models.ScoredMessage {
	return models.ScoredMessage{
		Message: models.Message{ID: id, Timestamp: t0.Add(offset)},
		Score:   score,
	}
}

func ids(in []models.ScoredMessage) []string {
	out := make([]string, 0, len(in))
	for _, sm := range in {
		out = append(out, sm.Message.ID)
	}
	return out
}

func TestRankEmpty(t *testing.T) {
	assert.Empty(t, Rank(nil, 0.3, 5))
	assert.Empty(t, Rank([]models.ScoredMessage{}, 0.3, 5))
}

func TestRankFiltersBelowThreshold(t *testing.T) {
	in := []models.ScoredMessage{
		scored("low", 0.29, 0),
		scored("edge", 0.3, 0),
		scored("high", 0.9, 0),
	}
	assert.Equal(t, []string{"high", "edge"}, ids(Rank(in, 0.3, 5)))
}

func TestRankTruncatesToTopResults(t *testing.T) {
	scores := []float64{0.31, 0.92, 0.45, 0.77, 0.5, 0.88, 0.6, 0.33}
	var in []models.ScoredMessage
	for i, s := range scores {
		in = append(in, scored(fmt.Sprintf("m%d", i), s, time.Duration(i)*time.Minute))
	}

	got := Rank(in, 0.3, 5)
	require.Len(t, got, 5)
	assert.Equal(t, []string{"m1", "m5", "m3", "m6", "m4"}, ids(got))
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestRankTieBreaks(t *testing.T) {
	in := []models.ScoredMessage{
		scored("b-old", 0.5, -2*time.Hour),
		scored("c-new", 0.5, 0),
		scored("b-new", 0.5, 0),
		scored("a-old", 0.5, -2*time.Hour),
	}

	// Newer first; equal timestamps fall back to ascending ID.
	assert.Equal(t, []string{"b-new", "c-new", "a-old", "b-old"}, ids(Rank(in, 0, 10)))
}

func TestRankZeroMaxResults(t *testing.T) {
	assert.Empty(t, Rank([]models.ScoredMessage{scored("a", 1, 0)}, 0, 0))
}

func TestRankDoesNotModifyInput(t *testing.T) {
	in := []models.ScoredMessage{scored("a", 0.4, 0), scored("b", 0.9, 0)}
	_ = Rank(in, 0, 5)
	assert.Equal(t, []string{"a", "b"}, ids(in))
}

func TestRankIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var in []models.ScoredMessage
	for i := 0; i < 50; i++ {
		// Coarse scores and timestamps force plenty of ties.
		s := float64(rng.Intn(10)) / 10
		in = append(in, scored(fmt.Sprintf("m%02d", rng.Intn(40)), s, time.Duration(rng.Intn(3))*time.Hour))
	}

	once := Rank(in, 0.3, 7)
	twice := Rank(once, 0.3, 7)
	assert.Equal(t, once, twice)
}

func TestRankIndependentOfInputOrder(t *testing.T) {
	in := []models.ScoredMessage{
		scored("a", 0.5, 0), scored("b", 0.5, time.Hour), scored("c", 0.7, 0), scored("d", 0.5, 0),
	}
	want := ids(Rank(in, 0, 10))

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.ScoredMessage(nil), in...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, ids(Rank(shuffled, 0, 10)))
	}
}
