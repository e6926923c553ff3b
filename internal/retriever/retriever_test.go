package retriever

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetprep/internal/config"
	"meetprep/internal/models"
)

var eventStart = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

// fakeSource answers queries from a table keyed by Query.String().
type fakeSource struct {
	mu      sync.Mutex
	results map[string][]models.Message
	errs    map[string]error
	block   map[string]bool
	calls   []models.Query
}

func (f *fakeSource) Search(ctx context.Context, q models.Query) ([]models.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	f.mu.Unlock()

	if f.block[q.String()] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.errs[q.String()]; err != nil {
		return nil, err
	}
	return f.results[q.String()], nil
}

func testEvent() *models.Event {
	self := models.NewAttendee("me@mycorp.com", "Me")
	self.Self = true
	return &models.Event{
		ID:        "evt-1",
		Title:     "Acme Renewal Call",
		StartTime: eventStart,
		EndTime:   eventStart.Add(time.Hour),
		Attendees: []models.Attendee{
			self,
			models.NewAttendee("jane@acme-client.com", "Jane"),
			models.NewAttendee("Raj@Acme-Client.com", "Raj"),
			models.NewAttendee("bob@mycorp.com", "Bob"),
			models.NewAttendee("conference-room", ""),
		},
	}
}

func testConfig() config.RetrievalConfig {
	cfg := config.Default().Retrieval
	cfg.QueryTimeout = time.Second
	return cfg
}

func newRetriever(src MessageSource, cfg config.RetrievalConfig) *Retriever {
	return New(src, cfg, slog.New(slog.DiscardHandler))
}

func msg(id string) models.Message {
	return models.Message{ID: id, Subject: "subject " + id}
}

func TestQueries(t *testing.T) {
	r := newRetriever(&fakeSource{}, testConfig())
	queries := r.Queries(testEvent())

	var got []string
	for _, q := range queries {
		got = append(got, q.String())
		assert.Equal(t, eventStart, q.Window.End)
		assert.Equal(t, eventStart.Add(-30*24*time.Hour), q.Window.Start)
		assert.Equal(t, 20, q.Limit)
	}

	// Self and the malformed room address are skipped; addresses are lower-cased.
	assert.Equal(t, []string{
		"participant:jane@acme-client.com",
		"participant:raj@acme-client.com",
		"participant:bob@mycorp.com",
		"keyword:acme",
		"keyword:renewal",
	}, got)
}

func TestQueriesAreBounded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttendeeQueries = 1
	cfg.MaxKeywords = 1

	queries := newRetriever(&fakeSource{}, cfg).Queries(testEvent())
	require.Len(t, queries, 2)
	assert.Equal(t, "jane@acme-client.com", queries[0].Participant)
	assert.Equal(t, "acme", queries[1].Keyword)
}

func TestFetchCandidatesDeduplicatesInQueryOrder(t *testing.T) {
	first := models.Message{ID: "m1", Subject: "from jane"}
	dup := models.Message{ID: "m1", Subject: "same id, later query"}

	src := &fakeSource{results: map[string][]models.Message{
		"participant:jane@acme-client.com": {first, msg("m2")},
		"participant:raj@acme-client.com":  {msg("m3")},
		"keyword:acme":                     {dup, msg("m4")},
		"keyword:renewal":                  {msg("m2"), {ID: ""}},
	}}

	got, err := newRetriever(src, testConfig()).FetchCandidates(context.Background(), testEvent())
	require.NoError(t, err)

	var ids []string
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids)
	assert.Equal(t, "from jane", got[0].Subject, "first occurrence wins")
}

func TestFetchCandidatesToleratesFailingQueries(t *testing.T) {
	boom := errors.New("rate limited")
	src := &fakeSource{
		results: map[string][]models.Message{
			"participant:jane@acme-client.com": {msg("a")},
			"participant:bob@mycorp.com":       {msg("b")},
			"keyword:renewal":                  {msg("c")},
		},
		errs: map[string]error{
			"participant:raj@acme-client.com": boom,
			"keyword:acme":                    boom,
		},
	}

	got, err := newRetriever(src, testConfig()).FetchCandidates(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Len(t, src.calls, 5)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "c", got[2].ID)
}

func TestFetchCandidatesAllQueriesFail(t *testing.T) {
	boom := errors.New("mailbox offline")
	src := &fakeSource{errs: map[string]error{
		"participant:jane@acme-client.com": boom,
		"participant:raj@acme-client.com":  boom,
		"participant:bob@mycorp.com":       boom,
		"keyword:acme":                     boom,
		"keyword:renewal":                  boom,
	}}

	got, err := newRetriever(src, testConfig()).FetchCandidates(context.Background(), testEvent())
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchCandidatesDropsTimedOutQuery(t *testing.T) {
	cfg := testConfig()
	cfg.QueryTimeout = 20 * time.Millisecond
	src := &fakeSource{
		results: map[string][]models.Message{"keyword:acme": {msg("fast")}},
		block:   map[string]bool{"participant:jane@acme-client.com": true},
	}

	got, err := newRetriever(src, cfg).FetchCandidates(context.Background(), testEvent())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fast", got[0].ID)
}

func TestFetchCandidatesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{results: map[string][]models.Message{"keyword:acme": {msg("a")}}}
	got, err := newRetriever(src, testConfig()).FetchCandidates(ctx, testEvent())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)
}

func TestFetchCandidatesNoQueries(t *testing.T) {
	e := &models.Event{ID: "x", Title: "Weekly sync", StartTime: eventStart, EndTime: eventStart}
	src := &fakeSource{}

	got, err := newRetriever(src, testConfig()).FetchCandidates(context.Background(), e)
	assert.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, src.calls)
}
