package retriever

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"meetprep/internal/config"
	"meetprep/internal/keywords"
	"meetprep/internal/models"
)

// MessageSource searches a mailbox. Implementations must honour ctx cancellation.
type MessageSource interface {
	Search(ctx context.Context, q models.Query) ([]models.Message, error)
}

// Retriever turns an event into mailbox queries and collects the candidate messages.
type Retriever struct {
	source MessageSource
	cfg    config.RetrievalConfig
	logger *slog.Logger
}

// New creates a Retriever backed by the given message source.
func New(source MessageSource, cfg config.RetrievalConfig, logger *slog.Logger) *Retriever {
	return &Retriever{source: source, cfg: cfg, logger: logger}
}

// queryResult is the outcome of one query; a failed query carries err.
type queryResult struct {
	messages []models.Message
	err      error
}

// Window returns the span of mail history searched for an event.
func (r *Retriever) Window(event *models.Event) models.TimeRange {
	return models.TimeRange{
		Start: event.StartTime.Add(-time.Duration(r.cfg.LookbackDays) * 24 * time.Hour),
		End:   event.StartTime,
	}
}

// Queries builds the bounded query set for an event: one per attendee address
// (the user excluded), then one per title keyword.
func (r *Retriever) Queries(event *models.Event) []models.Query {
	window := r.Window(event)
	var queries []models.Query

	seen := make(map[string]struct{})
	for _, a := range event.Attendees {
		if len(seen) >= r.cfg.MaxAttendeeQueries {
			break
		}
		if event.IsUser(a) || a.Domain == "" {
			continue
		}
		if _, ok := seen[a.Email]; ok {
			continue
		}
		seen[a.Email] = struct{}{}
		queries = append(queries, models.Query{
			Participant: a.Email,
			Window:      window,
			Limit:       r.cfg.MaxCandidatesPerQuery,
		})
	}

	for _, kw := range keywords.Extract(event.Title, r.cfg.Stopwords, r.cfg.MaxKeywords) {
		queries = append(queries, models.Query{
			Keyword: kw,
			Window:  window,
			Limit:   r.cfg.MaxCandidatesPerQuery,
		})
	}
	return queries
}

// FetchCandidates runs every query for the event concurrently and returns the
// union of their results, de-duplicated by message ID in query order.
// A failing query is logged and skipped; if every query fails the result is empty.
// The only error returned is the cancellation of ctx.
func (r *Retriever) FetchCandidates(ctx context.Context, event *models.Event) ([]models.Message, error) {
	queries := r.Queries(event)
	if len(queries) == 0 || r.source == nil {
		return nil, ctx.Err()
	}

	results := make([]queryResult, len(queries))
	var g errgroup.Group
	g.SetLimit(r.cfg.QueryConcurrency)
	for i, q := range queries {
		g.Go(func() error {
			results[i] = r.run(ctx, event, q)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	seen := make(map[string]struct{})
	var candidates []models.Message
	for _, res := range results {
		if res.err != nil {
			failed++
			continue
		}
		for _, m := range res.messages {
			if m.ID == "" {
				continue
			}
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			candidates = append(candidates, m)
		}
	}

	r.logger.Debug("Collected candidate messages",
		"eventID", event.ID, "queries", len(queries), "failed", failed, "candidates", len(candidates))
	return candidates, nil
}

// run executes a single query under the per-query timeout.
func (r *Retriever) run(ctx context.Context, event *models.Event, q models.Query) queryResult {
	if err := ctx.Err(); err != nil {
		return queryResult{err: err}
	}

	qctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	messages, err := r.source.Search(qctx, q)
	if err != nil {
		r.logger.Warn("Mailbox query failed, continuing without it", "eventID", event.ID, "query", q.String(), "error", err)
		return queryResult{err: err}
	}
	return queryResult{messages: messages}
}
