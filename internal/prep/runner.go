package prep

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"meetprep/internal/classifier"
	"meetprep/internal/config"
	"meetprep/internal/models"
	"meetprep/internal/retriever"
)

// EventSource lists calendar events.
type EventSource interface {
	ListUpcomingEvents(ctx context.Context, r models.TimeRange) ([]*models.Event, error)
}

// Failure records an event that could not be prepared.
type Failure struct {
	Event *models.Event
	Err   error
}

// Run is the outcome of one prep run.
type Run struct {
	ID      string
	Range   models.TimeRange
	Records []*models.MeetingPrepRecord // in event order
	Skipped int                         // events rejected by the prep filter
	Failed  []Failure
}

// Runner orchestrates a prep run across every configured event source.
type Runner struct {
	logger    *slog.Logger
	sources   []EventSource
	assembler *Assembler
	cfg       config.Config
}

// NewRunner creates a new Runner.
func NewRunner(logger *slog.Logger, cfg *config.Config, sources []EventSource, messages retriever.MessageSource) *Runner {
	return &Runner{
		logger:    logger,
		sources:   sources,
		assembler: NewAssembler(cfg, messages, logger),
		cfg:       *cfg,
	}
}

// Run prepares every upcoming event in the range. Failing to list events from any
// source aborts the run. Individual events that fail or are cancelled produce no
// record and are reported in Run.Failed.
func (r *Runner) Run(ctx context.Context, tr models.TimeRange) (*Run, error) {
	run := &Run{ID: uuid.New().String(), Range: tr}
	logger := r.logger.With("runID", run.ID)
	logger.Info("Starting prep run.", "from", tr.Start, "to", tr.End)

	events, err := r.fetchAllEvents(ctx, tr)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	logger.Info("Fetched all events.", "count", len(events))

	var selected []*models.Event
	for _, event := range events {
		if ok, reason := classifier.ShouldPrepare(event, r.cfg.PrepFilter); !ok {
			logger.Debug("Skipping event.", "title", event.Title, "reason", reason)
			run.Skipped++
			continue
		}
		selected = append(selected, event)
	}

	records := make([]*models.MeetingPrepRecord, len(selected))
	errs := make([]error, len(selected))

	var g errgroup.Group
	g.SetLimit(r.cfg.EventConcurrency)
	for i, event := range selected {
		g.Go(func() error {
			records[i], errs[i] = r.assembler.Assemble(ctx, event)
			return nil
		})
	}
	_ = g.Wait()

	for i, event := range selected {
		if errs[i] != nil {
			logger.Error("Failed to prepare event", "title", event.Title, "id", event.ID, "error", errs[i])
			run.Failed = append(run.Failed, Failure{Event: event, Err: errs[i]})
			continue
		}
		run.Records = append(run.Records, records[i])
	}

	logger.Info("Prep run finished.", "prepared", len(run.Records), "skipped", run.Skipped, "failed", len(run.Failed))
	return run, nil
}

// fetchAllEvents retrieves events from all configured sources.
func (r *Runner) fetchAllEvents(ctx context.Context, tr models.TimeRange) ([]*models.Event, error) {
	var all []*models.Event
	seen := make(map[string]struct{})
	for _, src := range r.sources {
		events, err := src.ListUpcomingEvents(ctx, tr)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			key := e.UID
			if key == "" {
				key = e.Source + "/" + e.ID
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			all = append(all, e)
		}
	}
	return all, nil
}
