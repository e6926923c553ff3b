package prep

import (
	"context"
	"fmt"
	"log/slog"

	"meetprep/internal/classifier"
	"meetprep/internal/config"
	"meetprep/internal/models"
	"meetprep/internal/ranker"
	"meetprep/internal/retriever"
	"meetprep/internal/scorer"
)

// Assembler builds the prep record for a single event.
type Assembler struct {
	cfg       config.Config
	retriever *retriever.Retriever
	scorer    *scorer.Scorer
	logger    *slog.Logger
}

// NewAssembler creates an Assembler that searches the given message source.
// The configuration is copied; later changes to cfg do not affect the Assembler.
func NewAssembler(cfg *config.Config, source retriever.MessageSource, logger *slog.Logger) *Assembler {
	return &Assembler{
		cfg:       *cfg,
		retriever: retriever.New(source, cfg.Retrieval, logger),
		scorer:    scorer.New(cfg.Scoring, cfg.Retrieval),
		logger:    logger,
	}
}

// Assemble classifies the event, fetches and scores candidate messages, and
// returns the ranked prep record. It fails only for a structurally invalid
// event or a cancelled context; retrieval problems yield fewer messages.
func (a *Assembler) Assemble(ctx context.Context, event *models.Event) (*models.MeetingPrepRecord, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	isClient := classifier.Classify(event, a.cfg.HomeDomains)

	candidates, err := a.retriever.FetchCandidates(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("prep for event %q abandoned: %w", event.ID, err)
	}

	scored := a.scorer.ScoreAll(event, candidates)
	ranked := ranker.Rank(scored, a.cfg.Ranking.MinRelevance, a.cfg.Ranking.MaxResults)

	a.logger.Debug("Assembled meeting prep",
		"eventID", event.ID, "title", event.Title, "client", isClient,
		"candidates", len(candidates), "ranked", len(ranked))

	return &models.MeetingPrepRecord{
		Event:           event,
		IsClientMeeting: isClient,
		Priority:        classifier.Priority(event, isClient),
		Keywords:        a.scorer.Keywords(event),
		Messages:        ranked,
	}, nil
}
