package scorer

import (
	"math"
	"strings"
	"time"

	"meetprep/internal/config"
	"meetprep/internal/keywords"
	"meetprep/internal/models"
)

const day = 24 * time.Hour

// Scorer computes the relevance of a message to an event. It holds no state
// beyond its configuration, so one Scorer may be shared across goroutines.
type Scorer struct {
	cfg         config.ScoringConfig
	stopwords   []string
	maxKeywords int
}

// New creates a Scorer. Keyword extraction uses the same settings as retrieval so
// that the keyword signal measures the words that were searched for.
func New(cfg config.ScoringConfig, retrieval config.RetrievalConfig) *Scorer {
	return &Scorer{cfg: cfg, stopwords: retrieval.Stopwords, maxKeywords: retrieval.MaxKeywords}
}

// Keywords returns the title keywords the scorer matches messages against.
func (s *Scorer) Keywords(event *models.Event) []string {
	return keywords.Extract(event.Title, s.stopwords, s.maxKeywords)
}

// Score rates a single message against the event.
func (s *Scorer) Score(event *models.Event, msg models.Message) models.ScoredMessage {
	return s.score(event, msg, s.Keywords(event))
}

// ScoreAll rates every message, extracting the event keywords once.
func (s *Scorer) ScoreAll(event *models.Event, msgs []models.Message) []models.ScoredMessage {
	kws := s.Keywords(event)
	out := make([]models.ScoredMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, s.score(event, m, kws))
	}
	return out
}

func (s *Scorer) score(event *models.Event, msg models.Message, kws []string) models.ScoredMessage {
	b := models.Breakdown{
		AttendeeMatch:  s.attendeeMatch(event, msg),
		KeywordMatch:   keywordMatch(kws, msg),
		Recency:        recency(event.StartTime, msg.Timestamp, s.cfg.RecencyHorizonDays),
		ThreadActivity: threadActivity(msg.ThreadCount, s.cfg.ThreadSaturation),
	}
	return models.ScoredMessage{Message: msg, Score: Aggregate(b, s.cfg.Weights), Breakdown: b}
}

// Aggregate combines the signals as a weighted sum clipped to [0,1].
func Aggregate(b models.Breakdown, w config.Weights) float64 {
	total := w.AttendeeMatch*b.AttendeeMatch +
		w.KeywordMatch*b.KeywordMatch +
		w.Recency*b.Recency +
		w.ThreadActivity*b.ThreadActivity
	return clamp(total)
}

// attendeeMatch is 1 when the sender or a recipient is an attendee, partial credit
// when only a domain matches, otherwise 0. The user's own entry is ignored.
func (s *Scorer) attendeeMatch(event *models.Event, msg models.Message) float64 {
	addrs := make(map[string]struct{})
	domains := make(map[string]struct{})
	self := make(map[string]struct{})
	for _, a := range event.Attendees {
		if event.IsUser(a) {
			self[a.Email] = struct{}{}
			continue
		}
		if a.Domain == "" {
			continue
		}
		addrs[a.Email] = struct{}{}
		domains[a.Domain] = struct{}{}
	}
	if len(addrs) == 0 {
		return 0
	}

	best := 0.0
	for _, raw := range append([]string{msg.From}, msg.Recipients()...) {
		addr, domain, ok := models.ParseAddress(raw)
		if !ok {
			continue
		}
		// The user's own address never counts as a match.
		if _, mine := self[addr]; mine {
			continue
		}
		if _, hit := addrs[addr]; hit {
			return 1
		}
		if _, hit := domains[domain]; hit {
			best = s.cfg.DomainMatchCredit
		}
	}
	return best
}

// keywordMatch is the fraction of keywords found in the subject, snippet or body.
func keywordMatch(kws []string, msg models.Message) float64 {
	if len(kws) == 0 {
		return 0
	}
	text := strings.ToLower(msg.Subject + "\n" + msg.Snippet + "\n" + msg.Body)
	hits := 0
	for _, kw := range kws {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return clamp(float64(hits) / float64(len(kws)))
}

// recency is 1 for messages at most a day older than the event start and decays
// linearly to 0 at the horizon. Messages without a timestamp score 0.
func recency(eventStart, sent time.Time, horizonDays int) float64 {
	if sent.IsZero() {
		return 0
	}
	age := eventStart.Sub(sent)
	if age <= day {
		return 1
	}
	horizon := time.Duration(horizonDays) * day
	if age >= horizon {
		return 0
	}
	return clamp(1 - float64(age-day)/float64(horizon-day))
}

// threadActivity saturates at the configured thread size.
func threadActivity(count, saturation int) float64 {
	if count <= 0 || saturation <= 0 {
		return 0
	}
	return math.Min(float64(count)/float64(saturation), 1)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
