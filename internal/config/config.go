package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable that overrides a config key.
const EnvPrefix = "MEETPREP"

// ErrInvalidConfig is returned when configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all meetprep configuration. It is loaded once per run and
// passed by value into the components that need it.
type Config struct {
	HomeDomains      []string     `mapstructure:"home_domains"`
	CalendarIDs      []string     `mapstructure:"calendar_ids"`
	Mailbox          string       `mapstructure:"mailbox"`
	EventConcurrency int          `mapstructure:"event_concurrency"`
	Window           WindowConfig `mapstructure:"window"`
	PrepFilter       FilterConfig `mapstructure:"prep_filter"`

	Retrieval RetrievalConfig `mapstructure:",squash"`
	Scoring   ScoringConfig   `mapstructure:",squash"`
	Ranking   RankingConfig   `mapstructure:",squash"`
}

// WindowConfig controls how far ahead the prep run looks for events.
type WindowConfig struct {
	MinHoursAhead int `mapstructure:"min_hours_ahead"`
	MaxHoursAhead int `mapstructure:"max_hours_ahead"`
}

// Range returns the look-ahead window relative to now.
func (w WindowConfig) Range(now time.Time) (time.Time, time.Time) {
	return now.Add(time.Duration(w.MinHoursAhead) * time.Hour), now.Add(time.Duration(w.MaxHoursAhead) * time.Hour)
}

// FilterConfig decides which events are worth preparing for.
type FilterConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	MinDurationMinutes int      `mapstructure:"min_duration_minutes"`
	MinAttendees       int      `mapstructure:"min_attendees"`
	SkipKeywords       []string `mapstructure:"skip_keywords"`
}

// RetrievalConfig controls how candidate messages are fetched for an event.
type RetrievalConfig struct {
	LookbackDays          int           `mapstructure:"lookback_days"`
	MaxKeywords           int           `mapstructure:"max_keywords"`
	MaxAttendeeQueries    int           `mapstructure:"max_attendee_queries"`
	MaxCandidatesPerQuery int           `mapstructure:"max_candidates_per_query"`
	QueryTimeout          time.Duration `mapstructure:"query_timeout"`
	QueryConcurrency      int           `mapstructure:"query_concurrency"`
	Stopwords             []string      `mapstructure:"stopwords"`
}

// ScoringConfig holds the relevance weighting policy.
type ScoringConfig struct {
	Weights            Weights `mapstructure:"signal_weights"`
	RecencyHorizonDays int     `mapstructure:"recency_horizon_days"`
	ThreadSaturation   int     `mapstructure:"thread_saturation"`
	DomainMatchCredit  float64 `mapstructure:"domain_match_credit"`
}

// Weights are the non-negative multipliers of each relevance signal. They sum to 1.0.
type Weights struct {
	AttendeeMatch  float64 `mapstructure:"attendee_match"`
	KeywordMatch   float64 `mapstructure:"keyword_match"`
	Recency        float64 `mapstructure:"recency"`
	ThreadActivity float64 `mapstructure:"thread_activity"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.AttendeeMatch + w.KeywordMatch + w.Recency + w.ThreadActivity
}

// RankingConfig holds the threshold and cap applied to scored messages.
type RankingConfig struct {
	MinRelevance float64 `mapstructure:"min_relevance"`
	MaxResults   int     `mapstructure:"max_results"`
}

// DefaultStopwords are title words that carry no meaning for mailbox search.
var DefaultStopwords = []string{
	"meeting", "sync", "call", "discussion", "review", "update",
	"weekly", "monthly", "daily", "standup", "stand-up", "stand",
	"the", "and", "or", "with", "for", "about", "on", "in", "at",
	"a", "an", "of", "to", "from", "by", "up",
}

// DefaultSkipKeywords mark events that never need preparation.
var DefaultSkipKeywords = []string{
	"standup", "stand-up", "lunch", "coffee", "social",
	"birthday", "happy hour", "team building",
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		CalendarIDs:      []string{"primary"},
		Mailbox:          "INBOX",
		EventConcurrency: 4,
		Window: WindowConfig{
			MinHoursAhead: 4,
			MaxHoursAhead: 24,
		},
		PrepFilter: FilterConfig{
			Enabled:            true,
			MinDurationMinutes: 15,
			MinAttendees:       2,
			SkipKeywords:       append([]string(nil), DefaultSkipKeywords...),
		},
		Retrieval: RetrievalConfig{
			LookbackDays:          30,
			MaxKeywords:           4,
			MaxAttendeeQueries:    10,
			MaxCandidatesPerQuery: 20,
			QueryTimeout:          15 * time.Second,
			QueryConcurrency:      4,
			Stopwords:             append([]string(nil), DefaultStopwords...),
		},
		Scoring: ScoringConfig{
			Weights: Weights{
				AttendeeMatch:  0.25,
				KeywordMatch:   0.25,
				Recency:        0.25,
				ThreadActivity: 0.25,
			},
			RecencyHorizonDays: 30,
			ThreadSaturation:   10,
			DomainMatchCredit:  0.5,
		},
		Ranking: RankingConfig{
			MinRelevance: 0.3,
			MaxResults:   5,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// MEETPREP_* environment variables, in increasing order of precedence.
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("home_domains", d.HomeDomains)
	v.SetDefault("calendar_ids", d.CalendarIDs)
	v.SetDefault("mailbox", d.Mailbox)
	v.SetDefault("event_concurrency", d.EventConcurrency)
	v.SetDefault("window.min_hours_ahead", d.Window.MinHoursAhead)
	v.SetDefault("window.max_hours_ahead", d.Window.MaxHoursAhead)
	v.SetDefault("prep_filter.enabled", d.PrepFilter.Enabled)
	v.SetDefault("prep_filter.min_duration_minutes", d.PrepFilter.MinDurationMinutes)
	v.SetDefault("prep_filter.min_attendees", d.PrepFilter.MinAttendees)
	v.SetDefault("prep_filter.skip_keywords", d.PrepFilter.SkipKeywords)
	v.SetDefault("lookback_days", d.Retrieval.LookbackDays)
	v.SetDefault("max_keywords", d.Retrieval.MaxKeywords)
	v.SetDefault("max_attendee_queries", d.Retrieval.MaxAttendeeQueries)
	v.SetDefault("max_candidates_per_query", d.Retrieval.MaxCandidatesPerQuery)
	v.SetDefault("query_timeout", d.Retrieval.QueryTimeout)
	v.SetDefault("query_concurrency", d.Retrieval.QueryConcurrency)
	v.SetDefault("stopwords", d.Retrieval.Stopwords)
	v.SetDefault("signal_weights.attendee_match", d.Scoring.Weights.AttendeeMatch)
	v.SetDefault("signal_weights.keyword_match", d.Scoring.Weights.KeywordMatch)
	v.SetDefault("signal_weights.recency", d.Scoring.Weights.Recency)
	v.SetDefault("signal_weights.thread_activity", d.Scoring.Weights.ThreadActivity)
	v.SetDefault("recency_horizon_days", d.Scoring.RecencyHorizonDays)
	v.SetDefault("thread_saturation", d.Scoring.ThreadSaturation)
	v.SetDefault("domain_match_credit", d.Scoring.DomainMatchCredit)
	v.SetDefault("min_relevance", d.Ranking.MinRelevance)
	v.SetDefault("max_results", d.Ranking.MaxResults)
}

// Settings returns the configuration keyed the way config files and
// MEETPREP_* variables name it, with durations rendered as strings.
func (c *Config) Settings() map[string]any {
	v := viper.New()
	setDefaults(v, c)
	v.SetDefault("query_timeout", c.Retrieval.QueryTimeout.String())
	return v.AllSettings()
}

// normalize trims and lower-cases the domain and keyword lists.
func (c *Config) normalize() {
	c.HomeDomains = cleanList(c.HomeDomains)
	c.CalendarIDs = trimList(c.CalendarIDs)
	c.Retrieval.Stopwords = cleanList(c.Retrieval.Stopwords)
	c.PrepFilter.SkipKeywords = cleanList(c.PrepFilter.SkipKeywords)
}

func cleanList(in []string) []string {
	out := trimList(in)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// weightTolerance absorbs floating point noise from config files.
const weightTolerance = 1e-6

// Validate rejects configurations that would make a prep run meaningless.
func (c *Config) Validate() error {
	if len(c.HomeDomains) == 0 {
		return fmt.Errorf("%w: home_domains must list at least one domain", ErrInvalidConfig)
	}
	for _, d := range c.HomeDomains {
		if strings.Contains(d, "@") {
			return fmt.Errorf("%w: home domain %q must not contain '@'", ErrInvalidConfig, d)
		}
	}

	w := c.Scoring.Weights
	for name, value := range map[string]float64{
		"attendee_match":  w.AttendeeMatch,
		"keyword_match":   w.KeywordMatch,
		"recency":         w.Recency,
		"thread_activity": w.ThreadActivity,
	} {
		if value < 0 || math.IsNaN(value) {
			return fmt.Errorf("%w: signal weight %s must be non-negative, got %v", ErrInvalidConfig, name, value)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("%w: signal weights must sum to 1.0, got %.4f", ErrInvalidConfig, sum)
	}

	if c.Scoring.RecencyHorizonDays <= 0 {
		return fmt.Errorf("%w: recency_horizon_days must be positive, got %d", ErrInvalidConfig, c.Scoring.RecencyHorizonDays)
	}
	if c.Scoring.ThreadSaturation <= 0 {
		return fmt.Errorf("%w: thread_saturation must be positive, got %d", ErrInvalidConfig, c.Scoring.ThreadSaturation)
	}
	if c.Scoring.DomainMatchCredit < 0 || c.Scoring.DomainMatchCredit > 1 {
		return fmt.Errorf("%w: domain_match_credit must be in [0,1], got %v", ErrInvalidConfig, c.Scoring.DomainMatchCredit)
	}

	if c.Ranking.MinRelevance < 0 || c.Ranking.MinRelevance > 1 {
		return fmt.Errorf("%w: min_relevance must be in [0,1], got %v", ErrInvalidConfig, c.Ranking.MinRelevance)
	}
	if c.Ranking.MaxResults < 0 {
		return fmt.Errorf("%w: max_results must be non-negative, got %d", ErrInvalidConfig, c.Ranking.MaxResults)
	}

	r := c.Retrieval
	if r.LookbackDays <= 0 {
		return fmt.Errorf("%w: lookback_days must be positive, got %d", ErrInvalidConfig, r.LookbackDays)
	}
	if r.MaxKeywords < 0 || r.MaxAttendeeQueries < 0 {
		return fmt.Errorf("%w: max_keywords and max_attendee_queries must be non-negative", ErrInvalidConfig)
	}
	if r.MaxCandidatesPerQuery <= 0 {
		return fmt.Errorf("%w: max_candidates_per_query must be positive, got %d", ErrInvalidConfig, r.MaxCandidatesPerQuery)
	}
	if r.QueryTimeout <= 0 {
		return fmt.Errorf("%w: query_timeout must be positive, got %s", ErrInvalidConfig, r.QueryTimeout)
	}
	if r.QueryConcurrency <= 0 || c.EventConcurrency <= 0 {
		return fmt.Errorf("%w: query_concurrency and event_concurrency must be positive", ErrInvalidConfig)
	}

	if c.Window.MinHoursAhead < 0 || c.Window.MaxHoursAhead <= c.Window.MinHoursAhead {
		return fmt.Errorf("%w: window must satisfy 0 <= min_hours_ahead < max_hours_ahead, got %d..%d",
			ErrInvalidConfig, c.Window.MinHoursAhead, c.Window.MaxHoursAhead)
	}
	if c.PrepFilter.MinDurationMinutes < 0 || c.PrepFilter.MinAttendees < 0 {
		return fmt.Errorf("%w: prep_filter thresholds must be non-negative", ErrInvalidConfig)
	}

	return nil
}
