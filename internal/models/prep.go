package models

// Signal names one component of a message's relevance score.
type Signal string

const (
	SignalAttendeeMatch  Signal = "attendee_match"
	SignalKeywordMatch   Signal = "keyword_match"
	SignalRecency        Signal = "recency"
	SignalThreadActivity Signal = "thread_activity"
)

// Signals lists every relevance signal in a fixed order.
var Signals = []Signal{SignalAttendeeMatch, SignalKeywordMatch, SignalRecency, SignalThreadActivity}

// Breakdown holds the sub-score of each signal, each in [0,1].
type Breakdown struct {
	AttendeeMatch  float64 `json:"attendee_match"`
	KeywordMatch   float64 `json:"keyword_match"`
	Recency        float64 `json:"recency"`
	ThreadActivity float64 `json:"thread_activity"`
}

// Get returns the sub-score for a signal.
func (b Breakdown) Get(s Signal) float64 {
	switch s {
	case SignalAttendeeMatch:
		return b.AttendeeMatch
	case SignalKeywordMatch:
		return b.KeywordMatch
	case SignalRecency:
		return b.Recency
	case SignalThreadActivity:
		return b.ThreadActivity
	}
	return 0
}

// ScoredMessage is a candidate message with its aggregate relevance.
type ScoredMessage struct {
	Message   Message
	Score     float64
	Breakdown Breakdown
}

// Priority ranks how much attention a meeting needs.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// MeetingPrepRecord is the structured preparation output for one event.
// It is built once by the assembler and not modified afterwards.
type MeetingPrepRecord struct {
	Event           *Event
	IsClientMeeting bool
	Priority        Priority
	Keywords        []string
	Messages        []ScoredMessage // most relevant first
	Summary         string          // filled by a narrative generator, if any
}

// WithSummary returns a copy of the record carrying the given narrative summary.
func (r *MeetingPrepRecord) WithSummary(summary string) *MeetingPrepRecord {
	cp := *r
	cp.Messages = append([]ScoredMessage(nil), r.Messages...)
	cp.Keywords = append([]string(nil), r.Keywords...)
	cp.Summary = summary
	return &cp
}
