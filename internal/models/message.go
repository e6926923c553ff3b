package models

import "time"

// Message is a read-only snapshot of a mailbox message returned by a message source.
type Message struct {
	ID          string
	ThreadID    string
	From        string
	To          []string
	Cc          []string
	Subject     string
	Snippet     string
	Body        string
	Timestamp   time.Time
	ThreadCount int // number of messages in the thread at fetch time
}

// Recipients returns the To and Cc addresses together.
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc))
	out = append(out, m.To...)
	return append(out, m.Cc...)
}

// Query is a single mailbox search issued for an event.
// Exactly one of Participant or Keyword is set.
type Query struct {
	Participant string    // address matched as sender or recipient
	Keyword     string    // matched against subject and body
	Window      TimeRange // messages dated inside the window
	Limit       int       // maximum number of messages to return, 0 for the source default
}

// String renders the query for logs.
func (q Query) String() string {
	if q.Participant != "" {
		return "participant:" + q.Participant
	}
	return "keyword:" + q.Keyword
}
