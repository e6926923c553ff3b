package models

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// ErrInvalidEvent is returned when an event is missing the data needed to prepare for it.
var ErrInvalidEvent = errors.New("invalid event")

// Response statuses reported by calendar providers for an attendee.
const (
	ResponseAccepted    = "accepted"
	ResponseDeclined    = "declined"
	ResponseTentative   = "tentative"
	ResponseNeedsAction = "needsAction"
)

// StatusCancelled marks an event that was cancelled by its organizer.
const StatusCancelled = "cancelled"

// Event represents a standard calendar event.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID            string     // Unique identifier for the event (e.g., from the source calendar)
	Title         string     // Summary or title of the event
	Description   string     // Detailed description of the event
	StartTime     time.Time  // Start time of the event
	EndTime       time.Time  // End time of the event
	Location      string     // Location of the event
	Organizer     string     // Organizer's email
	OrganizerSelf bool       // True when the user organised the event
	Attendees     []Attendee // Attendees in the order the provider listed them
	Status        string     // Provider status, e.g. "confirmed" or "cancelled"
	AllDay        bool       // All-day events have no specific start time
	Source        string     // The source of the event (e.g., "google-primary")
	UID           string     // The iCalendar UID
}

// Attendee is a single participant of an event.
type Attendee struct {
	Email          string
	Name           string
	Domain         string // lower-cased domain of Email, empty when Email is malformed
	Self           bool   // the user's own attendee entry
	Organizer      bool
	ResponseStatus string
}

// NewAttendee builds an Attendee and derives its domain from the address.
func NewAttendee(email, name string) Attendee {
	addr, domain, ok := ParseAddress(email)
	if !ok {
		addr = strings.TrimSpace(email)
	}
	return Attendee{Email: addr, Name: name, Domain: domain}
}

// IsExternal reports whether the attendee belongs to none of the given home domains.
// Attendees with a malformed address are never external.
func (a Attendee) IsExternal(homeDomains []string) bool {
	if a.Domain == "" {
		return false
	}
	for _, d := range homeDomains {
		if strings.EqualFold(strings.TrimSpace(d), a.Domain) {
			return false
		}
	}
	return true
}

// IsUser reports whether the attendee represents the user running the prep.
func (e *Event) IsUser(a Attendee) bool {
	if a.Self {
		return true
	}
	return e.OrganizerSelf && e.Organizer != "" && strings.EqualFold(a.Email, e.Organizer)
}

// Duration returns the scheduled length of the event.
func (e *Event) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// Validate checks the structural invariants needed before an event can be prepared.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: event is nil", ErrInvalidEvent)
	}
	if e.StartTime.IsZero() {
		return fmt.Errorf("%w: event %q has no start time", ErrInvalidEvent, e.ID)
	}
	if e.EndTime.IsZero() {
		return fmt.Errorf("%w: event %q has no end time", ErrInvalidEvent, e.ID)
	}
	if e.EndTime.Before(e.StartTime) {
		return fmt.Errorf("%w: event %q ends before it starts", ErrInvalidEvent, e.ID)
	}
	return nil
}

// ParseAddress extracts the bare, lower-cased address and its domain from a header-style
// address such as "Jane Doe <jane@acme.com>". ok is false for malformed input.
func ParseAddress(s string) (addr, domain string, ok bool) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "mailto:"))
	if s == "" {
		return "", "", false
	}
	parsed, err := mail.ParseAddress(s)
	if err != nil {
		return "", "", false
	}
	addr = strings.ToLower(parsed.Address)
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr, addr[at+1:], true
}

// TimeRange is a half-open span of time [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}
