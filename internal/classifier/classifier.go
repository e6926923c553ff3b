package classifier

import (
	"strings"

	"meetprep/internal/config"
	"meetprep/internal/models"
)

// largeMeetingSize is the attendee count at which an internal meeting gets medium priority.
const largeMeetingSize = 5

// Classify reports whether the event is a client meeting: at least one attendee,
// other than the user, belongs to none of the home domains.
func Classify(event *models.Event, homeDomains []string) bool {
	if event == nil {
		return false
	}
	for _, a := range event.Attendees {
		if event.IsUser(a) {
			continue
		}
		if a.IsExternal(homeDomains) {
			return true
		}
	}
	return false
}

// Priority ranks the event: client meetings first, then large internal meetings.
func Priority(event *models.Event, isClient bool) models.Priority {
	switch {
	case isClient:
		return models.PriorityHigh
	case len(event.Attendees) >= largeMeetingSize:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// ShouldPrepare decides whether an event is worth preparing for.
// It returns false and a short reason for events the filter rejects.
func ShouldPrepare(event *models.Event, filter config.FilterConfig) (bool, string) {
	if !filter.Enabled {
		return true, ""
	}
	if event.AllDay {
		return false, "all-day event"
	}
	if event.Status == models.StatusCancelled {
		return false, "cancelled"
	}
	for _, a := range event.Attendees {
		if a.Self && a.ResponseStatus == models.ResponseDeclined {
			return false, "declined"
		}
	}
	if !event.StartTime.IsZero() && !event.EndTime.IsZero() &&
		event.Duration().Minutes() < float64(filter.MinDurationMinutes) {
		return false, "too short"
	}

	title := strings.ToLower(event.Title)
	description := strings.ToLower(event.Description)
	for _, kw := range filter.SkipKeywords {
		if strings.Contains(title, kw) || strings.Contains(description, kw) {
			return false, "skip keyword " + kw
		}
	}

	if len(event.Attendees) < filter.MinAttendees {
		return false, "too few attendees"
	}
	return true, ""
}
