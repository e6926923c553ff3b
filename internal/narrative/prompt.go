package narrative

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"meetprep/internal/models"
)

const (
	// promptMessages caps how many ranked messages are shown to the model.
	promptMessages  = 10
	promptBodyRunes = 500
)

// Sections are the headings the brief is asked to contain, in order.
var Sections = []string{
	"MEETING CONTEXT",
	"KEY DISCUSSION POINTS",
	"ACTION ITEMS",
	"RECOMMENDED PREPARATION",
}

// Generator writes a narrative brief for an assembled record.
type Generator interface {
	Generate(ctx context.Context, record *models.MeetingPrepRecord) (string, error)
}

// Annotate attaches generated briefs to the records. A failed generation is logged
// and leaves that record without a summary.
func Annotate(ctx context.Context, logger *slog.Logger, gen Generator, records []*models.MeetingPrepRecord) []*models.MeetingPrepRecord {
	out := make([]*models.MeetingPrepRecord, 0, len(records))
	for _, rec := range records {
		summary, err := gen.Generate(ctx, rec)
		if err != nil {
			logger.Warn("Narrative brief unavailable", "eventTitle", rec.Event.Title, "error", err)
			out = append(out, rec)
			continue
		}
		out = append(out, rec.WithSummary(summary))
	}
	return out
}

// BuildPrompt renders the record as the model prompt.
func BuildPrompt(record *models.MeetingPrepRecord) string {
	e := record.Event
	var b strings.Builder

	b.WriteString("Prepare a meeting brief.\n\n")
	fmt.Fprintf(&b, "Meeting: %s\n", e.Title)
	fmt.Fprintf(&b, "When: %s (%s)\n", e.StartTime.Format(time.RFC1123), e.Duration())
	fmt.Fprintf(&b, "Priority: %s\n", record.Priority)
	if record.IsClientMeeting {
		b.WriteString("Type: client meeting with external attendees\n")
	} else {
		b.WriteString("Type: internal meeting\n")
	}
	if e.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", e.Location)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, "Agenda: %s\n", e.Description)
	}

	b.WriteString("Attendees:\n")
	for _, a := range e.Attendees {
		if e.IsUser(a) {
			continue
		}
		if a.Name != "" {
			fmt.Fprintf(&b, "- %s <%s>\n", a.Name, a.Email)
		} else {
			fmt.Fprintf(&b, "- %s\n", a.Email)
		}
	}

	if len(record.Messages) == 0 {
		b.WriteString("\nNo related email history was found.\n")
	} else {
		b.WriteString("\nRelated emails, most relevant first:\n")
		for i, sm := range record.Messages {
			if i == promptMessages {
				break
			}
			m := sm.Message
			fmt.Fprintf(&b, "\n[%d] From: %s\nSubject: %s\nDate: %s\nRelevance: %.2f\n%s\n",
				i+1, m.From, m.Subject, m.Timestamp.Format(time.DateOnly), sm.Score, excerpt(m))
		}
	}

	b.WriteString("\nStructure the brief with these sections:\n")
	for i, s := range Sections {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return b.String()
}

func excerpt(m models.Message) string {
	text := m.Body
	if text == "" {
		text = m.Snippet
	}
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) > promptBodyRunes {
		return string(r[:promptBodyRunes]) + "..."
	}
	return text
}
