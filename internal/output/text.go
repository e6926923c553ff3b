package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"meetprep/internal/models"
	"meetprep/internal/prep"
)

const (
	textEmails       = 5
	descriptionRunes = 200
	previewRunes     = 100
	ruleWidth        = 60
	timeLayout       = "Mon 2 Jan 2006 15:04 MST"
)

// FormatText renders one record as a plain-text prep brief.
func FormatText(rec *models.MeetingPrepRecord) string {
	heavy := strings.Repeat("=", ruleWidth)
	light := strings.Repeat("-", ruleWidth)
	e := rec.Event

	var b strings.Builder
	fmt.Fprintf(&b, "%s\nMEETING PREP: %s\n%s\n", heavy, e.Title, heavy)
	fmt.Fprintf(&b, "\nTime: %s (%s)\n", e.StartTime.Format(timeLayout), e.Duration())
	fmt.Fprintf(&b, "Priority: %s\n", rec.Priority)

	if rec.IsClientMeeting {
		b.WriteString("\nCLIENT MEETING - External attendees detected\n")
	}

	fmt.Fprintf(&b, "\nAttendees (%d):\n", len(e.Attendees))
	for _, a := range e.Attendees {
		fmt.Fprintf(&b, "  • %s\n", attendeeLabel(a))
	}

	if e.Location != "" {
		fmt.Fprintf(&b, "\nLocation: %s\n", e.Location)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", clip(e.Description, descriptionRunes))
	}
	if len(rec.Keywords) > 0 {
		fmt.Fprintf(&b, "\nKeywords: %s\n", strings.Join(rec.Keywords, ", "))
	}

	fmt.Fprintf(&b, "\n\nRELEVANT EMAILS (%d):\n%s\n", len(rec.Messages), light)
	if len(rec.Messages) == 0 {
		b.WriteString("\nNo relevant emails found.\n")
	}
	for i, sm := range rec.Messages {
		if i == textEmails {
			fmt.Fprintf(&b, "\n... and %d more\n", len(rec.Messages)-textEmails)
			break
		}
		m := sm.Message
		fmt.Fprintf(&b, "\n%d. From: %s\n", i+1, orDefault(m.From, "Unknown"))
		fmt.Fprintf(&b, "   Subject: %s\n", orDefault(m.Subject, "No subject"))
		fmt.Fprintf(&b, "   Date: %s\n", formatDate(m.Timestamp))
		fmt.Fprintf(&b, "   Relevance: %.2f\n", sm.Score)
		if preview := preview(m); preview != "" {
			fmt.Fprintf(&b, "   Preview: %s\n", preview)
		}
	}

	if rec.Summary != "" {
		fmt.Fprintf(&b, "\n\nBRIEF:\n%s\n%s\n", light, rec.Summary)
	}

	fmt.Fprintf(&b, "\n%s\n", heavy)
	return b.String()
}

// WriteText writes every record of the run followed by a one-line tally.
func WriteText(w io.Writer, run *prep.Run) error {
	if len(run.Records) == 0 {
		if _, err := fmt.Fprintln(w, "No meetings requiring preparation in the window."); err != nil {
			return err
		}
	}
	for _, rec := range run.Records {
		if _, err := fmt.Fprintln(w, FormatText(rec)); err != nil {
			return err
		}
	}
	for _, f := range run.Failed {
		if _, err := fmt.Fprintf(w, "FAILED: %s: %v\n", eventTitle(f.Event), f.Err); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "Done - prepared %d meeting(s), skipped %d, failed %d\n",
		len(run.Records), run.Skipped, len(run.Failed))
	return err
}

func attendeeLabel(a models.Attendee) string {
	label := a.Email
	if a.Name != "" {
		label = fmt.Sprintf("%s <%s>", a.Name, a.Email)
	}
	if a.Self {
		label += " (you)"
	}
	return label
}

func preview(m models.Message) string {
	text := m.Snippet
	if text == "" {
		text = m.Body
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	return clip(text, previewRunes)
}

// clip shortens s to n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "Unknown date"
	}
	return t.Format(timeLayout)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func eventTitle(e *models.Event) string {
	if e == nil {
		return "(unknown event)"
	}
	if e.Title == "" {
		return e.ID
	}
	return e.Title
}
