package output

import (
	"encoding/json"
	"io"
	"time"

	"meetprep/internal/models"
	"meetprep/internal/prep"
)

type jsonRun struct {
	RunID       string       `json:"run_id"`
	GeneratedAt time.Time    `json:"generated_at"`
	WindowStart time.Time    `json:"window_start"`
	WindowEnd   time.Time    `json:"window_end"`
	Records     []jsonRecord `json:"records"`
	Skipped     int          `json:"skipped"`
	Failed      []jsonFailed `json:"failed"`
}

type jsonRecord struct {
	Event           jsonEvent         `json:"event"`
	IsClientMeeting bool              `json:"is_client_meeting"`
	Priority        models.Priority   `json:"priority"`
	Keywords        []string          `json:"keywords"`
	Messages        []jsonScoredEmail `json:"messages"`
	Summary         string            `json:"summary,omitempty"`
}

type jsonEvent struct {
	ID          string         `json:"id"`
	UID         string         `json:"uid,omitempty"`
	Source      string         `json:"source,omitempty"`
	Title       string         `json:"title"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	Location    string         `json:"location,omitempty"`
	Description string         `json:"description,omitempty"`
	Organizer   string         `json:"organizer,omitempty"`
	Attendees   []jsonAttendee `json:"attendees"`
}

type jsonAttendee struct {
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	Self           bool   `json:"self,omitempty"`
	ResponseStatus string `json:"response_status,omitempty"`
}

type jsonScoredEmail struct {
	ID        string           `json:"id"`
	ThreadID  string           `json:"thread_id,omitempty"`
	From      string           `json:"from"`
	Subject   string           `json:"subject"`
	Timestamp time.Time        `json:"timestamp"`
	Snippet   string           `json:"snippet,omitempty"`
	Score     float64          `json:"score"`
	Breakdown models.Breakdown `json:"breakdown"`
}

type jsonFailed struct {
	EventID string `json:"event_id"`
	Title   string `json:"title"`
	Error   string `json:"error"`
}

// WriteJSON writes the run as one indented JSON document.
func WriteJSON(w io.Writer, run *prep.Run, generatedAt time.Time) error {
	out := jsonRun{
		RunID:       run.ID,
		GeneratedAt: generatedAt.UTC(),
		WindowStart: run.Range.Start,
		WindowEnd:   run.Range.End,
		Records:     make([]jsonRecord, 0, len(run.Records)),
		Skipped:     run.Skipped,
		Failed:      make([]jsonFailed, 0, len(run.Failed)),
	}
	for _, rec := range run.Records {
		out.Records = append(out.Records, toJSONRecord(rec))
	}
	for _, f := range run.Failed {
		jf := jsonFailed{Title: eventTitle(f.Event), Error: f.Err.Error()}
		if f.Event != nil {
			jf.EventID = f.Event.ID
		}
		out.Failed = append(out.Failed, jf)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func toJSONRecord(rec *models.MeetingPrepRecord) jsonRecord {
	e := rec.Event
	jr := jsonRecord{
		Event: jsonEvent{
			ID:          e.ID,
			UID:         e.UID,
			Source:      e.Source,
			Title:       e.Title,
			Start:       e.StartTime,
			End:         e.EndTime,
			Location:    e.Location,
			Description: e.Description,
			Organizer:   e.Organizer,
			Attendees:   make([]jsonAttendee, 0, len(e.Attendees)),
		},
		IsClientMeeting: rec.IsClientMeeting,
		Priority:        rec.Priority,
		Keywords:        append([]string{}, rec.Keywords...),
		Messages:        make([]jsonScoredEmail, 0, len(rec.Messages)),
		Summary:         rec.Summary,
	}
	for _, a := range e.Attendees {
		jr.Event.Attendees = append(jr.Event.Attendees, jsonAttendee{
			Email:          a.Email,
			Name:           a.Name,
			Self:           a.Self,
			ResponseStatus: a.ResponseStatus,
		})
	}
	for _, sm := range rec.Messages {
		jr.Messages = append(jr.Messages, jsonScoredEmail{
			ID:        sm.Message.ID,
			ThreadID:  sm.Message.ThreadID,
			From:      sm.Message.From,
			Subject:   sm.Message.Subject,
			Timestamp: sm.Message.Timestamp,
			Snippet:   sm.Message.Snippet,
			Score:     sm.Score,
			Breakdown: sm.Breakdown,
		})
	}
	return jr
}
