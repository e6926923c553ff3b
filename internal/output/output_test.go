package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetprep/internal/models"
	"meetprep/internal/prep"
)

var start = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func record() *models.MeetingPrepRecord {
	self := models.NewAttendee("me@mycorp.com", "")
	self.Self = true
	messages := make([]models.ScoredMessage, 0, 6)
	for i := 0; i < 6; i++ {
		messages = append(messages, models.ScoredMessage{
			Message: models.Message{
				ID:        string(rune('a' + i)),
				From:      "jane@acme-client.com",
				Subject:   "Acme renewal terms",
				Snippet:   strings.Repeat("word ", 40),
				Timestamp: start.Add(-time.Duration(i+1) * 24 * time.Hour),
			},
			Score:     0.9 - float64(i)/10,
			Breakdown: models.Breakdown{AttendeeMatch: 1, Recency: 0.9},
		})
	}
	return &models.MeetingPrepRecord{
		Event: &models.Event{
			ID:          "e1",
			Title:       "Acme Renewal Call",
			Description: strings.Repeat("x", 250),
			Location:    "Zoom",
			StartTime:   start,
			EndTime:     start.Add(time.Hour),
			Attendees:   []models.Attendee{self, models.NewAttendee("jane@acme-client.com", "Jane Doe")},
		},
		IsClientMeeting: true,
		Priority:        models.PriorityHigh,
		Keywords:        []string{"acme", "renewal"},
		Messages:        messages,
	}
}

func TestFormatText(t *testing.T) {
	got := FormatText(record())

	assert.True(t, strings.HasPrefix(got, strings.Repeat("=", 60)+"\nMEETING PREP: Acme Renewal Call\n"))
	assert.Contains(t, got, "Time: Mon 2 Mar 2026 15:00 UTC (1h0m0s)")
	assert.Contains(t, got, "Priority: HIGH")
	assert.Contains(t, got, "CLIENT MEETING - External attendees detected")
	assert.Contains(t, got, "Attendees (2):\n  • me@mycorp.com (you)\n  • Jane Doe <jane@acme-client.com>\n")
	assert.Contains(t, got, "Location: Zoom")
	assert.Contains(t, got, "Description:\n"+strings.Repeat("x", 200)+"...\n")
	assert.Contains(t, got, "Keywords: acme, renewal")
	assert.Contains(t, got, "RELEVANT EMAILS (6):")
	assert.Contains(t, got, "1. From: jane@acme-client.com\n   Subject: Acme renewal terms\n   Date: Sun 1 Mar 2026 15:00 UTC\n   Relevance: 0.90\n")
	assert.Contains(t, got, "5. From:")
	assert.NotContains(t, got, "6. From:")
	assert.Contains(t, got, "... and 1 more")
	assert.NotContains(t, got, "BRIEF:")

	preview := "   Preview: " + strings.TrimSpace(strings.Repeat("word ", 20)) + " ..."
	assert.Contains(t, got, preview)
}

func TestFormatTextMinimal(t *testing.T) {
	rec := &models.MeetingPrepRecord{
		Event:    &models.Event{Title: "Planning", StartTime: start, EndTime: start.Add(30 * time.Minute)},
		Priority: models.PriorityLow,
	}
	got := FormatText(rec.WithSummary("MEETING CONTEXT\nQuarterly planning."))

	assert.NotContains(t, got, "CLIENT MEETING")
	assert.NotContains(t, got, "Location:")
	assert.Contains(t, got, "No relevant emails found.")
	assert.Contains(t, got, "BRIEF:\n"+strings.Repeat("-", 60)+"\nMEETING CONTEXT\nQuarterly planning.\n")
}

func testRun() *prep.Run {
	return &prep.Run{
		ID:      "run-1",
		Range:   models.TimeRange{Start: start.Add(-4 * time.Hour), End: start.Add(20 * time.Hour)},
		Records: []*models.MeetingPrepRecord{record()},
		Skipped: 2,
		Failed:  []prep.Failure{{Event: &models.Event{ID: "bad", Title: "Broken"}, Err: errors.New("invalid event")}},
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, testRun()))

	out := buf.String()
	assert.Contains(t, out, "MEETING PREP: Acme Renewal Call")
	assert.Contains(t, out, "FAILED: Broken: invalid event")
	assert.True(t, strings.HasSuffix(out, "Done - prepared 1 meeting(s), skipped 2, failed 1\n"))

	buf.Reset()
	require.NoError(t, WriteText(&buf, &prep.Run{}))
	assert.Contains(t, buf.String(), "No meetings requiring preparation")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, testRun(), start))

	var got struct {
		RunID   string `json:"run_id"`
		Skipped int    `json:"skipped"`
		Records []struct {
			Event struct {
				Title     string `json:"title"`
				Attendees []struct {
					Email string `json:"email"`
					Self  bool   `json:"self"`
				} `json:"attendees"`
			} `json:"event"`
			IsClientMeeting bool     `json:"is_client_meeting"`
			Priority        string   `json:"priority"`
			Keywords        []string `json:"keywords"`
			Messages        []struct {
				ID        string             `json:"id"`
				Score     float64            `json:"score"`
				Breakdown map[string]float64 `json:"breakdown"`
			} `json:"messages"`
		} `json:"records"`
		Failed []struct {
			EventID string `json:"event_id"`
			Error   string `json:"error"`
		} `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))

	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 2, got.Skipped)
	require.Len(t, got.Records, 1)
	r := got.Records[0]
	assert.Equal(t, "Acme Renewal Call", r.Event.Title)
	assert.True(t, r.Event.Attendees[0].Self)
	assert.True(t, r.IsClientMeeting)
	assert.Equal(t, "HIGH", r.Priority)
	assert.Equal(t, []string{"acme", "renewal"}, r.Keywords)
	require.Len(t, r.Messages, 6, "JSON carries every ranked message")
	assert.Equal(t, "a", r.Messages[0].ID)
	assert.InDelta(t, 0.9, r.Messages[0].Score, 1e-9)
	assert.Equal(t, 1.0, r.Messages[0].Breakdown["attendee_match"])
	require.Len(t, got.Failed, 1)
	assert.Equal(t, "bad", got.Failed[0].EventID)
	assert.Equal(t, "invalid event", got.Failed[0].Error)
}

// smtpBackend records delivered messages in memory.
type smtpBackend struct {
	mu       sync.Mutex
	user     string
	from     string
	to       []string
	messages [][]byte
}

func (b *smtpBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &smtpSession{backend: b}, nil
}

type smtpSession struct {
	backend *smtpBackend
}

func (s *smtpSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *smtpSession) Auth(string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if password != "secret" {
			return errors.New("bad credentials")
		}
		s.backend.mu.Lock()
		s.backend.user = username
		s.backend.mu.Unlock()
		return nil
	}), nil
}

func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.from = from
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.to = append(s.backend.to, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.messages = append(s.backend.messages, data)
	return nil
}

func (s *smtpSession) Reset() {}

func (s *smtpSession) Logout() error { return nil }

func newSMTPServer(t *testing.T) (*smtpBackend, string) {
	t.Helper()

	be := &smtpBackend{}
	s := smtp.NewServer(be)
	s.Domain = "localhost"
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = s.Serve(listener)
	}()
	t.Cleanup(func() { _ = s.Close() })

	return be, listener.Addr().String()
}

func TestMailerDeliver(t *testing.T) {
	be, addr := newSMTPServer(t)

	m := NewMailer(MailerConfig{
		Addr:     addr,
		Username: "prep-bot",
		Password: "secret",
		From:     "prep@mycorp.com",
		To:       "me@mycorp.com",
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, m.Deliver(record()))

	be.mu.Lock()
	defer be.mu.Unlock()
	assert.Equal(t, "prep-bot", be.user)
	assert.Equal(t, "prep@mycorp.com", be.from)
	assert.Equal(t, []string{"me@mycorp.com"}, be.to)
	require.Len(t, be.messages, 1)
	msg := string(be.messages[0])
	assert.Contains(t, msg, "Subject: [HIGH] Meeting prep: Acme Renewal Call")
	assert.Contains(t, msg, "MEETING PREP: Acme Renewal Call")
}

func TestMailerDeliverRejected(t *testing.T) {
	_, addr := newSMTPServer(t)

	m := NewMailer(MailerConfig{Addr: addr, Username: "prep-bot", Password: "wrong", From: "prep@mycorp.com", To: "me@mycorp.com"},
		slog.New(slog.DiscardHandler))
	assert.ErrorContains(t, m.Deliver(record()), "failed to send prep brief")
}
