package icloud

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetprep/internal/models"
)

const renewalICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Apple Inc.//iCloud//EN
BEGIN:VEVENT
UID:renewal-1@icloud.com
DTSTAMP:20260301T090000Z
DTSTART:20260302T150000Z
DTEND:20260302T160000Z
SUMMARY:Acme Renewal Call
DESCRIPTION:Pricing for next year
LOCATION:Zoom
ORGANIZER;CN=Me:mailto:me@mycorp.com
ATTENDEE;CN=Me;PARTSTAT=ACCEPTED:mailto:me@mycorp.com
ATTENDEE;CN=Jane Doe;PARTSTAT=TENTATIVE:mailto:Jane@Acme-Client.com
ATTENDEE;CUTYPE=ROOM;CN=Board room:mailto:room@mycorp.com
END:VEVENT
BEGIN:VEVENT
UID:offsite@icloud.com
DTSTAMP:20260301T090000Z
DTSTART;VALUE=DATE:20260303
DTEND;VALUE=DATE:20260304
SUMMARY:Offsite
STATUS:CANCELLED
END:VEVENT
END:VCALENDAR
`

func decode(t *testing.T, s string) *ical.Calendar {
	t.Helper()
	cal, err := ical.NewDecoder(strings.NewReader(strings.ReplaceAll(s, "\n", "\r\n"))).Decode()
	require.NoError(t, err)
	return cal
}

func TestToInternalEvents(t *testing.T) {
	events := toInternalEvents(decode(t, renewalICS), "/123/calendars/work/renewal.ics", "me@mycorp.com")
	require.Len(t, events, 2)

	e := events[0]
	assert.Equal(t, "renewal-1@icloud.com", e.ID)
	assert.Equal(t, "renewal-1@icloud.com", e.UID)
	assert.Equal(t, "icloud", e.Source)
	assert.Equal(t, "Acme Renewal Call", e.Title)
	assert.Equal(t, "Pricing for next year", e.Description)
	assert.Equal(t, "Zoom", e.Location)
	assert.Equal(t, time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), e.StartTime.UTC())
	assert.Equal(t, time.Hour, e.Duration())
	assert.False(t, e.AllDay)
	assert.Equal(t, "me@mycorp.com", e.Organizer)
	assert.True(t, e.OrganizerSelf)

	require.Len(t, e.Attendees, 2, "rooms are dropped")
	assert.True(t, e.Attendees[0].Self)
	assert.True(t, e.Attendees[0].Organizer)
	assert.Equal(t, models.ResponseAccepted, e.Attendees[0].ResponseStatus)
	assert.Equal(t, "jane@acme-client.com", e.Attendees[1].Email)
	assert.Equal(t, "acme-client.com", e.Attendees[1].Domain)
	assert.Equal(t, "Jane Doe", e.Attendees[1].Name)
	assert.Equal(t, models.ResponseTentative, e.Attendees[1].ResponseStatus)
	assert.False(t, e.Attendees[1].Self)

	offsite := events[1]
	assert.True(t, offsite.AllDay)
	assert.Equal(t, models.StatusCancelled, offsite.Status)
	assert.Empty(t, offsite.Attendees)
}

func TestResponseStatus(t *testing.T) {
	assert.Equal(t, models.ResponseDeclined, responseStatus("declined"))
	assert.Equal(t, models.ResponseNeedsAction, responseStatus(""))
}

func TestPrepNote(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	record := &models.MeetingPrepRecord{
		Event: &models.Event{
			UID:       "renewal-1@icloud.com",
			Title:     "Acme Renewal Call",
			Location:  "Zoom",
			StartTime: start,
			EndTime:   start.Add(time.Hour),
		},
		Priority: models.PriorityHigh,
	}

	var buf bytes.Buffer
	require.NoError(t, ical.NewEncoder(&buf).Encode(PrepNote(record, "Talk about pricing", start.Add(-time.Hour))))

	cal := decode(t, strings.ReplaceAll(buf.String(), "\r\n", "\n"))
	events := cal.Events()
	require.Len(t, events, 1)

	uid, err := events[0].Props.Text(ical.PropUID)
	require.NoError(t, err)
	assert.Equal(t, "prep-renewal-1@icloud.com", uid)

	summary, _ := events[0].Props.Text(ical.PropSummary)
	assert.Equal(t, "Prep [HIGH]: Acme Renewal Call", summary)
	description, _ := events[0].Props.Text(ical.PropDescription)
	assert.Equal(t, "Talk about pricing", description)

	got, err := events[0].DateTimeStart(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, start, got.UTC())
}

func TestPrepNoteWithoutUID(t *testing.T) {
	record := &models.MeetingPrepRecord{Event: &models.Event{Title: "Ad hoc"}}
	a, _ := PrepNote(record, "", time.Now()).Children[0].Props.Text(ical.PropUID)
	b, _ := PrepNote(record, "", time.Now()).Children[0].Props.Text(ical.PropUID)
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
