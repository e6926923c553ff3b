package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"meetprep/internal/models"
)

const (
	// Endpoint is the iCloud CalDAV server.
	Endpoint = "https://caldav.icloud.com/"

	prodID = "-//meetprep//EN"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "meetprep/1.0")
	return t.Transport.RoundTrip(req)
}

// CalDAVClient reads events from, and publishes prep notes to, one CalDAV calendar.
type CalDAVClient struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	calendarPath string
	username     string
}

// NewClient creates a CalDAVClient for the named iCloud calendar.
func NewClient(ctx context.Context, logger *slog.Logger, username, password, calendarName string) (*CalDAVClient, error) {
	return NewClientWithEndpoint(ctx, logger, Endpoint, username, password, calendarName)
}

// NewClientWithEndpoint creates a CalDAVClient against any CalDAV server.
func NewClientWithEndpoint(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string) (*CalDAVClient, error) {
	transport := &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	c := &CalDAVClient{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
		username:     strings.ToLower(username),
	}

	logger.Info("Finding CalDAV calendar", "calendarName", calendarName)
	calendarPath, err := c.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Found CalDAV calendar", "path", calendarPath)

	return c, nil
}

// ListUpcomingEvents returns the events of the calendar that overlap the range.
func (c *CalDAVClient) ListUpcomingEvents(ctx context.Context, r models.TimeRange) ([]*models.Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompEvent, Start: r.Start, End: r.End}},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar %s: %w", c.calendarPath, err)
	}

	var events []*models.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		events = append(events, toInternalEvents(obj.Data, obj.Path, c.username)...)
	}
	c.logger.Info("Fetched events from CalDAV", "count", len(events), "path", c.calendarPath)
	return events, nil
}

// PublishPrep stores a prep note for the record's meeting as an event on the calendar.
// Publishing the same meeting again overwrites the previous note.
func (c *CalDAVClient) PublishPrep(ctx context.Context, record *models.MeetingPrepRecord, brief string) error {
	cal := PrepNote(record, brief, time.Now().UTC())
	uid, _ := cal.Children[0].Props.Text(ical.PropUID)
	eventPath := path.Join(c.calendarPath, uid+".ics")

	writer, err := c.webdavClient.Create(ctx, eventPath)
	if err != nil {
		return fmt.Errorf("failed to create prep note on CalDAV server: %w", err)
	}
	if err := ical.NewEncoder(writer).Encode(cal); err != nil {
		writer.Close()
		return fmt.Errorf("failed to encode prep note to iCal format: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to upload prep note: %w", err)
	}

	c.logger.Info("Published prep note", "eventTitle", record.Event.Title, "uid", uid)
	return nil
}

// PrepNote builds a calendar holding one VEVENT that mirrors the meeting and carries the brief.
func PrepNote(record *models.MeetingPrepRecord, brief string, stamp time.Time) *ical.Calendar {
	event := record.Event
	uid := GenerateUID()
	if event.UID != "" {
		uid = "prep-" + event.UID
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, fmt.Sprintf("Prep [%s]: %s", record.Priority, event.Title))
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	ve.Props.SetDateTime(ical.PropDateTimeStart, event.StartTime.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, event.EndTime.UTC())
	ve.Props.SetText(ical.PropDescription, brief)
	if event.Location != "" {
		ve.Props.SetText(ical.PropLocation, event.Location)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Children = append(cal.Children, ve)
	return cal
}

// toInternalEvents converts the VEVENTs of a calendar object to the internal Event model.
// username identifies the user's own attendee and organizer entries.
func toInternalEvents(cal *ical.Calendar, objectPath, username string) []*models.Event {
	var events []*models.Event
	for _, ve := range cal.Events() {
		uid, _ := ve.Props.Text(ical.PropUID)
		event := &models.Event{
			ID:     objectPath,
			UID:    uid,
			Source: "icloud",
		}
		if uid != "" {
			event.ID = uid
		}
		event.Title, _ = ve.Props.Text(ical.PropSummary)
		event.Description, _ = ve.Props.Text(ical.PropDescription)
		event.Location, _ = ve.Props.Text(ical.PropLocation)
		if status, _ := ve.Props.Text(ical.PropStatus); strings.EqualFold(status, "CANCELLED") {
			event.Status = models.StatusCancelled
		}

		if prop := ve.Props.Get(ical.PropDateTimeStart); prop != nil {
			event.AllDay = prop.ValueType() == ical.ValueDate
		}
		// Unparseable times stay zero and are rejected by Event.Validate.
		event.StartTime, _ = ve.DateTimeStart(time.UTC)
		event.EndTime, _ = ve.DateTimeEnd(time.UTC)

		if prop := ve.Props.Get(ical.PropOrganizer); prop != nil {
			if addr, _, ok := models.ParseAddress(prop.Value); ok {
				event.Organizer = addr
				event.OrganizerSelf = username != "" && addr == username
			}
		}

		for _, prop := range ve.Props.Values(ical.PropAttendee) {
			if strings.EqualFold(prop.Params.Get(ical.ParamCalendarUserType), "RESOURCE") ||
				strings.EqualFold(prop.Params.Get(ical.ParamCalendarUserType), "ROOM") {
				continue
			}
			attendee := models.NewAttendee(prop.Value, prop.Params.Get(ical.ParamCommonName))
			attendee.Self = username != "" && attendee.Email == username
			attendee.Organizer = attendee.Email != "" && attendee.Email == event.Organizer
			attendee.ResponseStatus = responseStatus(prop.Params.Get(ical.ParamParticipationStatus))
			event.Attendees = append(event.Attendees, attendee)
		}

		events = append(events, event)
	}
	return events
}

func responseStatus(partstat string) string {
	switch strings.ToUpper(partstat) {
	case "ACCEPTED":
		return models.ResponseAccepted
	case "DECLINED":
		return models.ResponseDeclined
	case "TENTATIVE":
		return models.ResponseTentative
	default:
		return models.ResponseNeedsAction
	}
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
