package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"meetprep/internal/models"
)

// discoverAll is the calendar ID that expands to every calendar of the account.
const discoverAll = "*"

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service     *calendar.Service
	logger      *slog.Logger
	calendarIDs []string
}

// NewCalendarClient creates a Google Calendar event source reading the given calendars.
// Extra options are passed to the API client, which tests use to point it at a fake server.
func NewCalendarClient(ctx context.Context, logger *slog.Logger, httpClient *http.Client, calendarIDs []string, opts ...option.ClientOption) (*CalendarClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, logger: logger, calendarIDs: calendarIDs}, nil
}

// ListUpcomingEvents fetches the events starting inside the range from every configured calendar.
func (c *CalendarClient) ListUpcomingEvents(ctx context.Context, r models.TimeRange) ([]*models.Event, error) {
	calendarIDs, err := c.resolveCalendarIDs(ctx)
	if err != nil {
		return nil, err
	}

	var all []*models.Event
	for _, calendarID := range calendarIDs {
		c.logger.Debug("Fetching upcoming events", "calendarID", calendarID, "from", r.Start, "to", r.End)

		var items []*calendar.Event
		err := c.service.Events.List(calendarID).
			ShowDeleted(false).
			SingleEvents(true).
			TimeMin(r.Start.Format(time.RFC3339)).
			TimeMax(r.End.Format(time.RFC3339)).
			OrderBy("startTime").
			Pages(ctx, func(page *calendar.Events) error {
				items = append(items, page.Items...)
				return nil
			})
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve events for calendar %s: %w", calendarID, err)
		}

		c.logger.Info("Fetched events from Google Calendar", "count", len(items), "calendarID", calendarID)
		all = append(all, toInternalEvents(items, calendarID)...)
	}
	return all, nil
}

func (c *CalendarClient) resolveCalendarIDs(ctx context.Context) ([]string, error) {
	for _, id := range c.calendarIDs {
		if id == discoverAll {
			return c.DiscoverCalendars(ctx)
		}
	}
	return c.calendarIDs, nil
}

// DiscoverCalendars finds all calendars associated with the authenticated account.
func (c *CalendarClient) DiscoverCalendars(ctx context.Context) ([]string, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	var calendarIDs []string
	for _, item := range list.Items {
		calendarIDs = append(calendarIDs, item.Id)
	}
	return calendarIDs, nil
}

// toInternalEvents converts Google Calendar events to the internal Event model.
func toInternalEvents(googleEvents []*calendar.Event, calendarID string) []*models.Event {
	var internalEvents []*models.Event
	for _, item := range googleEvents {
		if item == nil || item.Start == nil || item.End == nil {
			continue
		}

		event := &models.Event{
			ID:          item.Id,
			Title:       item.Summary,
			Description: item.Description,
			Location:    item.Location,
			Status:      item.Status,
			UID:         item.ICalUID,
			Source:      "google-" + calendarID,
		}

		if item.Start.DateTime == "" {
			// All-day events only carry a date.
			event.AllDay = true
			event.StartTime, _ = time.Parse(time.DateOnly, item.Start.Date)
			event.EndTime, _ = time.Parse(time.DateOnly, item.End.Date)
		} else {
			// Unparseable timestamps stay zero and are rejected by Event.Validate.
			event.StartTime, _ = time.Parse(time.RFC3339, item.Start.DateTime)
			event.EndTime, _ = time.Parse(time.RFC3339, item.End.DateTime)
		}

		if item.Organizer != nil {
			event.Organizer = item.Organizer.Email
			event.OrganizerSelf = item.Organizer.Self
		}

		for _, a := range item.Attendees {
			if a == nil || a.Resource {
				continue
			}
			attendee := models.NewAttendee(a.Email, a.DisplayName)
			attendee.Self = a.Self
			attendee.Organizer = a.Organizer
			attendee.ResponseStatus = a.ResponseStatus
			event.Attendees = append(event.Attendees, attendee)
		}

		internalEvents = append(internalEvents, event)
	}
	return internalEvents
}
