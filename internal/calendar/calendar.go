// Package calendar provides the Google Calendar collaborator: event listing,
// event creation, and free-slot discovery for appointment flows.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/taliahq/talia/internal/models"
)

// DefaultSlotDuration is how long each offered appointment slot lasts.
const DefaultSlotDuration = 30 * time.Minute

// Opts holds configuration options for the calendar client.
type Opts struct {
	CredentialsFile string
	CalendarID      string
}

// Option defines a configuration option for the calendar client.
type Option func(*Opts)

// WithCredentialsFile sets the service-account credentials file path.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) { o.CredentialsFile = path }
}

// WithCalendarID sets the calendar events are read from and written to.
func WithCalendarID(id string) Option {
	return func(o *Opts) { o.CalendarID = id }
}

// Client wraps the Google Calendar service for appointment scheduling.
type Client struct {
	svc        *gcal.Service
	calendarID string
}

// NewClient creates a calendar client authenticated with a service account,
// falling back to the GOOGLE_SERVICE_ACCOUNT_FILE and CALENDAR_ID environment
// variables when options are not provided.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CredentialsFile == "" {
		cfg.CredentialsFile = os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE")
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = os.Getenv("CALENDAR_ID")
	}
	slog.Debug("Calendar client config loaded", "credentials_set", cfg.CredentialsFile != "", "calendarID_set", cfg.CalendarID != "")

	if cfg.CredentialsFile == "" {
		return nil, fmt.Errorf("service account credentials file must be provided")
	}
	if cfg.CalendarID == "" {
		return nil, fmt.Errorf("calendar id must be provided")
	}

	svc, err := gcal.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(gcal.CalendarScope))
	if err != nil {
		slog.Error("Failed to create calendar service", "error", err)
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &Client{svc: svc, calendarID: cfg.CalendarID}, nil
}

// ListEvents returns the events in the given time range, ordered by start.
func (c *Client) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	res, err := c.svc.Events.List(c.calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		slog.Error("Calendar ListEvents failed", "error", err, "calendarID", c.calendarID)
		return nil, fmt.Errorf("%w: %v", models.ErrExternalFetch, err)
	}

	events := make([]models.Event, 0, len(res.Items))
	for _, item := range res.Items {
		ev := models.Event{ID: item.Id, Title: item.Summary}
		if item.Start != nil {
			ev.Start = item.Start.DateTime
			if ev.Start == "" {
				ev.Start = item.Start.Date
			}
		}
		if item.End != nil {
			ev.End = item.End.DateTime
			if ev.End == "" {
				ev.End = item.End.Date
			}
		}
		events = append(events, ev)
	}
	slog.Debug("Calendar ListEvents succeeded", "count", len(events))
	return events, nil
}

// CreateEvent writes one event with the given attendees.
func (c *Client) CreateEvent(ctx context.Context, title string, start, end time.Time, attendees []string) (*models.Event, error) {
	event := &gcal.Event{
		Summary: title,
		Start:   &gcal.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:     &gcal.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}
	for _, email := range attendees {
		event.Attendees = append(event.Attendees, &gcal.EventAttendee{Email: email})
	}

	created, err := c.svc.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		slog.Error("Calendar CreateEvent failed", "error", err, "title", title)
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	slog.Info("Calendar CreateEvent succeeded", "eventID", created.Id, "title", title)
	return &models.Event{
		ID:        created.Id,
		Title:     created.Summary,
		Start:     start.Format(time.RFC3339),
		End:       end.Format(time.RFC3339),
		Attendees: attendees,
	}, nil
}

// AvailableSlots returns the free slots of the given duration between start
// and end, derived from the calendar's busy periods.
func (c *Client) AvailableSlots(ctx context.Context, start, end time.Time, duration time.Duration) ([]models.Event, error) {
	if duration <= 0 {
		duration = DefaultSlotDuration
	}

	res, err := c.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: start.Format(time.RFC3339),
		TimeMax: end.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: c.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		slog.Error("Calendar freebusy query failed", "error", err, "calendarID", c.calendarID)
		return nil, fmt.Errorf("%w: %v", models.ErrExternalFetch, err)
	}

	var busy []window
	if cal, ok := res.Calendars[c.calendarID]; ok {
		for _, period := range cal.Busy {
			b, err := time.Parse(time.RFC3339, period.Start)
			if err != nil {
				continue
			}
			e, err := time.Parse(time.RFC3339, period.End)
			if err != nil {
				continue
			}
			busy = append(busy, window{start: b, end: e})
		}
	}

	slots := freeSlots(start, end, duration, busy)
	events := make([]models.Event, 0, len(slots))
	for _, s := range slots {
		events = append(events, models.Event{
			Start: s.start.Format(time.RFC3339),
			End:   s.end.Format(time.RFC3339),
		})
	}
	slog.Debug("Calendar AvailableSlots computed", "count", len(events))
	return events, nil
}

// window is a half-open time interval.
type window struct {
	start, end time.Time
}

// overlaps reports whether two windows share any time.
func (w window) overlaps(other window) bool {
	return w.start.Before(other.end) && other.start.Before(w.end)
}

// freeSlots walks the range in duration-sized increments and keeps the slots
// that collide with no busy window.
func freeSlots(start, end time.Time, duration time.Duration, busy []window) []window {
	var free []window
	for cur := start; !cur.Add(duration).After(end); cur = cur.Add(duration) {
		slot := window{start: cur, end: cur.Add(duration)}
		blocked := false
		for _, b := range busy {
			if slot.overlaps(b) {
				blocked = true
				break
			}
		}
		if !blocked {
			free = append(free, slot)
		}
	}
	return free
}
