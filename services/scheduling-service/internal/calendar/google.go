package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleAdapter writes appointment events to a Google calendar and requests a
// Meet conference per event so the booking carries a meeting link.
type GoogleAdapter struct {
	service    *gcal.Service
	calendarID string
}

type GoogleConfig struct {
	CalendarID   string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

func NewGoogleAdapter(ctx context.Context, cfg GoogleConfig) (*GoogleAdapter, error) {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gcal.CalendarEventsScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}
	source := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	service, err := gcal.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &GoogleAdapter{service: service, calendarID: cfg.CalendarID}, nil
}

func (a *GoogleAdapter) CreateEvent(ctx context.Context, evt Event) (*Created, error) {
	attendees := make([]*gcal.EventAttendee, 0, len(evt.Attendees))
	for _, email := range evt.Attendees {
		attendees = append(attendees, &gcal.EventAttendee{Email: email})
	}

	event := &gcal.Event{
		Summary:     evt.Summary,
		Description: evt.Description,
		Start:       &gcal.EventDateTime{DateTime: evt.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: evt.End.Format(time.RFC3339)},
		Attendees:   attendees,
		ConferenceData: &gcal.ConferenceData{
			CreateRequest: &gcal.CreateConferenceRequest{
				RequestId: uuid.NewString(),
				ConferenceSolutionKey: &gcal.ConferenceSolutionKey{
					Type: "hangoutsMeet",
				},
			},
		},
	}

	created, err := a.service.Events.Insert(a.calendarID, event).
		ConferenceDataVersion(1).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return &Created{EventID: created.Id, MeetingLink: created.HangoutLink}, nil
}

// DeleteEvent removes the provider event. Already-deleted events count as
// success so cancel retries stay idempotent.
func (a *GoogleAdapter) DeleteEvent(ctx context.Context, eventID string) error {
	err := a.service.Events.Delete(a.calendarID, eventID).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return nil
		}
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}
