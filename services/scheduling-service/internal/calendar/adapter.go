package calendar

import (
	"context"
	"time"
)

// Event describes the calendar entry for one appointment.
type Event struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees"`
}

// Created carries the provider identifiers backfilled onto the appointment.
type Created struct {
	EventID     string
	MeetingLink string
}

// Adapter abstracts the external calendar provider. Calendar writes are
// best-effort: callers tolerate errors and retry through the sync job queue.
type Adapter interface {
	CreateEvent(ctx context.Context, evt Event) (*Created, error)
	DeleteEvent(ctx context.Context, eventID string) error
}
