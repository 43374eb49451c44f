package model

import "time"

// Status is the appointment lifecycle state. Transitions are restricted to the
// table below; anything else is rejected at the state-machine boundary.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active statuses block the mentor's calendar.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Parties recorded in cancelled_by.
const (
	ActorMentor = "mentor"
	ActorMentee = "mentee"
	ActorSystem = "system"
)

type Appointment struct {
	ID                  string
	MentorID            string
	MenteeID            string
	ScheduledAt         time.Time
	DurationMinutes     int
	Status              Status
	ExternalEventID     string
	ExternalMeetingLink string
	Notes               string
	CancellationReason  string
	CancelledBy         string
	CancelledAt         *time.Time
	CreatedAt           time.Time
}

func (a Appointment) EndTime() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// AvailabilityWindow is a mentor's recurring weekly bookable range, expressed
// in minutes from local midnight in the service timezone.
type AvailabilityWindow struct {
	ID          string
	MentorID    string
	Weekday     int // 0=Sunday .. 6=Saturday
	StartMinute int
	EndMinute   int
}
