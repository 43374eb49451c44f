package handlers

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mentorgrid/mentorgrid/libs/auth"
	"github.com/mentorgrid/mentorgrid/libs/httpx"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/calendar"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/model"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/outbox"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/profile"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/token"
)

const (
	defaultDurationMinutes = 60
	maxDurationMinutes     = 8 * 60
	minDurationMinutes     = 15
	slotStep               = time.Hour
	calendarTimeout        = 5 * time.Second
	calendarMaxAttempts    = 5
)

// The handler depends on narrow store interfaces; the pgx-backed
// implementations live in internal/storage.
type txStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type appointmentStore interface {
	Create(ctx context.Context, tx pgx.Tx, a *model.Appointment) (model.Appointment, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error)
	HasActiveOverlap(ctx context.Context, tx pgx.Tx, mentorID string, start, end time.Time) (bool, error)
	ListActiveIntervals(ctx context.Context, mentorID string, start, end time.Time) ([]model.Appointment, error)
	Confirm(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error)
	Cancel(ctx context.Context, tx pgx.Tx, id, cancelledBy, reason string) (model.Appointment, error)
	ListFuturePendingForMember(ctx context.Context, tx pgx.Tx, memberID string, now time.Time) ([]model.Appointment, error)
	ListByMentor(ctx context.Context, mentorID string, limit int) ([]model.Appointment, error)
}

type availabilityStore interface {
	ListWindows(ctx context.Context, mentorID string) ([]model.AvailabilityWindow, error)
	ReplaceWeekday(ctx context.Context, mentorID string, weekday int, windows []model.AvailabilityWindow) error
}

type tokenStore interface {
	Consume(ctx context.Context, tx pgx.Tx, jti, appointmentID, action string) (bool, error)
}

type outboxStore interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type syncJobStore interface {
	Insert(ctx context.Context, tx pgx.Tx, appointmentID, kind string, payload []byte, externalID string, maxAttempts int) error
}

type Handler struct {
	pool           txStarter
	appointments   appointmentStore
	windows        availabilityStore
	tokens         tokenStore
	outbox         outboxStore
	syncJobs       syncJobStore
	profiles       profile.Provider
	calendar       calendar.Adapter
	issuer         *token.Issuer
	accessSecret   string
	internalSecret string
	location       *time.Location
	logger         *slog.Logger
}

type Config struct {
	Pool           txStarter
	Appointments   appointmentStore
	Windows        availabilityStore
	Tokens         tokenStore
	Outbox         outboxStore
	SyncJobs       syncJobStore
	Profiles       profile.Provider
	Calendar       calendar.Adapter
	Issuer         *token.Issuer
	AccessSecret   string
	InternalSecret string
	Location       *time.Location
	Logger         *slog.Logger
}

func New(cfg Config) *Handler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		pool:           cfg.Pool,
		appointments:   cfg.Appointments,
		windows:        cfg.Windows,
		tokens:         cfg.Tokens,
		outbox:         cfg.Outbox,
		syncJobs:       cfg.SyncJobs,
		profiles:       cfg.Profiles,
		calendar:       cfg.Calendar,
		issuer:         cfg.Issuer,
		accessSecret:   cfg.AccessSecret,
		internalSecret: cfg.InternalSecret,
		location:       loc,
		logger:         cfg.Logger,
	}
}

// authenticate resolves the member id from the Bearer access token, or writes
// a 401 and returns false.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(raw) == "" {
		httpx.Error(w, http.StatusUnauthorized, "missing access token")
		return "", false
	}
	claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(raw), h.accessSecret)
	if err != nil || claims.Sub == "" {
		httpx.Error(w, http.StatusUnauthorized, "invalid access token")
		return "", false
	}
	return claims.Sub, true
}

// authorizeInternal guards service-to-service routes with the shared internal
// secret. An unconfigured secret rejects everything rather than failing open.
func (h *Handler) authorizeInternal(w http.ResponseWriter, r *http.Request) bool {
	provided := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
	if h.internalSecret == "" || provided == "" ||
		subtle.ConstantTimeCompare([]byte(provided), []byte(h.internalSecret)) != 1 {
		httpx.Error(w, http.StatusUnauthorized, "invalid internal token")
		return false
	}
	return true
}

type appointmentView struct {
	ID                 string `json:"id"`
	MentorID           string `json:"mentorId"`
	MentorName         string `json:"mentorName,omitempty"`
	MenteeID           string `json:"menteeId"`
	MenteeName         string `json:"menteeName,omitempty"`
	ScheduledAt        string `json:"scheduledAt"`
	EndTime            string `json:"endTime"`
	DurationMinutes    int    `json:"durationMinutes"`
	Status             string `json:"status"`
	EventID            string `json:"eventId,omitempty"`
	MeetingLink        string `json:"meetingLink,omitempty"`
	Notes              string `json:"notes,omitempty"`
	CancellationReason string `json:"cancellationReason,omitempty"`
	CancelledBy        string `json:"cancelledBy,omitempty"`
	CancelledAt        string `json:"cancelledAt,omitempty"`
	CreatedAt          string `json:"createdAt"`
}

func viewOf(a model.Appointment) appointmentView {
	v := appointmentView{
		ID:                 a.ID,
		MentorID:           a.MentorID,
		MenteeID:           a.MenteeID,
		ScheduledAt:        a.ScheduledAt.UTC().Format(time.RFC3339),
		EndTime:            a.EndTime().UTC().Format(time.RFC3339),
		DurationMinutes:    a.DurationMinutes,
		Status:             string(a.Status),
		EventID:            a.ExternalEventID,
		MeetingLink:        a.ExternalMeetingLink,
		Notes:              a.Notes,
		CancellationReason: a.CancellationReason,
		CancelledBy:        a.CancelledBy,
		CreatedAt:          a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		v.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	return v
}
