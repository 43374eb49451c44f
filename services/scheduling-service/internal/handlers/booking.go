package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mentorgrid/mentorgrid/libs/httpx"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/calendar"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/calsync"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/model"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/outbox"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/profile"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/storage"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/token"
)

type createAppointmentRequest struct {
	MentorID        string `json:"mentor_id"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Message         string `json:"message"`
}

// Create books a pending appointment for the authenticated mentee.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	menteeID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}

	req.MentorID = strings.TrimSpace(req.MentorID)
	if req.MentorID == "" {
		httpx.Error(w, http.StatusBadRequest, "mentor_id is required")
		return
	}
	if req.MentorID == menteeID {
		httpx.Error(w, http.StatusBadRequest, "cannot book an appointment with yourself")
		return
	}

	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid scheduled_at")
		return
	}
	if !scheduledAt.After(time.Now()) {
		httpx.Error(w, http.StatusBadRequest, "scheduled_at must be in the future")
		return
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = defaultDurationMinutes
	}
	if duration < minDurationMinutes || duration > maxDurationMinutes {
		httpx.Error(w, http.StatusBadRequest, "invalid duration_minutes")
		return
	}

	ctx := r.Context()
	mentor, err := h.profiles.GetProfile(ctx, req.MentorID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "mentor not found")
			return
		}
		h.logger.Error("mentor profile lookup failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "profile lookup failed")
		return
	}
	if !mentor.Verified {
		httpx.Error(w, http.StatusBadRequest, "mentor is not verified")
		return
	}

	mentee, err := h.profiles.GetProfile(ctx, menteeID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "mentee profile not found")
			return
		}
		h.logger.Error("mentee profile lookup failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "profile lookup failed")
		return
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	end := scheduledAt.Add(time.Duration(duration) * time.Minute)
	busy, err := h.appointments.HasActiveOverlap(ctx, tx, req.MentorID, scheduledAt, end)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "availability check failed")
		return
	}
	if busy {
		httpx.Error(w, http.StatusConflict, "time slot already booked")
		return
	}

	// Calendar writes are best effort: a provider outage must not block the
	// booking, so failures fall through to the retry queue.
	eventSpec := calendar.Event{
		Summary:     fmt.Sprintf("Mentorship session: %s / %s", mentor.DisplayName, mentee.DisplayName),
		Description: req.Message,
		Start:       scheduledAt,
		End:         end,
		Attendees:   []string{mentor.Email, mentee.Email},
	}
	var created *calendar.Created
	if h.calendar != nil {
		calCtx, cancel := context.WithTimeout(ctx, calendarTimeout)
		created, err = h.calendar.CreateEvent(calCtx, eventSpec)
		cancel()
		if err != nil {
			h.logger.Warn("calendar event creation failed, queueing retry", "err", err)
			created = nil
		}
	}

	appt := &model.Appointment{
		MentorID:        req.MentorID,
		MenteeID:        menteeID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: duration,
		Status:          model.StatusPending,
		Notes:           strings.TrimSpace(req.Message),
	}
	if created != nil {
		appt.ExternalEventID = created.EventID
		appt.ExternalMeetingLink = created.MeetingLink
	}

	saved, err := h.appointments.Create(ctx, tx, appt)
	if err != nil {
		if storage.IsConflict(err) {
			httpx.Error(w, http.StatusConflict, "time slot already booked")
			return
		}
		h.logger.Error("appointment insert failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "failed to create appointment")
		return
	}

	if created == nil && h.calendar != nil {
		payload, err := json.Marshal(eventSpec)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "failed to build sync job")
			return
		}
		if err := h.syncJobs.Insert(ctx, tx, saved.ID, calsync.KindCreate, payload, "", calendarMaxAttempts); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "failed to enqueue sync job")
			return
		}
	}

	confirmToken, _, err := h.issuer.Issue(saved.ID, token.ActionConfirm, model.ActorMentor)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}
	mentorCancel, _, err := h.issuer.Issue(saved.ID, token.ActionCancel, model.ActorMentor)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}
	menteeCancel, _, err := h.issuer.Issue(saved.ID, token.ActionCancel, model.ActorMentee)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"appointmentId":     saved.ID,
		"mentorId":          mentor.ID,
		"mentorName":        mentor.DisplayName,
		"mentorEmail":       mentor.Email,
		"menteeId":          mentee.ID,
		"menteeName":        mentee.DisplayName,
		"menteeEmail":       mentee.Email,
		"scheduledAt":       saved.ScheduledAt.UTC().Format(time.RFC3339),
		"durationMinutes":   saved.DurationMinutes,
		"meetingLink":       saved.ExternalMeetingLink,
		"message":           saved.Notes,
		"confirmToken":      confirmToken,
		"mentorCancelToken": mentorCancel,
		"menteeCancelToken": menteeCancel,
	})
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to build event payload")
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   saved.ID,
		EventType:     outbox.EventAppointmentRequested,
		Payload:       evtPayload,
	}); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to write outbox event")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to commit")
		return
	}

	view := viewOf(saved)
	view.MentorName = mentor.DisplayName
	view.MenteeName = mentee.DisplayName
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"appointment": view,
	})
}

// List returns a mentor's appointments, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	mentorID := strings.TrimSpace(r.URL.Query().Get("mentor_id"))
	if mentorID == "" {
		httpx.Error(w, http.StatusBadRequest, "mentor_id is required")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.appointments.ListByMentor(r.Context(), mentorID, limit)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}

	items := make([]appointmentView, 0, len(appts))
	for _, a := range appts {
		items = append(items, viewOf(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"appointments": items,
	})
}
