package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mentorgrid/mentorgrid/libs/httpx"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/calsync"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/model"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/outbox"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/storage"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/token"
)

type actionRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

// Confirm moves a pending appointment to confirmed using the mentor's signed
// confirm token. The token is single use: its jti is consumed in the same
// transaction as the transition, so a rejected transition releases it.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}

	claims, err := h.issuer.Verify(strings.TrimSpace(req.Token), token.ActionConfirm)
	if err != nil {
		httpx.Error(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	ctx := r.Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fresh, err := h.tokens.Consume(ctx, tx, claims.Jti, claims.AppointmentID, token.ActionConfirm)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "token check failed")
		return
	}
	if !fresh {
		httpx.Error(w, http.StatusUnauthorized, "token already used")
		return
	}

	appt, err := h.appointments.GetForUpdate(ctx, tx, claims.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.Error(w, http.StatusNotFound, "appointment not found")
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "failed to load appointment")
		return
	}

	if !appt.Status.CanTransitionTo(model.StatusConfirmed) {
		httpx.Error(w, http.StatusConflict, "appointment cannot be confirmed")
		return
	}

	confirmed, err := h.appointments.Confirm(ctx, tx, appt.ID)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to confirm appointment")
		return
	}

	if err := h.emitStatusEvent(ctx, tx, confirmed, outbox.EventAppointmentConfirmed, ""); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to write outbox event")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to commit")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"appointment": viewOf(confirmed),
	})
}

// Cancel cancels a pending or confirmed appointment using a mentor or mentee
// cancel token.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}

	claims, err := h.issuer.Verify(strings.TrimSpace(req.Token), token.ActionCancel)
	if err != nil {
		httpx.Error(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	cancelledBy := claims.Sub
	if cancelledBy != model.ActorMentor && cancelledBy != model.ActorMentee {
		httpx.Error(w, http.StatusUnauthorized, "invalid token subject")
		return
	}

	ctx := r.Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fresh, err := h.tokens.Consume(ctx, tx, claims.Jti, claims.AppointmentID, token.ActionCancel)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "token check failed")
		return
	}
	if !fresh {
		httpx.Error(w, http.StatusUnauthorized, "token already used")
		return
	}

	appt, err := h.appointments.GetForUpdate(ctx, tx, claims.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.Error(w, http.StatusNotFound, "appointment not found")
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "failed to load appointment")
		return
	}

	if !appt.Status.CanTransitionTo(model.StatusCancelled) {
		httpx.Error(w, http.StatusConflict, "appointment cannot be cancelled")
		return
	}

	cancelled, err := h.cancelOne(ctx, tx, appt, cancelledBy, strings.TrimSpace(req.Reason))
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to cancel appointment")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to commit")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"appointment": viewOf(cancelled),
	})
}

type memberCancelRequest struct {
	MemberID string `json:"member_id"`
	Reason   string `json:"reason"`
}

// CancelForMember bulk-cancels a member's future pending appointments. Used by
// the members service when an account is deactivated; callers must present the
// shared internal secret.
func (h *Handler) CancelForMember(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.authorizeInternal(w, r) {
		return
	}

	var req memberCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.MemberID = strings.TrimSpace(req.MemberID)
	if req.MemberID == "" {
		httpx.Error(w, http.StatusBadRequest, "member_id is required")
		return
	}

	ctx := r.Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appts, err := h.appointments.ListFuturePendingForMember(ctx, tx, req.MemberID, time.Now())
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to load appointments")
		return
	}

	for _, appt := range appts {
		if _, err := h.cancelOne(ctx, tx, appt, model.ActorSystem, strings.TrimSpace(req.Reason)); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "failed to cancel appointments")
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to commit")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"cancelled": len(appts),
	})
}

// cancelOne applies the cancel transition, queues external event cleanup, and
// emits the cancelled event, all within the caller's transaction.
func (h *Handler) cancelOne(ctx context.Context, tx pgx.Tx, appt model.Appointment, cancelledBy, reason string) (model.Appointment, error) {
	cancelled, err := h.appointments.Cancel(ctx, tx, appt.ID, cancelledBy, reason)
	if err != nil {
		return model.Appointment{}, err
	}

	if appt.ExternalEventID != "" && h.calendar != nil {
		if err := h.syncJobs.Insert(ctx, tx, appt.ID, calsync.KindDelete, nil, appt.ExternalEventID, calendarMaxAttempts); err != nil {
			return model.Appointment{}, err
		}
	}

	if err := h.emitStatusEvent(ctx, tx, cancelled, outbox.EventAppointmentCancelled, reason); err != nil {
		return model.Appointment{}, err
	}
	return cancelled, nil
}

func (h *Handler) emitStatusEvent(ctx context.Context, tx pgx.Tx, appt model.Appointment, eventType, reason string) error {
	payload := map[string]any{
		"appointmentId":   appt.ID,
		"mentorId":        appt.MentorID,
		"menteeId":        appt.MenteeID,
		"status":          string(appt.Status),
		"scheduledAt":     appt.ScheduledAt.UTC().Format(time.RFC3339),
		"durationMinutes": appt.DurationMinutes,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	if appt.CancelledBy != "" {
		payload["cancelledBy"] = appt.CancelledBy
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       body,
	})
}
