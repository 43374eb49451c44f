package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mentorgrid/mentorgrid/libs/db"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const appointmentColumns = `id::text, mentor_id::text, mentee_id::text, scheduled_at, duration_minutes, status,
	COALESCE(external_event_id, ''), COALESCE(external_meeting_link, ''), COALESCE(notes, ''),
	COALESCE(cancellation_reason, ''), COALESCE(cancelled_by, ''), cancelled_at, created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	var cancelledAt *time.Time
	err := row.Scan(
		&a.ID,
		&a.MentorID,
		&a.MenteeID,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&status,
		&a.ExternalEventID,
		&a.ExternalMeetingLink,
		&a.Notes,
		&a.CancellationReason,
		&a.CancelledBy,
		&cancelledAt,
		&a.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.Status(status)
	a.CancelledAt = cancelledAt
	return a, nil
}

// Create inserts a pending appointment. The appointments table carries an
// exclusion constraint over active statuses, so a concurrent insert for an
// overlapping mentor interval fails with SQLSTATE 23P01 (see IsConflict).
func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, a *model.Appointment) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(mentor_id, mentee_id, scheduled_at, duration_minutes, status, external_event_id, external_meeting_link, notes)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''))
		RETURNING `+appointmentColumns+`
	`, a.MentorID, a.MenteeID, a.ScheduledAt, a.DurationMinutes, string(a.Status),
		a.ExternalEventID, a.ExternalMeetingLink, a.Notes)
	return scanAppointment(row)
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

// GetForUpdate loads an appointment under a row lock so that a status
// transition observes a stable current state.
func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

// HasActiveOverlap reports whether any pending/confirmed appointment for the
// mentor intersects [start, end). Intersection is symmetric: an earlier longer
// booking that runs into the new window counts.
func (r *AppointmentRepository) HasActiveOverlap(ctx context.Context, tx pgx.Tx, mentorID string, start, end time.Time) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE mentor_id = $1
				AND status IN ('pending', 'confirmed')
				AND scheduled_at < $3
				AND scheduled_at + make_interval(mins => duration_minutes) > $2
		)
	`, mentorID, start, end).Scan(&exists)
	return exists, err
}

// ListActiveIntervals returns pending/confirmed appointments for the mentor
// intersecting [start, end), ordered by start time. Cancelled and completed
// appointments do not block slots.
func (r *AppointmentRepository) ListActiveIntervals(ctx context.Context, mentorID string, start, end time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE mentor_id = $1
			AND status IN ('pending', 'confirmed')
			AND scheduled_at < $3
			AND scheduled_at + make_interval(mins => duration_minutes) > $2
		ORDER BY scheduled_at ASC
	`, mentorID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *AppointmentRepository) Confirm(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'confirmed'
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id)
	return scanAppointment(row)
}

func (r *AppointmentRepository) Cancel(ctx context.Context, tx pgx.Tx, id, cancelledBy, reason string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancelled_by = $2,
			cancellation_reason = NULLIF($3, '')
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, cancelledBy, reason)
	return scanAppointment(row)
}

// SetExternalEvent backfills calendar linkage once the sync worker succeeds.
func (r *AppointmentRepository) SetExternalEvent(ctx context.Context, tx pgx.Tx, id, eventID, meetingLink string) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET external_event_id = NULLIF($2, ''),
			external_meeting_link = NULLIF($3, '')
		WHERE id = $1
	`, id, eventID, meetingLink)
	return err
}

// ListFuturePendingForMember returns pending appointments scheduled after now
// where the member participates as mentor or mentee, locked for update.
func (r *AppointmentRepository) ListFuturePendingForMember(ctx context.Context, tx pgx.Tx, memberID string, now time.Time) ([]model.Appointment, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE (mentor_id = $1 OR mentee_id = $1)
			AND status = 'pending'
			AND scheduled_at > $2
		ORDER BY scheduled_at ASC
		FOR UPDATE
	`, memberID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

// CompleteElapsed moves confirmed appointments whose end time has passed to
// completed, returning how many rows changed.
func (r *AppointmentRepository) CompleteElapsed(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = 'completed'
		WHERE status = 'confirmed'
			AND scheduled_at + make_interval(mins => duration_minutes) <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *AppointmentRepository) ListByMentor(ctx context.Context, mentorID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE mentor_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2
	`, mentorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// IsConflict matches the exclusion-constraint violation raised when two
// active appointments for one mentor would overlap.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
