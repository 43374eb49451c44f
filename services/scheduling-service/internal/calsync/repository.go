package calsync

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mentorgrid/mentorgrid/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert enqueues a job inside the caller's transaction so the job exists iff
// the appointment change committed.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, appointmentID, kind string, payload []byte, externalID string, maxAttempts int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO calendar_sync_jobs (appointment_id, kind, payload, external_event_id, max_attempts, next_run_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, now())
	`, appointmentID, kind, payload, externalID, maxAttempts)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, appointment_id::text, kind, COALESCE(payload, '{}'::jsonb),
			COALESCE(external_event_id, ''), attempts, max_attempts, next_run_at
		FROM calendar_sync_jobs
		WHERE processed_at IS NULL AND next_run_at <= now() AND attempts < max_attempts
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.AppointmentID, &j.Kind, &j.Payload, &j.ExternalID, &j.Attempts, &j.MaxAttempts, &j.NextRunAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE calendar_sync_jobs
		SET processed_at = now(), attempts = attempts + 1
		WHERE id = $1
	`, id)
	return err
}

// MarkFailed bumps the attempt counter and pushes the next run out.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, backoff time.Duration, lastError string) error {
	_, err := tx.Exec(ctx, `
		UPDATE calendar_sync_jobs
		SET attempts = attempts + 1, next_run_at = now() + $2, last_error = $3
		WHERE id = $1
	`, id, backoff, lastError)
	return err
}
