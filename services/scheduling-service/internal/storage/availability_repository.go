package storage

import (
	"context"

	"github.com/mentorgrid/mentorgrid/libs/db"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/model"
)

type AvailabilityRepository struct {
	pool *db.Pool
}

func NewAvailabilityRepository(pool *db.Pool) *AvailabilityRepository {
	return &AvailabilityRepository{pool: pool}
}

func (r *AvailabilityRepository) ListWindows(ctx context.Context, mentorID string) ([]model.AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, mentor_id::text, weekday, start_minute, end_minute
		FROM availability_windows
		WHERE mentor_id = $1
		ORDER BY weekday ASC, start_minute ASC
	`, mentorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityWindow
	for rows.Next() {
		var w model.AvailabilityWindow
		if err := rows.Scan(&w.ID, &w.MentorID, &w.Weekday, &w.StartMinute, &w.EndMinute); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ReplaceWeekday swaps out all of a mentor's windows for one weekday in a
// single transaction, so readers never observe a half-applied schedule.
func (r *AvailabilityRepository) ReplaceWeekday(ctx context.Context, mentorID string, weekday int, windows []model.AvailabilityWindow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM availability_windows
		WHERE mentor_id = $1 AND weekday = $2
	`, mentorID, weekday); err != nil {
		return err
	}

	for _, w := range windows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO availability_windows (mentor_id, weekday, start_minute, end_minute)
			VALUES ($1, $2, $3, $4)
		`, mentorID, weekday, w.StartMinute, w.EndMinute); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
