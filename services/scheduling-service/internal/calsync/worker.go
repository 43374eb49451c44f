package calsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mentorgrid/mentorgrid/libs/db"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/calendar"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/outbox"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/storage"
)

// Worker retries pending calendar writes. Jobs that exhaust their attempts go
// to the dead letter topic via the outbox instead of blocking the queue.
type Worker struct {
	pool         *db.Pool
	jobs         *Repository
	appointments *storage.AppointmentRepository
	outbox       *outbox.Repository
	adapter      calendar.Adapter
	logger       *slog.Logger
	pollEvery    time.Duration
	batchSize    int
	baseBackoff  time.Duration
}

func NewWorker(pool *db.Pool, jobs *Repository, appointments *storage.AppointmentRepository, ob *outbox.Repository, adapter calendar.Adapter, logger *slog.Logger) *Worker {
	return &Worker{
		pool:         pool,
		jobs:         jobs,
		appointments: appointments,
		outbox:       ob,
		adapter:      adapter,
		logger:       logger,
		pollEvery:    10 * time.Second,
		batchSize:    20,
		baseBackoff:  time.Minute,
	}
}

func (w *Worker) Run(ctx context.Context) {
	if w.adapter == nil {
		w.logger.Warn("calendar sync worker disabled (no calendar adapter configured)")
		return
	}

	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.runBatch(ctx); err != nil {
				w.logger.Error("calendar sync batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) runBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.jobs.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if err := w.process(ctx, tx, job); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (w *Worker) process(ctx context.Context, tx pgx.Tx, job Job) error {
	runErr := w.run(ctx, tx, job)
	if runErr == nil {
		return w.jobs.MarkProcessed(ctx, tx, job.ID)
	}

	w.logger.Warn("calendar sync attempt failed",
		"job_id", job.ID,
		"appointment_id", job.AppointmentID,
		"kind", job.Kind,
		"attempt", job.Attempts+1,
		"err", runErr,
	)

	if job.Attempts+1 >= job.MaxAttempts {
		payload, err := json.Marshal(map[string]any{
			"appointmentId": job.AppointmentID,
			"kind":          job.Kind,
			"attempts":      job.Attempts + 1,
			"lastError":     runErr.Error(),
		})
		if err != nil {
			return err
		}
		evt := outbox.Event{
			AggregateType: "calendar_sync_job",
			AggregateID:   job.AppointmentID,
			EventType:     outbox.EventCalendarSyncDLQ,
			Payload:       payload,
		}
		if err := w.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
	}

	backoff := w.baseBackoff << job.Attempts
	return w.jobs.MarkFailed(ctx, tx, job.ID, backoff, runErr.Error())
}

func (w *Worker) run(ctx context.Context, tx pgx.Tx, job Job) error {
	switch job.Kind {
	case KindCreate:
		appt, err := w.appointments.GetByID(ctx, job.AppointmentID)
		if err != nil {
			if storage.IsNotFound(err) {
				return nil
			}
			return err
		}
		// The appointment may have been cancelled while the job waited.
		if !appt.Status.Active() {
			return nil
		}
		if appt.ExternalEventID != "" {
			return nil
		}

		var evt calendar.Event
		if err := json.Unmarshal(job.Payload, &evt); err != nil {
			return fmt.Errorf("decode job payload: %w", err)
		}
		created, err := w.adapter.CreateEvent(ctx, evt)
		if err != nil {
			return err
		}
		return w.appointments.SetExternalEvent(ctx, tx, job.AppointmentID, created.EventID, created.MeetingLink)

	case KindDelete:
		if job.ExternalID == "" {
			return nil
		}
		return w.adapter.DeleteEvent(ctx, job.ExternalID)

	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}
