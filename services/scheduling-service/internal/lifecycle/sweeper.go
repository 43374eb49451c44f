package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/storage"
)

// Sweeper periodically moves confirmed appointments whose end time has passed
// to completed. The transition is one guarded UPDATE, so running multiple
// replicas is safe.
type Sweeper struct {
	appointments *storage.AppointmentRepository
	logger       *slog.Logger
	every        time.Duration
}

func NewSweeper(appointments *storage.AppointmentRepository, logger *slog.Logger, every time.Duration) *Sweeper {
	if every <= 0 {
		every = time.Minute
	}
	return &Sweeper{appointments: appointments, logger: logger, every: every}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.appointments.CompleteElapsed(ctx, time.Now())
			if err != nil {
				s.logger.Error("completion sweep failed", "err", err)
				continue
			}
			if n > 0 {
				s.logger.Info("appointments completed", "count", n)
			}
		}
	}
}
