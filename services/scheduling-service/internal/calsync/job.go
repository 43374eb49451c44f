package calsync

import "time"

// Job kinds. Create jobs retry event creation for appointments whose initial
// best-effort calendar write failed; delete jobs remove events for cancelled
// appointments.
const (
	KindCreate = "create"
	KindDelete = "delete"
)

// Job is one pending calendar write. Payload carries the full event spec for
// create jobs, so the worker needs no profile lookups at retry time.
type Job struct {
	ID            int64
	AppointmentID string
	Kind          string
	Payload       []byte
	ExternalID    string
	Attempts      int
	MaxAttempts   int
	NextRunAt     time.Time
}
