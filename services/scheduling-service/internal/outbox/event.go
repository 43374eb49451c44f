package outbox

// Event is the domain event envelope written to the outbox table. The Kafka
// topic name equals EventType; the notification service consumes these to
// deliver confirm/cancel links and status updates to both parties.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types emitted by the scheduling core.
const (
	EventAppointmentRequested = "scheduling.appointment.requested.v1"
	EventAppointmentConfirmed = "scheduling.appointment.confirmed.v1"
	EventAppointmentCancelled = "scheduling.appointment.cancelled.v1"
	EventCalendarSyncDLQ      = "scheduling.calendar_sync.dlq.v1"
)
