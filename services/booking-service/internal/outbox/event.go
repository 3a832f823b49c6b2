package outbox

import (
	"context"
	"time"
)

// Event types emitted by the booking arbiter. The Kafka topic equals the event type.
const (
	EventAppointmentBooked      = "booking.appointment.booked.v1"
	EventAppointmentRescheduled = "booking.appointment.rescheduled.v1"
	EventAppointmentCancelled   = "booking.appointment.cancelled.v1"
	EventAppointmentUpdated     = "booking.appointment.updated.v1"
)

// Event is the domain event envelope written in the same transaction as the state change.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Record is a stored event awaiting publication.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

// Source hands out unpublished records. Records passed to fn are marked
// published only when fn returns nil.
type Source interface {
	PublishPending(ctx context.Context, limit int, fn func(ctx context.Context, records []Record) error) error
}
