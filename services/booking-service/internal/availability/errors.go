package availability

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotAlreadyBooked means the requested interval overlaps an active appointment.
	// Callers should refresh availability and pick another slot.
	ErrSlotAlreadyBooked       = errors.New("slot already booked")
	ErrSlotOutsideWorkingHours = errors.New("slot outside working hours")
	ErrInvalidTransition       = errors.New("invalid status transition")
)

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
