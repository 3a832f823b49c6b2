package model

import "time"

type Status string

const (
	StatusConfirmed   Status = "confirmed"
	StatusRescheduled Status = "rescheduled"
	StatusCancelled   Status = "cancelled"
	StatusCompleted   Status = "completed"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusConfirmed, StatusRescheduled, StatusCancelled, StatusCompleted:
		return st, true
	}
	return "", false
}

// Active statuses hold their slot.
func (s Status) Active() bool { return s != StatusCancelled }

type Appointment struct {
	ID              string
	ClinicID        string
	DoctorID        string
	ServiceID       string
	Date            Date
	Start           Clock
	DurationMinutes int
	PatientName     string
	PatientEmail    string
	PatientPhone    string
	Status          Status
	Notes           string
	Archived        bool
	Arrived         *bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) End() Clock { return a.Start.Add(a.DurationMinutes) }

// BookedInterval is the part of an appointment the arbiter needs to detect overlaps.
type BookedInterval struct {
	AppointmentID   string
	Start           Clock
	DurationMinutes int
}

func (b BookedInterval) End() Clock { return b.Start.Add(b.DurationMinutes) }

func (a Appointment) Interval() BookedInterval {
	return BookedInterval{AppointmentID: a.ID, Start: a.Start, DurationMinutes: a.DurationMinutes}
}
