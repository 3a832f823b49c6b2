package storage

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/clinicbook/libs/db"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/outbox"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the write would overlap an active appointment of the same doctor.
	ErrConflict = errors.New("overlapping appointment")
	// ErrStale means the appointment was changed by another transaction after
	// this one read it. Callers re-read and retry.
	ErrStale = errors.New("appointment changed concurrently")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || db.IsNoRows(err)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || db.IsExclusionViolation(err) || db.IsUniqueViolation(err)
}

// Catalog is the read-only clinic/doctor/service/hours data.
type Catalog interface {
	Clinics(ctx context.Context) ([]model.Clinic, error)
	Clinic(ctx context.Context, id string) (model.Clinic, error)
	Doctors(ctx context.Context, clinicID string) ([]model.Doctor, error)
	Doctor(ctx context.Context, id string) (model.Doctor, error)
	Services(ctx context.Context, doctorID string) ([]model.Service, error)
	Service(ctx context.Context, id string) (model.Service, error)
	// WorkingHours reports false when the doctor has no entry for day.
	WorkingHours(ctx context.Context, doctorID string, day model.Weekday) (model.WorkingHours, bool, error)
	WeeklyHours(ctx context.Context, doctorID string) ([]model.WorkingHours, error)
}

type Store interface {
	Catalog
	Appointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error)
	// ActiveIntervals returns the non-cancelled bookings of a doctor on date, ordered by start.
	ActiveIntervals(ctx context.Context, doctorID string, date model.Date) ([]model.BookedInterval, error)
	// InDoctorDay runs fn as one atomic unit serialized against every other
	// writer of the same (doctorID, date). Nothing fn wrote is kept when it
	// returns an error.
	InDoctorDay(ctx context.Context, doctorID string, date model.Date, fn func(ctx context.Context, tx Tx) error) error
	Seed(ctx context.Context, data Dataset) error
	Ping(ctx context.Context) error
}

type Tx interface {
	ActiveIntervals(ctx context.Context, doctorID string, date model.Date, excludeID string) ([]model.BookedInterval, error)
	AppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	// InsertAppointment assigns ID, CreatedAt and UpdatedAt.
	InsertAppointment(ctx context.Context, appt *model.Appointment) error
	UpdateAppointment(ctx context.Context, appt *model.Appointment) error
	AppendEvent(ctx context.Context, evt outbox.Event) error
}

type AppointmentFilter struct {
	ClinicID string
	DoctorID string
	Status   model.Status
	From     model.Date
	To       model.Date
	// Archived nil lists both archived and live appointments.
	Archived *bool
	Query    string
	Limit    int
	Offset   int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

func (f AppointmentFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

// Dataset is the catalog loaded by the seed command and the in-memory store.
type Dataset struct {
	Clinics  []model.Clinic
	Doctors  []model.Doctor
	Services []model.Service
	Hours    []model.WorkingHours
}

// Validate rejects working hours that break the one-entry-per-day rule or reference unknown doctors.
func (d Dataset) Validate() error {
	doctors := make(map[string]bool, len(d.Doctors))
	for _, doc := range d.Doctors {
		doctors[doc.ID] = true
	}
	seen := make(map[hoursKey]bool, len(d.Hours))
	for _, h := range d.Hours {
		if err := h.Validate(); err != nil {
			return err
		}
		if !doctors[h.DoctorID] {
			return errors.New("working hours reference unknown doctor " + h.DoctorID)
		}
		k := hoursKey{doctorID: h.DoctorID, day: h.Day}
		if seen[k] {
			return errors.New("duplicate working hours for doctor " + h.DoctorID + " on " + string(h.Day))
		}
		seen[k] = true
	}
	return nil
}

type hoursKey struct {
	doctorID string
	day      model.Weekday
}
