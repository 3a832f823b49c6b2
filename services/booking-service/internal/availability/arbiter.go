package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/storage"
)

// Arbiter owns the "is this slot free, and if so take it" decision. Reads run
// without locks; every write re-validates inside storage.Store.InDoctorDay.
type Arbiter struct {
	store    storage.Store
	resolver *Resolver
	logger   *slog.Logger
	metrics  *metrics.BookingMetrics
	now      func() time.Time
}

func NewArbiter(store storage.Store, logger *slog.Logger, m *metrics.BookingMetrics) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{
		store:    store,
		resolver: NewResolver(store),
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

func (a *Arbiter) Resolver() *Resolver { return a.resolver }

// AvailableSlots returns the free start times for a service with a doctor on
// date. A closed day yields an empty list before the service is looked up.
func (a *Arbiter) AvailableSlots(ctx context.Context, doctorID string, date model.Date, serviceID string) ([]model.Clock, error) {
	started := time.Now()
	slots, err := a.availableSlots(ctx, doctorID, date, serviceID)
	a.metrics.ObserveSlotQuery(resultLabel(err), time.Since(started))
	return slots, err
}

func (a *Arbiter) availableSlots(ctx context.Context, doctorID string, date model.Date, serviceID string) ([]model.Clock, error) {
	window, err := a.resolver.Resolve(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("resolve working hours: %w", err)
	}
	if window.Closed() {
		return []model.Clock{}, nil
	}
	svc, err := a.store.Service(ctx, serviceID)
	if err != nil {
		return nil, lookupErr(err, "service", serviceID)
	}
	doc, err := a.store.Doctor(ctx, doctorID)
	if err != nil {
		return nil, lookupErr(err, "doctor", doctorID)
	}
	if err := offered(doc, serviceID); err != nil {
		return nil, err
	}
	booked, err := a.store.ActiveIntervals(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	return FreeSlots(window, svc.DurationMinutes, booked), nil
}

// offered rejects a service outside the doctor's list. A doctor with no
// list offers every service.
func offered(doc model.Doctor, serviceID string) error {
	if len(doc.ServiceIDs) > 0 && !doc.Offers(serviceID) {
		return &ValidationError{Field: "serviceId", Reason: "is not offered by this doctor"}
	}
	return nil
}

type Patient struct {
	Name  string
	Email string
	Phone string
}

type BookRequest struct {
	ClinicID  string
	DoctorID  string
	ServiceID string
	Date      model.Date
	Start     model.Clock
	Patient   Patient
	Notes     string
}

func (r BookRequest) validate() error {
	switch {
	case r.ClinicID == "":
		return &ValidationError{Field: "clinicId", Reason: "is required"}
	case r.DoctorID == "":
		return &ValidationError{Field: "doctorId", Reason: "is required"}
	case r.ServiceID == "":
		return &ValidationError{Field: "serviceId", Reason: "is required"}
	case r.Date.IsZero():
		return &ValidationError{Field: "date", Reason: "is required"}
	case strings.TrimSpace(r.Patient.Name) == "":
		return &ValidationError{Field: "patientName", Reason: "is required"}
	case strings.TrimSpace(r.Patient.Email) == "":
		return &ValidationError{Field: "patientEmail", Reason: "is required"}
	}
	if _, err := mail.ParseAddress(r.Patient.Email); err != nil {
		return &ValidationError{Field: "patientEmail", Reason: "is not a valid email address"}
	}
	return nil
}

// Book reserves the requested slot and returns the confirmed appointment, or
// ErrSlotAlreadyBooked when another active appointment overlaps it.
func (a *Arbiter) Book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	started := time.Now()
	appt, err := a.book(ctx, req)
	a.metrics.ObserveAttempt("book", resultLabel(err), time.Since(started))
	if err == nil {
		a.logger.InfoContext(ctx, "appointment booked",
			"appointment_id", appt.ID, "doctor_id", appt.DoctorID, "date", appt.Date.String(), "start", appt.Start.String())
	}
	return appt, err
}

func (a *Arbiter) book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	if err := req.validate(); err != nil {
		return model.Appointment{}, err
	}
	refs, err := a.loadRefs(ctx, req.ClinicID, req.DoctorID, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	if refs.doctor.ClinicID != req.ClinicID {
		return model.Appointment{}, &NotFoundError{Entity: "doctor", ID: req.DoctorID}
	}
	if err := offered(refs.doctor, req.ServiceID); err != nil {
		return model.Appointment{}, err
	}

	duration := refs.service.DurationMinutes
	window, err := a.resolver.Resolve(ctx, req.DoctorID, req.Date)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("resolve working hours: %w", err)
	}
	if !onGrid(window, req.Start, duration) {
		return model.Appointment{}, ErrSlotOutsideWorkingHours
	}

	appt := model.Appointment{
		ClinicID:        req.ClinicID,
		DoctorID:        req.DoctorID,
		ServiceID:       req.ServiceID,
		Date:            req.Date,
		Start:           req.Start,
		DurationMinutes: duration,
		PatientName:     strings.TrimSpace(req.Patient.Name),
		PatientEmail:    strings.TrimSpace(req.Patient.Email),
		PatientPhone:    strings.TrimSpace(req.Patient.Phone),
		Status:          model.StatusConfirmed,
		Notes:           req.Notes,
	}
	err = a.store.InDoctorDay(ctx, req.DoctorID, req.Date, func(ctx context.Context, tx storage.Tx) error {
		booked, err := tx.ActiveIntervals(ctx, req.DoctorID, req.Date, "")
		if err != nil {
			return fmt.Errorf("load appointments: %w", err)
		}
		if !newOccupancy(window, booked).free(req.Start, duration) {
			return ErrSlotAlreadyBooked
		}
		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return err
		}
		return a.appendEvent(ctx, tx, outbox.EventAppointmentBooked, appt, refs, nil)
	})
	if err != nil {
		return model.Appointment{}, writeErr(err, "")
	}
	return appt, nil
}

// Patch is an administrative change to an appointment. Nil fields are left unchanged.
type Patch struct {
	Status   *model.Status
	Notes    *string
	Archived *bool
	Arrived  *bool
	Date     *model.Date
	Start    *model.Clock
}

func (p Patch) movesSlot() bool { return p.Date != nil || p.Start != nil }

// Reschedule moves an appointment to a new date and start time. The
// appointment itself is excluded from the conflict set, so moving it onto its
// own slot succeeds.
func (a *Arbiter) Reschedule(ctx context.Context, id string, date model.Date, start model.Clock) (model.Appointment, error) {
	return a.Update(ctx, id, Patch{Date: &date, Start: &start})
}

func (a *Arbiter) Cancel(ctx context.Context, id string) (model.Appointment, error) {
	st := model.StatusCancelled
	return a.Update(ctx, id, Patch{Status: &st})
}

// Update applies p. Moving the slot or reactivating a cancelled appointment
// goes through the same atomic overlap check as Book.
func (a *Arbiter) Update(ctx context.Context, id string, p Patch) (model.Appointment, error) {
	op := "update"
	switch {
	case p.movesSlot():
		op = "reschedule"
	case p.Status != nil && *p.Status == model.StatusCancelled:
		op = "cancel"
	}
	started := time.Now()
	appt, err := a.update(ctx, id, p)
	a.metrics.ObserveAttempt(op, resultLabel(err), time.Since(started))
	if err == nil {
		a.logger.InfoContext(ctx, "appointment changed",
			"operation", op, "appointment_id", appt.ID, "status", string(appt.Status), "date", appt.Date.String(), "start", appt.Start.String())
	}
	return appt, err
}

// errMoved signals that the appointment changed date between the unlocked
// read and taking the doctor-day lock. The lock and the working-hours window
// were then taken for the wrong day.
var errMoved = errors.New("appointment moved concurrently")

const maxUpdateAttempts = 3

func (a *Arbiter) update(ctx context.Context, id string, p Patch) (model.Appointment, error) {
	if p.Status != nil {
		if _, ok := model.ParseStatus(string(*p.Status)); !ok {
			return model.Appointment{}, &ValidationError{Field: "status", Reason: "is not a known status"}
		}
	}
	for attempt := 0; ; attempt++ {
		appt, err := a.updateOnce(ctx, id, p)
		retry := errors.Is(err, errMoved) || errors.Is(err, storage.ErrStale)
		if retry && attempt+1 < maxUpdateAttempts {
			continue
		}
		return appt, err
	}
}

func (a *Arbiter) updateOnce(ctx context.Context, id string, p Patch) (model.Appointment, error) {
	current, err := a.store.Appointment(ctx, id)
	if err != nil {
		return model.Appointment{}, lookupErr(err, "appointment", id)
	}
	refs, err := a.loadRefs(ctx, current.ClinicID, current.DoctorID, current.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}

	lockDate := current.Date
	if p.Date != nil {
		lockDate = *p.Date
	}
	var window Window
	if p.movesSlot() {
		start := current.Start
		if p.Start != nil {
			start = *p.Start
		}
		window, err = a.resolver.Resolve(ctx, current.DoctorID, lockDate)
		if err != nil {
			return model.Appointment{}, fmt.Errorf("resolve working hours: %w", err)
		}
		if !onGrid(window, start, current.DurationMinutes) {
			return model.Appointment{}, ErrSlotOutsideWorkingHours
		}
	}

	var updated model.Appointment
	err = a.store.InDoctorDay(ctx, current.DoctorID, lockDate, func(ctx context.Context, tx storage.Tx) error {
		appt, err := tx.AppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Date == nil && !appt.Date.Equal(lockDate) {
			return errMoved
		}
		prev := appt

		next, err := transition(appt.Status, p)
		if err != nil {
			return err
		}
		if p.Date != nil {
			appt.Date = *p.Date
		}
		if p.Start != nil {
			appt.Start = *p.Start
		}
		appt.Status = next

		if next.Active() && (p.movesSlot() || !prev.Status.Active()) {
			booked, err := tx.ActiveIntervals(ctx, appt.DoctorID, appt.Date, appt.ID)
			if err != nil {
				return fmt.Errorf("load appointments: %w", err)
			}
			if p.movesSlot() {
				if !newOccupancy(window, booked).free(appt.Start, appt.DurationMinutes) {
					return ErrSlotAlreadyBooked
				}
			} else if overlaps(appt.Start, appt.DurationMinutes, booked) {
				return ErrSlotAlreadyBooked
			}
		}

		if p.Notes != nil {
			appt.Notes = *p.Notes
		}
		if p.Archived != nil {
			appt.Archived = *p.Archived
		}
		if p.Arrived != nil {
			v := *p.Arrived
			appt.Arrived = &v
		}
		if err := tx.UpdateAppointment(ctx, &appt); err != nil {
			return err
		}

		eventType := outbox.EventAppointmentUpdated
		switch {
		case p.movesSlot():
			eventType = outbox.EventAppointmentRescheduled
		case next == model.StatusCancelled && prev.Status != model.StatusCancelled:
			eventType = outbox.EventAppointmentCancelled
		}
		updated = appt
		return a.appendEvent(ctx, tx, eventType, appt, refs, &prev)
	})
	if err != nil {
		return model.Appointment{}, writeErr(err, id)
	}
	return updated, nil
}

// transition returns the status after applying p to an appointment currently in from.
func transition(from model.Status, p Patch) (model.Status, error) {
	to := from
	if p.movesSlot() {
		if from == model.StatusCompleted {
			return "", fmt.Errorf("%w: a completed appointment cannot be rescheduled", ErrInvalidTransition)
		}
		to = model.StatusRescheduled
	}
	if p.Status == nil || *p.Status == from {
		return to, nil
	}
	switch next := *p.Status; {
	case from == model.StatusCompleted:
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	case next == model.StatusCompleted && from == model.StatusCancelled:
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	case next == model.StatusCancelled && p.movesSlot():
		return "", fmt.Errorf("%w: cannot cancel and reschedule at once", ErrInvalidTransition)
	default:
		return next, nil
	}
}

type bookingRefs struct {
	clinic  model.Clinic
	doctor  model.Doctor
	service model.Service
}

func (a *Arbiter) loadRefs(ctx context.Context, clinicID, doctorID, serviceID string) (bookingRefs, error) {
	var r bookingRefs
	var err error
	if r.clinic, err = a.store.Clinic(ctx, clinicID); err != nil {
		return bookingRefs{}, lookupErr(err, "clinic", clinicID)
	}
	if r.doctor, err = a.store.Doctor(ctx, doctorID); err != nil {
		return bookingRefs{}, lookupErr(err, "doctor", doctorID)
	}
	if r.service, err = a.store.Service(ctx, serviceID); err != nil {
		return bookingRefs{}, lookupErr(err, "service", serviceID)
	}
	return r, nil
}

// AppointmentEvent is the JSON payload of every appointment event.
type AppointmentEvent struct {
	AppointmentID     string    `json:"appointmentId"`
	Status            string    `json:"status"`
	ClinicID          string    `json:"clinicId"`
	ClinicName        string    `json:"clinicName"`
	ClinicAddress     string    `json:"clinicAddress"`
	DoctorID          string    `json:"doctorId"`
	DoctorName        string    `json:"doctorName"`
	ServiceID         string    `json:"serviceId"`
	ServiceName       string    `json:"serviceName"`
	Date              string    `json:"date"`
	StartTime         string    `json:"startTime"`
	EndTime           string    `json:"endTime"`
	DurationMinutes   int       `json:"durationMinutes"`
	PatientName       string    `json:"patientName"`
	PatientEmail      string    `json:"patientEmail"`
	PatientPhone      string    `json:"patientPhone,omitempty"`
	PreviousDate      string    `json:"previousDate,omitempty"`
	PreviousStartTime string    `json:"previousStartTime,omitempty"`
	OccurredAt        time.Time `json:"occurredAt"`
}

func (a *Arbiter) appendEvent(ctx context.Context, tx storage.Tx, eventType string, appt model.Appointment, r bookingRefs, prev *model.Appointment) error {
	evt := AppointmentEvent{
		AppointmentID:   appt.ID,
		Status:          string(appt.Status),
		ClinicID:        r.clinic.ID,
		ClinicName:      r.clinic.Name,
		ClinicAddress:   r.clinic.Address,
		DoctorID:        r.doctor.ID,
		DoctorName:      r.doctor.Name,
		ServiceID:       r.service.ID,
		ServiceName:     r.service.Name,
		Date:            appt.Date.String(),
		StartTime:       appt.Start.String(),
		EndTime:         appt.End().String(),
		DurationMinutes: appt.DurationMinutes,
		PatientName:     appt.PatientName,
		PatientEmail:    appt.PatientEmail,
		PatientPhone:    appt.PatientPhone,
		OccurredAt:      a.now().UTC(),
	}
	if prev != nil && (!prev.Date.Equal(appt.Date) || prev.Start != appt.Start) {
		evt.PreviousDate = prev.Date.String()
		evt.PreviousStartTime = prev.Start.String()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func lookupErr(err error, entity, id string) error {
	if storage.IsNotFound(err) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return fmt.Errorf("load %s: %w", entity, err)
}

// writeErr maps a lost race caught by the store to ErrSlotAlreadyBooked.
func writeErr(err error, appointmentID string) error {
	switch {
	case errors.Is(err, ErrSlotAlreadyBooked), storage.IsConflict(err):
		return ErrSlotAlreadyBooked
	case storage.IsNotFound(err):
		return &NotFoundError{Entity: "appointment", ID: appointmentID}
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrSlotAlreadyBooked):
		return "conflict"
	case errors.Is(err, ErrSlotOutsideWorkingHours), errors.Is(err, ErrInvalidTransition), IsValidation(err):
		return "rejected"
	case IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
