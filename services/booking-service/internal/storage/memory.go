package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/clinicbook/libs/otel"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/outbox"
)

// Memory keeps everything in process. It backs local development when no
// DATABASE_URL is configured, and the tests.
type Memory struct {
	mu       sync.RWMutex
	clinics  map[string]model.Clinic
	doctors  map[string]model.Doctor
	services map[string]model.Service
	hours    map[hoursKey]model.WorkingHours
	appts    map[string]model.Appointment
	versions map[string]int64

	events      []outbox.Record
	nextEventID int64
	publishMu   sync.Mutex

	dayLocks sync.Map
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		clinics:  make(map[string]model.Clinic),
		doctors:  make(map[string]model.Doctor),
		services: make(map[string]model.Service),
		hours:    make(map[hoursKey]model.WorkingHours),
		appts:    make(map[string]model.Appointment),
		versions: make(map[string]int64),
		now:      time.Now,
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

// Seed adds catalog entries that are not present yet.
func (m *Memory) Seed(_ context.Context, data Dataset) error {
	if err := data.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range data.Clinics {
		if _, ok := m.clinics[c.ID]; !ok {
			m.clinics[c.ID] = c
		}
	}
	for _, s := range data.Services {
		if _, ok := m.services[s.ID]; !ok {
			m.services[s.ID] = s
		}
	}
	for _, d := range data.Doctors {
		if _, ok := m.doctors[d.ID]; !ok {
			d.ServiceIDs = append([]string(nil), d.ServiceIDs...)
			sort.Strings(d.ServiceIDs)
			m.doctors[d.ID] = d
		}
	}
	for _, h := range data.Hours {
		k := hoursKey{doctorID: h.DoctorID, day: h.Day}
		if _, ok := m.hours[k]; !ok {
			m.hours[k] = h
		}
	}
	return nil
}

func (m *Memory) Clinics(context.Context) ([]model.Clinic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Clinic, 0, len(m.clinics))
	for _, c := range m.clinics {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Clinic(_ context.Context, id string) (model.Clinic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clinics[id]
	if !ok {
		return model.Clinic{}, fmt.Errorf("clinic: %w", ErrNotFound)
	}
	return c, nil
}

func (m *Memory) Doctors(_ context.Context, clinicID string) ([]model.Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Doctor
	for _, d := range m.doctors {
		if clinicID == "" || d.ClinicID == clinicID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Doctor(_ context.Context, id string) (model.Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	if !ok {
		return model.Doctor{}, fmt.Errorf("doctor: %w", ErrNotFound)
	}
	return d, nil
}

func (m *Memory) Services(_ context.Context, doctorID string) ([]model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Service
	if doctorID == "" {
		for _, s := range m.services {
			out = append(out, s)
		}
	} else if d, ok := m.doctors[doctorID]; ok {
		for _, id := range d.ServiceIDs {
			if s, ok := m.services[id]; ok {
				out = append(out, s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Service(_ context.Context, id string) (model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return model.Service{}, fmt.Errorf("service: %w", ErrNotFound)
	}
	return s, nil
}

func (m *Memory) WorkingHours(_ context.Context, doctorID string, day model.Weekday) (model.WorkingHours, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hours[hoursKey{doctorID: doctorID, day: day}]
	return h, ok, nil
}

func (m *Memory) WeeklyHours(_ context.Context, doctorID string) ([]model.WorkingHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.WorkingHours
	for _, day := range model.Weekdays {
		if h, ok := m.hours[hoursKey{doctorID: doctorID, day: day}]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) Appointment(_ context.Context, id string) (model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment: %w", ErrNotFound)
	}
	return a, nil
}

func (m *Memory) ListAppointments(_ context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	m.mu.RLock()
	var matched []model.Appointment
	for _, a := range m.appts {
		if f.matches(a) {
			matched = append(matched, a)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Time().After(b.Date.Time())
		}
		if a.Start != b.Start {
			return a.Start > b.Start
		}
		return a.ID < b.ID
	})
	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[max(f.Offset, 0):]
	if limit := f.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (f AppointmentFilter) matches(a model.Appointment) bool {
	switch {
	case f.ClinicID != "" && a.ClinicID != f.ClinicID,
		f.DoctorID != "" && a.DoctorID != f.DoctorID,
		f.Status != "" && a.Status != f.Status,
		!f.From.IsZero() && a.Date.Time().Before(f.From.Time()),
		!f.To.IsZero() && a.Date.Time().After(f.To.Time()),
		f.Archived != nil && a.Archived != *f.Archived:
		return false
	}
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	return strings.Contains(strings.ToLower(a.PatientName), q) ||
		strings.Contains(strings.ToLower(a.PatientEmail), q) ||
		strings.Contains(strings.ToLower(a.PatientPhone), q)
}

func (m *Memory) ActiveIntervals(_ context.Context, doctorID string, date model.Date) ([]model.BookedInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeIntervalsLocked(doctorID, date, "", nil), nil
}

// activeIntervalsLocked lists active bookings with staged writes laid over the committed ones.
func (m *Memory) activeIntervalsLocked(doctorID string, date model.Date, excludeID string, staged map[string]model.Appointment) []model.BookedInterval {
	var out []model.BookedInterval
	add := func(a model.Appointment) {
		if a.ID == excludeID || a.DoctorID != doctorID || !a.Date.Equal(date) || !a.Status.Active() {
			return
		}
		out = append(out, a.Interval())
	}
	for id, a := range m.appts {
		if s, ok := staged[id]; ok {
			a = s
		}
		add(a)
	}
	for id, a := range staged {
		if _, ok := m.appts[id]; !ok {
			add(a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (m *Memory) InDoctorDay(ctx context.Context, doctorID string, date model.Date, fn func(context.Context, Tx) error) error {
	lock := m.dayLock(doctorID, date)
	lock.Lock()
	defer lock.Unlock()

	tx := &memTx{m: m, staged: make(map[string]model.Appointment), read: make(map[string]int64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return m.commit(ctx, tx)
}

func (m *Memory) dayLock(doctorID string, date model.Date) *sync.Mutex {
	l, _ := m.dayLocks.LoadOrStore(doctorDayKey(doctorID, date), &sync.Mutex{})
	return l.(*sync.Mutex)
}

// commit applies the staged writes after re-checking the overlap invariant,
// mirroring the exclusion constraint of the Postgres schema. Appointments read
// through the tx must still be at the version seen; another day's lock may
// have moved them meanwhile.
func (m *Memory) commit(ctx context.Context, tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, v := range tx.read {
		if m.versions[id] != v {
			return fmt.Errorf("commit appointment %s: %w", id, ErrStale)
		}
	}

	for _, a := range tx.staged {
		if !a.Status.Active() {
			continue
		}
		for _, b := range m.activeIntervalsLocked(a.DoctorID, a.Date, a.ID, tx.staged) {
			if a.Start < b.End() && b.Start < a.End() {
				return fmt.Errorf("commit appointment %s: %w", a.ID, ErrConflict)
			}
		}
	}
	for id, a := range tx.staged {
		m.appts[id] = a
		m.versions[id]++
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	now := m.now().UTC()
	for _, evt := range tx.events {
		m.nextEventID++
		m.events = append(m.events, outbox.Record{
			ID:            m.nextEventID,
			EventID:       uuid.NewString(),
			AggregateType: evt.AggregateType,
			AggregateID:   evt.AggregateID,
			EventType:     evt.EventType,
			Payload:       evt.Payload,
			Traceparent:   traceparent,
			Tracestate:    tracestate,
			CreatedAt:     now,
		})
	}
	return nil
}

// PublishPending hands out the oldest unpublished events and drops them once fn succeeds.
func (m *Memory) PublishPending(ctx context.Context, limit int, fn func(context.Context, []outbox.Record) error) error {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.RLock()
	n := min(limit, len(m.events))
	batch := append([]outbox.Record(nil), m.events[:n]...)
	m.mu.RUnlock()
	if len(batch) == 0 {
		return nil
	}
	if err := fn(ctx, batch); err != nil {
		return err
	}

	m.mu.Lock()
	m.events = m.events[n:]
	m.mu.Unlock()
	return nil
}

// PendingEvents returns a copy of the unpublished events.
func (m *Memory) PendingEvents() []outbox.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]outbox.Record(nil), m.events...)
}

type memTx struct {
	m      *Memory
	staged map[string]model.Appointment
	read   map[string]int64
	events []outbox.Event
}

func (t *memTx) ActiveIntervals(_ context.Context, doctorID string, date model.Date, excludeID string) ([]model.BookedInterval, error) {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	return t.m.activeIntervalsLocked(doctorID, date, excludeID, t.staged), nil
}

func (t *memTx) AppointmentForUpdate(_ context.Context, id string) (model.Appointment, error) {
	if a, ok := t.staged[id]; ok {
		return a, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	a, ok := t.m.appts[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment: %w", ErrNotFound)
	}
	t.read[id] = t.m.versions[id]
	return a, nil
}

func (t *memTx) InsertAppointment(_ context.Context, appt *model.Appointment) error {
	now := t.m.now().UTC()
	appt.ID = uuid.NewString()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	t.staged[appt.ID] = *appt
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, appt *model.Appointment) error {
	if _, err := t.AppointmentForUpdate(context.Background(), appt.ID); err != nil {
		return err
	}
	appt.UpdatedAt = t.m.now().UTC()
	t.staged[appt.ID] = *appt
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}
