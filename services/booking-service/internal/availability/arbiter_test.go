package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/storage"
)

var (
	monday  = model.MustDate("2026-03-02")
	tuesday = model.MustDate("2026-03-03")
	sunday  = model.MustDate("2026-03-08")

	nextMonday = model.MustDate("2026-03-09")
)

func fixture() storage.Dataset {
	return storage.Dataset{
		Clinics: []model.Clinic{
			{ID: "clinic-1", Name: "Elite Medical Center", Address: "King Fahd Rd"},
			{ID: "clinic-2", Name: "Other Clinic"},
		},
		Services: []model.Service{
			{ID: "svc-30", Name: "Consultation", DurationMinutes: 30},
			{ID: "svc-45", Name: "Specialist", DurationMinutes: 45},
			{ID: "svc-60", Name: "Check-up", DurationMinutes: 60},
			{ID: "svc-20", Name: "Follow-up", DurationMinutes: 20},
		},
		Doctors: []model.Doctor{
			{ID: "doc-1", ClinicID: "clinic-1", Name: "Dr. Sarah Johnson", ServiceIDs: []string{"svc-30", "svc-45", "svc-60", "svc-20"}},
		},
		Hours: []model.WorkingHours{
			{DoctorID: "doc-1", Day: model.Monday, Start: model.MustClock("09:00"), End: model.MustClock("17:00")},
			{DoctorID: "doc-1", Day: model.Tuesday, Start: model.MustClock("09:15"), End: model.MustClock("12:00")},
		},
	}
}

func newArbiter(t *testing.T) (*Arbiter, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	require.NoError(t, store.Seed(context.Background(), fixture()))
	return NewArbiter(store, slog.New(slog.NewTextHandler(io.Discard, nil)), nil), store
}

func bookReq(serviceID string, date model.Date, start string) BookRequest {
	return BookRequest{
		ClinicID:  "clinic-1",
		DoctorID:  "doc-1",
		ServiceID: serviceID,
		Date:      date,
		Start:     model.MustClock(start),
		Patient:   Patient{Name: "Jane Doe", Email: "jane@example.com", Phone: "+966500000000"},
	}
}

func TestAvailableSlots_OpenDayNoBookings(t *testing.T) {
	arb, _ := newArbiter(t)
	slots, err := arb.AvailableSlots(context.Background(), "doc-1", monday, "svc-30")
	require.NoError(t, err)
	require.Len(t, slots, 16)
	assert.Equal(t, "09:00", slots[0].String())
	assert.Equal(t, "16:30", slots[15].String())
}

func TestAvailableSlots_ExistingLongAppointment(t *testing.T) {
	arb, _ := newArbiter(t)
	ctx := context.Background()
	_, err := arb.Book(ctx, bookReq("svc-45", monday, "10:00"))
	require.NoError(t, err)

	slots, err := arb.AvailableSlots(ctx, "doc-1", monday, "svc-30")
	require.NoError(t, err)
	got := clocks(slots)
	assert.NotContains(t, got, "10:00")
	assert.NotContains(t, got, "10:30")
	assert.Contains(t, got, "09:30")
	assert.Contains(t, got, "11:00")
}

func TestAvailableSlots_ClosedDay(t *testing.T) {
	arb, _ := newArbiter(t)
	ctx := context.Background()

	slots, err := arb.AvailableSlots(ctx, "doc-1", sunday, "svc-30")
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.NotNil(t, slots)

	slots, err = arb.AvailableSlots(ctx, "doc-1", sunday, "no-such-service")
	require.NoError(t, err, "a closed day answers before the service is looked up")
	assert.Empty(t, slots)

	slots, err = arb.AvailableSlots(ctx, "no-such-doctor", monday, "svc-30")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestAvailableSlots_UnknownService(t *testing.T) {
	arb, _ := newArbiter(t)
	_, err := arb.AvailableSlots(context.Background(), "doc-1", monday, "no-such-service")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "service", nf.Entity)
}

func TestAvailableSlots_ServiceNotOfferedAgreesWithBook(t *testing.T) {
	arb, store := newArbiter(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx, storage.Dataset{
		Doctors: []model.Doctor{{ID: "doc-2", ClinicID: "clinic-1", Name: "Dr. Omar Haddad", ServiceIDs: []string{"svc-30"}}},
		Hours:   []model.WorkingHours{{DoctorID: "doc-2", Day: model.Monday, Start: model.MustClock("09:00"), End: model.MustClock("17:00")}},
	}))

	slots, err := arb.AvailableSlots(ctx, "doc-2", monday, "svc-45")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "serviceId", ve.Field)
	assert.Empty(t, slots)

	req := bookReq("svc-45", monday, "09:00")
	req.DoctorID = "doc-2"
	_, err = arb.Book(ctx, req)
	require.ErrorAs(t, err, &ve)

	slots, err = arb.AvailableSlots(ctx, "doc-2", monday, "svc-30")
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	req = bookReq("svc-30", monday, slots[0].String())
	req.DoctorID = "doc-2"
	_, err = arb.Book(ctx, req)
	require.NoError(t, err, "an advertised slot must be bookable")
}

func TestAvailableSlots_AlignedToOpeningTime(t *testing.T) {
	arb, _ := newArbiter(t)
	ctx := context.Background()
	slots, err := arb.AvailableSlots(ctx, "doc-1", tuesday, "svc-20")
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	open := model.MustClock("09:15")
	for _, s := range slots {
		assert.Zero(t, int(s-open)%Granularity, "slot %s is off the grid", s)
	}

	_, err = arb.Book(ctx, bookReq("svc-30", tuesday, "09:30"))
	require.ErrorIs(t, err, ErrSlotOutsideWorkingHours)
}

func TestBook_EveryAvailableSlotCanBeTaken(t *testing.T) {
	arb, store := newArbiter(t)
	ctx := context.Background()

	services := []string{"svc-45", "svc-20", "svc-60", "svc-30"}
	for i := 0; ; i++ {
		svc := services[i%len(services)]
		slots, err := arb.AvailableSlots(ctx, "doc-1", monday, svc)
		require.NoError(t, err)
		if len(slots) == 0 {
			break
		}
		pick := slots[(i*7)%len(slots)]
		appt, err := arb.Book(ctx, bookReq(svc, monday, pick.String()))
		require.NoError(t, err, "slot %s for %s was advertised as free", pick, svc)

		after, err := arb.AvailableSlots(ctx, "doc-1", monday, svc)
		require.NoError(t, err)
		assert.NotContains(t, clocks(after), pick.String())
		assert.Equal(t, model.StatusConfirmed, appt.Status)
		require.Less(t, i, 64, "booking loop did not converge")
	}
	assertNoOverlaps(t, store, "doc-1", monday)
}

func TestBook_RejectsTimesOffTheGrid(t *testing.T) {
	arb, _ := newArbiter(t)
	ctx := context.Background()
	for _, tc := range []struct {
		date  model.Date
		start string
	}{
		{monday, "10:15"},
		{monday, "16:45"},
		{monday, "08:30"},
		{sunday, "10:00"},
	} {
		_, err := arb.Book(ctx, bookReq("svc-30", tc.date, tc.start))
		assert.ErrorIs(t, err, ErrSlotOutsideWorkingHours, "%s %s", tc.date, tc.start)
	}
	_, err := arb.Book(ctx, bookReq("svc-60", monday, "16:30"))
	assert.ErrorIs(t, err, ErrSlotOutsideWorkingHours, "60 minutes from 16:30 runs past closing")
}

func TestBook_ConflictWithOverlappingAppointment(t *testing.T) {
	arb, _ := newArbiter(t)
	ctx := context.Background()
	_, err := arb.Book(ctx, bookReq("svc-45", monday, "10:00"))
	require.NoError(t, err)

	_, err = arb.Book(ctx, bookReq("svc-30", monday, "10:30"))
	require.ErrorIs(t, err, ErrSlotAlreadyBooked)
	_, err = arb.Book(ctx, bookReq("svc-60", monday, "09:30"))
	require.ErrorIs(t, err, ErrSlotAlreadyBooked)
	_, err = arb.Book(ctx, bookReq("svc-30", monday, "11:00"))
	require.NoError(t, err)
}

func TestBook_ValidationAndReferences(t *testing.T) {
	arb, _ := newArbiter(t)
	ctx := context.Background()

	req := bookReq("svc-30", monday, "10:00")
	req.Patient.Email = "not-an-email"
	_, err := arb.Book(ctx, req)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "patientEmail", ve.Field)

	req = bookReq("svc-30", monday, "10:00")
	req.ClinicID = "clinic-2"
	_, err = arb.Book(ctx, req)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "doctor", nf.Entity)

	req = bookReq("svc-30", monday, "10:00")
	req.ClinicID = "missing"
	_, err = arb.Book(ctx, req)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "clinic", nf.Entity)

	_, err = arb.Book(ctx, bookReq("missing", monday, "10:00"))
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "service", nf.Entity)
}

func TestBook_ConcurrentSameSlot(t *testing.T) {
	arb, store := newArbiter(t)
	ctx := context.Background()

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := bookReq("svc-30", monday, "10:00")
			req.Patient.Name = fmt.Sprintf("Patient %d", i)
			_, err := arb.Book(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotAlreadyBooked):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	appts, err := store.ListAppointments(ctx, storage.AppointmentFilter{DoctorID: "doc-1", From: monday, To: monday})
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestBook_ConcurrentOverlappingIntervals(t *testing.T) {
	for round := 0; round < 20; round++ {
		arb, store := newArbiter(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		results := make([]error, 2)
		for i, req := range []BookRequest{bookReq("svc-45", monday, "10:00"), bookReq("svc-30", monday, "10:30")} {
			wg.Add(1)
			go func(i int, req BookRequest) {
				defer wg.Done()
				_, results[i] = arb.Book(ctx, req)
			}(i, req)
		}
		wg.Wait()

		failed := 0
		for _, err := range results {
			if err != nil {
				require.ErrorIs(t, err, ErrSlotAlreadyBooked)
				failed++
			}
		}
		require.Equal(t, 1, failed, "round %d", round)
		assertNoOverlaps(t, store, "doc-1", monday)
	}
}

func TestReschedule_ExcludesItself(t *testing.T) {
	arb, store := newArbiter(t)
	ctx := context.Background()
	x, err := arb.Book(ctx, bookReq("svc-30", monday, "10:00"))
	require.NoError(t, err)
	_, err = arb.Book(ctx, bookReq("svc-30", monday, "11:00"))
	require.NoError(t, err)

	_, err = arb.Reschedule(ctx, x.ID, monday, model.MustClock("11:00"))
	require.ErrorIs(t, err, ErrSlotAlreadyBooked)

	same, err := arb.Reschedule(ctx, x.ID, monday, model.MustClock("10:00"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusRescheduled, same.Status)

	moved, err := arb.Reschedule(ctx, x.ID, tuesday, model.MustClock("09:15"))
	require.NoError(t, err)
	assert.True(t, moved.Date.Equal(tuesday))
	assert.Equal(t, "09:15", moved.Start.String())

	slots, err := arb.AvailableSlots(ctx, "doc-1", monday, "svc-30")
	require.NoError(t, err)
	assert.Contains(t, clocks(slots), "10:00", "the old slot is released")
	assertNoOverlaps(t, store, "doc-1", tuesday)
}

func TestReschedule_OutsideHoursAndUnknown(t *testing.T) {
	arb, _ := newArbiter(t)
	ctx := context.Background()
	x, err := arb.Book(ctx, bookReq("svc-30", monday, "10:00"))
	require.NoError(t, err)

	_, err = arb.Reschedule(ctx, x.ID, sunday, model.MustClock("10:00"))
	require.ErrorIs(t, err, ErrSlotOutsideWorkingHours)

	_, err = arb.Reschedule(ctx, "missing", monday, model.MustClock("10:00"))
	require.True(t, IsNotFound(err), "got %v", err)
}

func TestUpdate_StatusTransitions(t *testing.T) {
	arb, _ := newArbiter(t)
	ctx := context.Background()
	x, err := arb.Book(ctx, bookReq("svc-30", monday, "10:00"))
	require.NoError(t, err)

	cancelled, err := arb.Cancel(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)

	y, err := arb.Book(ctx, bookReq("svc-30", monday, "10:00"))
	require.NoError(t, err, "cancelling releases the slot")

	confirmed := model.StatusConfirmed
	_, err = arb.Update(ctx, x.ID, Patch{Status: &confirmed})
	require.ErrorIs(t, err, ErrSlotAlreadyBooked, "reactivation re-runs the overlap check")

	completed := model.StatusCompleted
	done, err := arb.Update(ctx, y.ID, Patch{Status: &completed})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)

	_, err = arb.Reschedule(ctx, y.ID, monday, model.MustClock("11:00"))
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = arb.Update(ctx, x.ID, Patch{Status: &completed})
	require.ErrorIs(t, err, ErrInvalidTransition)

	bogus := model.Status("lost")
	_, err = arb.Update(ctx, x.ID, Patch{Status: &bogus})
	require.True(t, IsValidation(err))
}

func TestUpdate_AdministrativeFields(t *testing.T) {
	arb, _ := newArbiter(t)
	ctx := context.Background()
	x, err := arb.Book(ctx, bookReq("svc-30", monday, "10:00"))
	require.NoError(t, err)

	notes, archived, arrived := "bring reports", true, false
	got, err := arb.Update(ctx, x.ID, Patch{Notes: &notes, Archived: &archived, Arrived: &arrived})
	require.NoError(t, err)
	assert.Equal(t, "bring reports", got.Notes)
	assert.True(t, got.Archived)
	require.NotNil(t, got.Arrived)
	assert.False(t, *got.Arrived)
	assert.Equal(t, model.StatusConfirmed, got.Status)
}

func TestEventsWrittenWithChanges(t *testing.T) {
	arb, store := newArbiter(t)
	ctx := context.Background()
	x, err := arb.Book(ctx, bookReq("svc-30", monday, "10:00"))
	require.NoError(t, err)
	_, err = arb.Reschedule(ctx, x.ID, monday, model.MustClock("11:00"))
	require.NoError(t, err)
	_, err = arb.Cancel(ctx, x.ID)
	require.NoError(t, err)
	_, err = arb.Book(ctx, bookReq("svc-30", monday, "11:00"))
	require.NoError(t, err)
	_, err = arb.Book(ctx, bookReq("svc-30", monday, "11:00"))
	require.ErrorIs(t, err, ErrSlotAlreadyBooked)

	events := store.PendingEvents()
	require.Len(t, events, 4, "failed bookings write no events")
	assert.Equal(t, outbox.EventAppointmentBooked, events[0].EventType)
	assert.Equal(t, outbox.EventAppointmentRescheduled, events[1].EventType)
	assert.Equal(t, outbox.EventAppointmentCancelled, events[2].EventType)
	assert.Equal(t, outbox.EventAppointmentBooked, events[3].EventType)

	var payload AppointmentEvent
	require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
	assert.Equal(t, x.ID, payload.AppointmentID)
	assert.Equal(t, "Dr. Sarah Johnson", payload.DoctorName)
	assert.Equal(t, "Elite Medical Center", payload.ClinicName)
	assert.Equal(t, "11:00", payload.StartTime)
	assert.Equal(t, "11:30", payload.EndTime)
	assert.Equal(t, "10:00", payload.PreviousStartTime)
}

type failingStore struct {
	*storage.Memory
	err error
}

func (f failingStore) InDoctorDay(context.Context, string, model.Date, func(context.Context, storage.Tx) error) error {
	return f.err
}

func TestBook_StoreErrors(t *testing.T) {
	mem := storage.NewMemory()
	require.NoError(t, mem.Seed(context.Background(), fixture()))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	lost := errors.New("connection reset")
	arb := NewArbiter(failingStore{Memory: mem, err: lost}, logger, nil)
	_, err := arb.Book(context.Background(), bookReq("svc-30", monday, "10:00"))
	require.ErrorIs(t, err, lost)
	assert.NotErrorIs(t, err, ErrSlotAlreadyBooked)

	arb = NewArbiter(failingStore{Memory: mem, err: fmt.Errorf("insert appointment: %w", storage.ErrConflict)}, logger, nil)
	_, err = arb.Book(context.Background(), bookReq("svc-30", monday, "10:00"))
	require.ErrorIs(t, err, ErrSlotAlreadyBooked, "a constraint violation surfaces as a booking conflict")

	appts, err := mem.ListAppointments(context.Background(), storage.AppointmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, appts)
}

// interleavedStore runs between once, inside the first doctor-day transaction,
// either before that transaction reads anything or after it staged its writes.
type interleavedStore struct {
	*storage.Memory
	beforeRead bool
	between    func()
	fired      atomic.Bool
}

func (s *interleavedStore) InDoctorDay(ctx context.Context, doctorID string, date model.Date, fn func(context.Context, storage.Tx) error) error {
	return s.Memory.InDoctorDay(ctx, doctorID, date, func(ctx context.Context, tx storage.Tx) error {
		if s.beforeRead && s.fired.CompareAndSwap(false, true) {
			s.between()
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if !s.beforeRead && s.fired.CompareAndSwap(false, true) {
			s.between()
		}
		return nil
	})
}

func TestUpdate_DoesNotUndoConcurrentReschedule(t *testing.T) {
	arb, mem := newArbiter(t)
	ctx := context.Background()
	x, err := arb.Book(ctx, bookReq("svc-30", monday, "10:00"))
	require.NoError(t, err)

	store := &interleavedStore{Memory: mem, between: func() {
		_, err := arb.Reschedule(ctx, x.ID, nextMonday, model.MustClock("11:00"))
		require.NoError(t, err)
	}}
	patcher := NewArbiter(store, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	notes := "call before arrival"
	got, err := patcher.Update(ctx, x.ID, Patch{Notes: &notes})
	require.NoError(t, err)
	assert.True(t, got.Date.Equal(nextMonday), "reschedule was reverted to %s", got.Date)
	assert.Equal(t, "11:00", got.Start.String())
	assert.Equal(t, model.StatusRescheduled, got.Status)
	assert.Equal(t, notes, got.Notes)

	stored, err := mem.Appointment(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	events := mem.PendingEvents()
	require.Len(t, events, 3)
	assert.Equal(t, outbox.EventAppointmentRescheduled, events[1].EventType)
	assert.Equal(t, outbox.EventAppointmentUpdated, events[2].EventType)
}

func TestReschedule_StartOnlyFollowsConcurrentDateMove(t *testing.T) {
	arb, mem := newArbiter(t)
	ctx := context.Background()
	x, err := arb.Book(ctx, bookReq("svc-30", monday, "10:00"))
	require.NoError(t, err)
	_, err = arb.Book(ctx, bookReq("svc-60", nextMonday, "14:00"))
	require.NoError(t, err)

	store := &interleavedStore{Memory: mem, beforeRead: true, between: func() {
		_, err := arb.Reschedule(ctx, x.ID, nextMonday, model.MustClock("11:00"))
		require.NoError(t, err)
	}}
	patcher := NewArbiter(store, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	start := model.MustClock("14:00")
	_, err = patcher.Update(ctx, x.ID, Patch{Start: &start})
	require.ErrorIs(t, err, ErrSlotAlreadyBooked, "14:00 is free on the old day but taken on the day the appointment now sits on")
	assertNoOverlaps(t, mem, "doc-1", nextMonday)

	stored, err := mem.Appointment(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, "11:00", stored.Start.String())
}

func assertNoOverlaps(t *testing.T, store storage.Store, doctorID string, date model.Date) {
	t.Helper()
	booked, err := store.ActiveIntervals(context.Background(), doctorID, date)
	require.NoError(t, err)
	for i := range booked {
		for j := i + 1; j < len(booked); j++ {
			a, b := booked[i], booked[j]
			if a.Start < b.End() && b.Start < a.End() {
				t.Fatalf("overlapping appointments %s [%s,%s) and %s [%s,%s)",
					a.AppointmentID, a.Start, a.End(), b.AppointmentID, b.Start, b.End())
			}
		}
	}
}
