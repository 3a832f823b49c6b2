package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/outbox"
)

func seeded(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	err := m.Seed(context.Background(), Dataset{
		Clinics:  []model.Clinic{{ID: "clinic-1", Name: "Elite Medical Center"}},
		Services: []model.Service{{ID: "svc-30", Name: "Consultation", DurationMinutes: 30}},
		Doctors:  []model.Doctor{{ID: "doc-1", ClinicID: "clinic-1", Name: "Dr. A", ServiceIDs: []string{"svc-30"}}},
		Hours: []model.WorkingHours{
			{DoctorID: "doc-1", Day: model.Monday, Start: model.MustClock("09:00"), End: model.MustClock("17:00")},
		},
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return m
}

func insert(ctx context.Context, m *Memory, start string) (model.Appointment, error) {
	appt := model.Appointment{
		ClinicID: "clinic-1", DoctorID: "doc-1", ServiceID: "svc-30", Date: monday,
		Start: model.MustClock(start), DurationMinutes: 30, Status: model.StatusConfirmed,
	}
	err := m.InDoctorDay(ctx, "doc-1", monday, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, outbox.Event{AggregateType: "appointment", AggregateID: appt.ID, EventType: outbox.EventAppointmentBooked})
	})
	return appt, err
}

func TestDatasetRejectsDuplicateWorkingHours(t *testing.T) {
	d := Dataset{
		Doctors: []model.Doctor{{ID: "doc-1"}},
		Hours: []model.WorkingHours{
			{DoctorID: "doc-1", Day: model.Monday, Start: model.MustClock("09:00"), End: model.MustClock("12:00")},
			{DoctorID: "doc-1", Day: model.Monday, Start: model.MustClock("13:00"), End: model.MustClock("17:00")},
		},
	}
	if err := NewMemory().Seed(context.Background(), d); err == nil {
		t.Fatal("expected duplicate working hours to be rejected")
	}
	d.Hours = []model.WorkingHours{{DoctorID: "ghost", Day: model.Monday, Start: 540, End: 600}}
	if err := d.Validate(); err == nil {
		t.Fatal("expected unknown doctor to be rejected")
	}
}

func TestMemoryCommitRejectsOverlap(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	if _, err := insert(ctx, m, "10:00"); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	_, err := insert(ctx, m, "10:00")
	if !IsConflict(err) {
		t.Fatalf("expected conflict backstop, got %v", err)
	}
	if got := len(m.PendingEvents()); got != 1 {
		t.Fatalf("rejected commit must not leave events, got %d", got)
	}
}

func TestMemoryRollbackOnError(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := m.InDoctorDay(ctx, "doc-1", monday, func(ctx context.Context, tx Tx) error {
		appt := model.Appointment{DoctorID: "doc-1", Date: monday, Start: 600, DurationMinutes: 30, Status: model.StatusConfirmed}
		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	booked, _ := m.ActiveIntervals(ctx, "doc-1", monday)
	if len(booked) != 0 {
		t.Fatalf("expected nothing committed, got %+v", booked)
	}
}

func TestMemoryTxSeesOwnWritesAndExcludes(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	first, err := insert(ctx, m, "10:00")
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	err = m.InDoctorDay(ctx, "doc-1", monday, func(ctx context.Context, tx Tx) error {
		appt, err := tx.AppointmentForUpdate(ctx, first.ID)
		if err != nil {
			return err
		}
		appt.Start = model.MustClock("11:00")
		if err := tx.UpdateAppointment(ctx, &appt); err != nil {
			return err
		}
		booked, err := tx.ActiveIntervals(ctx, "doc-1", monday, "")
		if err != nil {
			return err
		}
		if len(booked) != 1 || booked[0].Start.String() != "11:00" {
			t.Fatalf("expected staged move to be visible, got %+v", booked)
		}
		excluded, _ := tx.ActiveIntervals(ctx, "doc-1", monday, first.ID)
		if len(excluded) != 0 {
			t.Fatalf("expected appointment excluded, got %+v", excluded)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ := m.Appointment(ctx, first.ID)
	if got.Start.String() != "11:00" {
		t.Fatalf("expected committed move, got %s", got.Start)
	}
}

func TestMemoryConcurrentWritersSerialize(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := insert(ctx, m, "10:00")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else if !IsConflict(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one insert, got %d", ok)
	}
}

func TestMemoryListAppointments(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	for _, start := range []string{"09:00", "10:00", "11:00"} {
		if _, err := insert(ctx, m, start); err != nil {
			t.Fatalf("insert %s failed: %v", start, err)
		}
	}
	all, err := m.ListAppointments(ctx, AppointmentFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 appointments, got %d (%v)", len(all), err)
	}
	if all[0].Start.String() != "11:00" {
		t.Fatalf("expected newest slot first, got %s", all[0].Start)
	}
	page, _ := m.ListAppointments(ctx, AppointmentFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].Start.String() != "10:00" {
		t.Fatalf("unexpected page %+v", page)
	}
	archived := true
	if got, _ := m.ListAppointments(ctx, AppointmentFilter{Archived: &archived}); len(got) != 0 {
		t.Fatalf("expected no archived appointments, got %d", len(got))
	}
	if got, _ := m.ListAppointments(ctx, AppointmentFilter{From: monday.AddDays(1)}); len(got) != 0 {
		t.Fatalf("expected date filter to exclude monday, got %d", len(got))
	}
}

func TestMemoryPublishPending(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	for _, start := range []string{"09:00", "10:00", "11:00"} {
		if _, err := insert(ctx, m, start); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	err := m.PublishPending(ctx, 2, func(context.Context, []outbox.Record) error { return errors.New("broker down") })
	if err == nil {
		t.Fatal("expected publish error")
	}
	if got := len(m.PendingEvents()); got != 3 {
		t.Fatalf("failed publish must keep events, got %d", got)
	}

	var seen []outbox.Record
	collect := func(_ context.Context, recs []outbox.Record) error {
		seen = append(seen, recs...)
		return nil
	}
	if err := m.PublishPending(ctx, 2, collect); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := m.PublishPending(ctx, 2, collect); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(seen) != 3 || seen[0].ID != 1 || seen[2].ID != 3 || seen[0].EventID == "" {
		t.Fatalf("unexpected published records %+v", seen)
	}
	if got := len(m.PendingEvents()); got != 0 {
		t.Fatalf("expected outbox drained, got %d", got)
	}
}

func TestMemoryCommitRejectsStaleRead(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	appt, err := insert(ctx, m, "10:00")
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	later := model.MustDate("2026-03-09")

	err = m.InDoctorDay(ctx, "doc-1", monday, func(ctx context.Context, tx Tx) error {
		cur, err := tx.AppointmentForUpdate(ctx, appt.ID)
		if err != nil {
			return err
		}
		// Another writer moves the appointment under the other day's lock.
		moveErr := m.InDoctorDay(ctx, "doc-1", later, func(ctx context.Context, tx Tx) error {
			moved, err := tx.AppointmentForUpdate(ctx, appt.ID)
			if err != nil {
				return err
			}
			moved.Date = later
			moved.Status = model.StatusRescheduled
			return tx.UpdateAppointment(ctx, &moved)
		})
		if moveErr != nil {
			t.Fatalf("move failed: %v", moveErr)
		}
		cur.Notes = "call first"
		return tx.UpdateAppointment(ctx, &cur)
	})
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}

	got, err := m.Appointment(ctx, appt.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !got.Date.Equal(later) || got.Status != model.StatusRescheduled || got.Notes != "" {
		t.Fatalf("stale write leaked: %+v", got)
	}
	if n := len(m.PendingEvents()); n != 1 {
		t.Fatalf("expected only the booking event, got %d", n)
	}
}
