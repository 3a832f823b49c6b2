package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicbook/libs/db"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/outbox"
)

const appointmentColumns = `id, clinic_id, doctor_id, service_id, appointment_date, start_minute, duration_minutes,
	patient_name, patient_email, patient_phone, status, notes, archived, arrived, created_at, updated_at`

// Postgres is the production store. Writers of one (doctor, date) serialize on
// a transaction-scoped advisory lock; the appointments exclusion constraint is
// the last line of defense against overlaps.
type Postgres struct {
	db     db.DB
	outbox *outbox.Repository
}

func NewPostgres(conn db.DB) *Postgres {
	return &Postgres{db: conn, outbox: outbox.NewRepository(conn)}
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Postgres) Clinics(ctx context.Context) ([]model.Clinic, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, address FROM clinics ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Clinic
	for rows.Next() {
		var c model.Clinic
		if err := rows.Scan(&c.ID, &c.Name, &c.Address); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) Clinic(ctx context.Context, id string) (model.Clinic, error) {
	var c model.Clinic
	err := s.db.QueryRow(ctx, `SELECT id, name, address FROM clinics WHERE id = $1`, id).Scan(&c.ID, &c.Name, &c.Address)
	if err != nil {
		return model.Clinic{}, notFound(err, "clinic")
	}
	return c, nil
}

const doctorSelect = `
	SELECT d.id, d.clinic_id, d.name, d.specialty,
		COALESCE(array_agg(ds.service_id::text ORDER BY ds.service_id) FILTER (WHERE ds.service_id IS NOT NULL), '{}')
	FROM doctors d
	LEFT JOIN doctor_services ds ON ds.doctor_id = d.id`

func (s *Postgres) Doctors(ctx context.Context, clinicID string) ([]model.Doctor, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if clinicID == "" {
		rows, err = s.db.Query(ctx, doctorSelect+` GROUP BY d.id ORDER BY d.name, d.id`)
	} else {
		rows, err = s.db.Query(ctx, doctorSelect+` WHERE d.clinic_id = $1 GROUP BY d.id ORDER BY d.name, d.id`, clinicID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Doctor
	for rows.Next() {
		var d model.Doctor
		if err := rows.Scan(&d.ID, &d.ClinicID, &d.Name, &d.Specialty, &d.ServiceIDs); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Postgres) Doctor(ctx context.Context, id string) (model.Doctor, error) {
	var d model.Doctor
	err := s.db.QueryRow(ctx, doctorSelect+` WHERE d.id = $1 GROUP BY d.id`, id).
		Scan(&d.ID, &d.ClinicID, &d.Name, &d.Specialty, &d.ServiceIDs)
	if err != nil {
		return model.Doctor{}, notFound(err, "doctor")
	}
	return d, nil
}

func (s *Postgres) Services(ctx context.Context, doctorID string) ([]model.Service, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if doctorID == "" {
		rows, err = s.db.Query(ctx, `
			SELECT id, name, duration_minutes, price_cents
			FROM services
			ORDER BY name, id
		`)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT s.id, s.name, s.duration_minutes, s.price_cents
			FROM services s
			JOIN doctor_services ds ON ds.service_id = s.id
			WHERE ds.doctor_id = $1
			ORDER BY s.name, s.id
		`, doctorID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.PriceCents); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (s *Postgres) Service(ctx context.Context, id string) (model.Service, error) {
	var svc model.Service
	err := s.db.QueryRow(ctx, `
		SELECT id, name, duration_minutes, price_cents
		FROM services
		WHERE id = $1
	`, id).Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.PriceCents)
	if err != nil {
		return model.Service{}, notFound(err, "service")
	}
	return svc, nil
}

func (s *Postgres) WorkingHours(ctx context.Context, doctorID string, day model.Weekday) (model.WorkingHours, bool, error) {
	h := model.WorkingHours{DoctorID: doctorID, Day: day}
	var start, end int
	err := s.db.QueryRow(ctx, `
		SELECT start_minute, end_minute
		FROM working_hours
		WHERE doctor_id = $1 AND day_of_week = $2
	`, doctorID, string(day)).Scan(&start, &end)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkingHours{}, false, nil
	}
	if err != nil {
		return model.WorkingHours{}, false, err
	}
	h.Start, h.End = model.Clock(start), model.Clock(end)
	return h, true, nil
}

func (s *Postgres) WeeklyHours(ctx context.Context, doctorID string) ([]model.WorkingHours, error) {
	rows, err := s.db.Query(ctx, `
		SELECT day_of_week, start_minute, end_minute
		FROM working_hours
		WHERE doctor_id = $1
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WorkingHours
	for rows.Next() {
		var (
			day        string
			start, end int
		)
		if err := rows.Scan(&day, &start, &end); err != nil {
			return nil, err
		}
		out = append(out, model.WorkingHours{DoctorID: doctorID, Day: model.Weekday(day), Start: model.Clock(start), End: model.Clock(end)})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	sortHours(out)
	return out, nil
}

// sortHours orders by weekday, Monday first; day_of_week is stored as text.
func sortHours(hours []model.WorkingHours) {
	order := make(map[model.Weekday]int, len(model.Weekdays))
	for i, d := range model.Weekdays {
		order[d] = i
	}
	sort.Slice(hours, func(i, j int) bool { return order[hours[i].Day] < order[hours[j].Day] })
}

func (s *Postgres) Appointment(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(s.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return model.Appointment{}, notFound(err, "appointment")
	}
	return appt, nil
}

func (s *Postgres) ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	query, args, err := listAppointmentsQuery(f)
	if err != nil {
		return nil, fmt.Errorf("build appointment query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

func (s *Postgres) ActiveIntervals(ctx context.Context, doctorID string, date model.Date) ([]model.BookedInterval, error) {
	return activeIntervals(ctx, s.db, doctorID, date, "")
}

func (s *Postgres) InDoctorDay(ctx context.Context, doctorID string, date model.Date, fn func(context.Context, Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, doctorDayKey(doctorID, date)); err != nil {
		return fmt.Errorf("lock doctor day: %w", err)
	}
	if err := fn(ctx, &pgTx{tx: tx, outbox: s.outbox}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if IsConflict(err) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}
	return nil
}

func doctorDayKey(doctorID string, date model.Date) string {
	return "appointments:" + doctorID + ":" + date.String()
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) ActiveIntervals(ctx context.Context, doctorID string, date model.Date, excludeID string) ([]model.BookedInterval, error) {
	return activeIntervals(ctx, t.tx, doctorID, date, excludeID)
}

func (t *pgTx) AppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Appointment{}, notFound(err, "appointment")
	}
	return appt, nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt *model.Appointment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(clinic_id, doctor_id, service_id, appointment_date, start_minute, duration_minutes,
			 patient_name, patient_email, patient_phone, status, notes, archived, arrived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`, appt.ClinicID, appt.DoctorID, appt.ServiceID, appt.Date.Time(), int(appt.Start), appt.DurationMinutes,
		appt.PatientName, appt.PatientEmail, appt.PatientPhone, string(appt.Status), appt.Notes, appt.Archived, appt.Arrived,
	).Scan(&appt.ID, &appt.CreatedAt, &appt.UpdatedAt)
	return writeErr("insert appointment", err)
}

func (t *pgTx) UpdateAppointment(ctx context.Context, appt *model.Appointment) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
			start_minute = $3,
			duration_minutes = $4,
			status = $5,
			notes = $6,
			archived = $7,
			arrived = $8,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, appt.ID, appt.Date.Time(), int(appt.Start), appt.DurationMinutes, string(appt.Status), appt.Notes, appt.Archived, appt.Arrived,
	).Scan(&appt.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("appointment %s: %w", appt.ID, ErrNotFound)
	}
	return writeErr("update appointment", err)
}

func (t *pgTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

// Seed inserts the catalog, leaving existing rows untouched.
func (s *Postgres) Seed(ctx context.Context, data Dataset) error {
	if err := data.Validate(); err != nil {
		return err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, c := range data.Clinics {
		if _, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, address) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING
		`, c.ID, c.Name, c.Address); err != nil {
			return fmt.Errorf("seed clinic %s: %w", c.Name, err)
		}
	}
	for _, svc := range data.Services {
		if _, err := tx.Exec(ctx, `
			INSERT INTO services (id, name, duration_minutes, price_cents) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, svc.ID, svc.Name, svc.DurationMinutes, svc.PriceCents); err != nil {
			return fmt.Errorf("seed service %s: %w", svc.Name, err)
		}
	}
	for _, d := range data.Doctors {
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, clinic_id, name, specialty) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, d.ID, d.ClinicID, d.Name, d.Specialty); err != nil {
			return fmt.Errorf("seed doctor %s: %w", d.Name, err)
		}
		for _, svcID := range d.ServiceIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO doctor_services (doctor_id, service_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, d.ID, svcID); err != nil {
				return fmt.Errorf("seed doctor service: %w", err)
			}
		}
	}
	for _, h := range data.Hours {
		if _, err := tx.Exec(ctx, `
			INSERT INTO working_hours (doctor_id, day_of_week, start_minute, end_minute) VALUES ($1, $2, $3, $4)
			ON CONFLICT (doctor_id, day_of_week) DO NOTHING
		`, h.DoctorID, string(h.Day), int(h.Start), int(h.End)); err != nil {
			return fmt.Errorf("seed working hours: %w", err)
		}
	}
	return tx.Commit(ctx)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func activeIntervals(ctx context.Context, q querier, doctorID string, date model.Date, excludeID string) ([]model.BookedInterval, error) {
	rows, err := q.Query(ctx, `
		SELECT id, start_minute, duration_minutes
		FROM appointments
		WHERE doctor_id = $1
			AND appointment_date = $2
			AND status <> 'cancelled'
			AND ($3 = '' OR id::text <> $3)
		ORDER BY start_minute ASC
	`, doctorID, date.Time(), excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BookedInterval
	for rows.Next() {
		var (
			b     model.BookedInterval
			start int
		)
		if err := rows.Scan(&b.AppointmentID, &start, &b.DurationMinutes); err != nil {
			return nil, err
		}
		b.Start = model.Clock(start)
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		appt   model.Appointment
		date   time.Time
		start  int
		status string
	)
	err := row.Scan(&appt.ID, &appt.ClinicID, &appt.DoctorID, &appt.ServiceID, &date, &start, &appt.DurationMinutes,
		&appt.PatientName, &appt.PatientEmail, &appt.PatientPhone, &status, &appt.Notes, &appt.Archived, &appt.Arrived,
		&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Date = model.DateOf(date)
	appt.Start = model.Clock(start)
	appt.Status = model.Status(status)
	return appt, nil
}

func notFound(err error, entity string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return err
}

func writeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsConflict(err) {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
