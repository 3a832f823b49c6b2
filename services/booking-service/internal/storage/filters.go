package storage

import (
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
)

var pg = goqu.Dialect("postgres")

var listColumns = []any{
	"id", "clinic_id", "doctor_id", "service_id", "appointment_date", "start_minute", "duration_minutes",
	"patient_name", "patient_email", "patient_phone", "status", "notes", "archived", "arrived", "created_at", "updated_at",
}

// listAppointmentsQuery builds the admin listing query with positional arguments.
func listAppointmentsQuery(f AppointmentFilter) (string, []any, error) {
	var where []exp.Expression
	if f.ClinicID != "" {
		where = append(where, goqu.C("clinic_id").Eq(f.ClinicID))
	}
	if f.DoctorID != "" {
		where = append(where, goqu.C("doctor_id").Eq(f.DoctorID))
	}
	if f.Status != "" {
		where = append(where, goqu.C("status").Eq(string(f.Status)))
	}
	if !f.From.IsZero() {
		where = append(where, goqu.C("appointment_date").Gte(f.From.Time()))
	}
	if !f.To.IsZero() {
		where = append(where, goqu.C("appointment_date").Lte(f.To.Time()))
	}
	if f.Archived != nil {
		where = append(where, goqu.C("archived").Eq(*f.Archived))
	}
	if f.Query != "" {
		pattern := "%" + escapeLike(f.Query) + "%"
		where = append(where, goqu.Or(
			goqu.C("patient_name").ILike(pattern),
			goqu.C("patient_email").ILike(pattern),
			goqu.C("patient_phone").ILike(pattern),
		))
	}

	ds := pg.From("appointments").
		Prepared(true).
		Select(listColumns...).
		Where(where...).
		Order(goqu.C("appointment_date").Desc(), goqu.C("start_minute").Desc(), goqu.C("id").Asc()).
		Limit(uint(f.limit()))
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}
	return ds.ToSQL()
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
