package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/md-rashed-zaman/clinicbook/libs/auth"
	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/storage"
)

// AppointmentsHandler is the staff dashboard API. Tokens carrying a clinic or
// doctor id only see appointments inside that scope.
type AppointmentsHandler struct {
	arbiter *availability.Arbiter
	store   storage.Store
	logger  *slog.Logger
}

func NewAppointmentsHandler(arbiter *availability.Arbiter, store storage.Store, logger *slog.Logger) *AppointmentsHandler {
	return &AppointmentsHandler{arbiter: arbiter, store: store, logger: logger}
}

type listAppointmentsResponse struct {
	Appointments []appointmentJSON `json:"appointments"`
	Limit        int               `json:"limit"`
	Offset       int               `json:"offset"`
}

type patchAppointmentRequest struct {
	Status    *string `json:"status"`
	Notes     *string `json:"notes"`
	Archived  *bool   `json:"archived"`
	Arrived   *bool   `json:"arrived"`
	Date      *string `json:"date"`
	StartTime *string `json:"startTime"`
}

// List handles GET /appointments. Archived appointments are hidden unless
// archived=true (only archived) or archived=all.
func (h *AppointmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	f, ok := parseFilter(w, r)
	if !ok {
		return
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		if claims.ClinicID != "" {
			f.ClinicID = claims.ClinicID
		}
		if claims.Role == auth.RoleDoctor && claims.DoctorID != "" {
			f.DoctorID = claims.DoctorID
		}
	}
	appts, err := h.store.ListAppointments(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := listAppointmentsResponse{Appointments: make([]appointmentJSON, 0, len(appts)), Limit: f.Limit, Offset: f.Offset}
	for _, a := range appts {
		out.Appointments = append(out.Appointments, toAppointmentJSON(a))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *AppointmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.load(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentJSON(appt))
}

// Patch handles PATCH /appointments/{id}. Moving date or startTime runs the
// same conflict check as a new booking.
func (h *AppointmentsHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var req patchAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}
	var p availability.Patch
	if req.Status != nil {
		st, ok := model.ParseStatus(strings.TrimSpace(*req.Status))
		if !ok {
			badRequest(w, "status", "must be one of confirmed, rescheduled, cancelled, completed")
			return
		}
		p.Status = &st
	}
	if req.Date != nil {
		d, err := model.ParseDate(strings.TrimSpace(*req.Date))
		if err != nil {
			badRequest(w, "date", "must be YYYY-MM-DD")
			return
		}
		p.Date = &d
	}
	if req.StartTime != nil {
		c, err := model.ParseClock(*req.StartTime)
		if err != nil {
			badRequest(w, "startTime", "must be HH:MM")
			return
		}
		p.Start = &c
	}
	p.Notes, p.Archived, p.Arrived = req.Notes, req.Archived, req.Arrived

	if _, ok := h.load(w, r); !ok {
		return
	}
	appt, err := h.arbiter.Update(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentJSON(appt))
}

// Delete cancels the appointment; rows are never removed.
func (h *AppointmentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}
	appt, err := h.arbiter.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentJSON(appt))
}

// load fetches the path appointment and hides it when it is outside the caller's scope.
func (h *AppointmentsHandler) load(w http.ResponseWriter, r *http.Request) (model.Appointment, bool) {
	id := chi.URLParam(r, "id")
	if !validID(id) {
		badRequest(w, "id", "must be a UUID")
		return model.Appointment{}, false
	}
	appt, err := h.store.Appointment(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, codeNotFound, "appointment not found")
		} else {
			writeDomainError(w, r, h.logger, err)
		}
		return model.Appointment{}, false
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && !inScope(claims, appt) {
		httpx.WriteError(w, http.StatusNotFound, codeNotFound, "appointment not found")
		return model.Appointment{}, false
	}
	return appt, true
}

func inScope(c *auth.Claims, a model.Appointment) bool {
	if c.ClinicID != "" && c.ClinicID != a.ClinicID {
		return false
	}
	if c.Role == auth.RoleDoctor && c.DoctorID != "" && c.DoctorID != a.DoctorID {
		return false
	}
	return true
}

func parseFilter(w http.ResponseWriter, r *http.Request) (storage.AppointmentFilter, bool) {
	q := r.URL.Query()
	f := storage.AppointmentFilter{
		ClinicID: strings.TrimSpace(q.Get("clinicId")),
		DoctorID: strings.TrimSpace(q.Get("doctorId")),
		Query:    strings.TrimSpace(q.Get("q")),
		Limit:    storage.DefaultListLimit,
	}
	if f.ClinicID != "" && !validID(f.ClinicID) {
		badRequest(w, "clinicId", "must be a UUID")
		return f, false
	}
	if f.DoctorID != "" && !validID(f.DoctorID) {
		badRequest(w, "doctorId", "must be a UUID")
		return f, false
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, ok := model.ParseStatus(raw)
		if !ok {
			badRequest(w, "status", "is not a known status")
			return f, false
		}
		f.Status = st
	}
	for _, p := range []struct {
		name string
		dst  *model.Date
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := strings.TrimSpace(q.Get(p.name))
		if raw == "" {
			continue
		}
		d, err := model.ParseDate(raw)
		if err != nil {
			badRequest(w, p.name, "must be YYYY-MM-DD")
			return f, false
		}
		*p.dst = d
	}

	switch strings.ToLower(strings.TrimSpace(q.Get("archived"))) {
	case "", "false":
		v := false
		f.Archived = &v
	case "true":
		v := true
		f.Archived = &v
	case "all":
	default:
		badRequest(w, "archived", "must be true, false or all")
		return f, false
	}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > storage.MaxListLimit {
			badRequest(w, "limit", "must be between 1 and "+strconv.Itoa(storage.MaxListLimit))
			return f, false
		}
		f.Limit = n
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, "offset", "must be a non-negative integer")
			return f, false
		}
		f.Offset = n
	}
	return f, true
}
