package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/otp"
)

// BookingHandler serves the public availability and booking endpoints.
type BookingHandler struct {
	arbiter    *availability.Arbiter
	otp        *otp.Service
	requireOTP bool
	logger     *slog.Logger
}

func NewBookingHandler(arbiter *availability.Arbiter, verifier *otp.Service, requireOTP bool, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{arbiter: arbiter, otp: verifier, requireOTP: requireOTP, logger: logger}
}

type createAppointmentRequest struct {
	ClinicID     string `json:"clinicId"`
	DoctorID     string `json:"doctorId"`
	ServiceID    string `json:"serviceId"`
	Date         string `json:"date"`
	StartTime    string `json:"startTime"`
	PatientName  string `json:"patientName"`
	PatientEmail string `json:"patientEmail"`
	PatientPhone string `json:"patientPhone"`
	Notes        string `json:"notes"`
}

type createAppointmentResponse struct {
	Success     bool            `json:"success"`
	Appointment appointmentJSON `json:"appointment"`
	Message     string          `json:"message"`
}

// AvailableSlots handles GET /available-slots?doctorId=&date=&serviceId=.
func (h *BookingHandler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doctorID := strings.TrimSpace(q.Get("doctorId"))
	serviceID := strings.TrimSpace(q.Get("serviceId"))
	rawDate := strings.TrimSpace(q.Get("date"))
	switch {
	case doctorID == "":
		badRequest(w, "doctorId", "is required")
		return
	case serviceID == "":
		badRequest(w, "serviceId", "is required")
		return
	case rawDate == "":
		badRequest(w, "date", "is required")
		return
	case !validID(doctorID):
		badRequest(w, "doctorId", "must be a UUID")
		return
	case !validID(serviceID):
		badRequest(w, "serviceId", "must be a UUID")
		return
	}
	date, err := model.ParseDate(rawDate)
	if err != nil {
		badRequest(w, "date", "must be YYYY-MM-DD")
		return
	}

	slots, err := h.arbiter.AvailableSlots(r.Context(), doctorID, date, serviceID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.String())
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// Create handles POST /appointments (and the /booking alias).
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}
	br, ok := req.toBookRequest(w)
	if !ok {
		return
	}

	if h.requireOTP {
		if strings.TrimSpace(req.PatientPhone) == "" {
			badRequest(w, "patientPhone", "is required")
			return
		}
		verified, err := h.otp.IsVerified(r.Context(), req.PatientPhone)
		if err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
		if !verified {
			httpx.WriteError(w, http.StatusForbidden, codePhoneNotVerified, "verify your phone number before booking")
			return
		}
	}

	appt, err := h.arbiter.Book(r.Context(), br)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, createAppointmentResponse{
		Success:     true,
		Appointment: toAppointmentJSON(appt),
		Message:     "Appointment booked successfully",
	})
}

func (req createAppointmentRequest) toBookRequest(w http.ResponseWriter) (availability.BookRequest, bool) {
	for _, f := range []struct{ name, value string }{
		{"clinicId", req.ClinicID},
		{"doctorId", req.DoctorID},
		{"serviceId", req.ServiceID},
	} {
		v := strings.TrimSpace(f.value)
		if v == "" {
			badRequest(w, f.name, "is required")
			return availability.BookRequest{}, false
		}
		if !validID(v) {
			badRequest(w, f.name, "must be a UUID")
			return availability.BookRequest{}, false
		}
	}
	date, err := model.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		badRequest(w, "date", "must be YYYY-MM-DD")
		return availability.BookRequest{}, false
	}
	start, err := model.ParseClock(strings.TrimSpace(req.StartTime))
	if err != nil {
		badRequest(w, "startTime", "must be HH:MM")
		return availability.BookRequest{}, false
	}
	return availability.BookRequest{
		ClinicID:  strings.TrimSpace(req.ClinicID),
		DoctorID:  strings.TrimSpace(req.DoctorID),
		ServiceID: strings.TrimSpace(req.ServiceID),
		Date:      date,
		Start:     start,
		Patient: availability.Patient{
			Name:  req.PatientName,
			Email: req.PatientEmail,
			Phone: req.PatientPhone,
		},
		Notes: strings.TrimSpace(req.Notes),
	}, true
}

func validID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
