package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/storage"
)

// CatalogHandler serves the read-only clinic, doctor and service listings.
type CatalogHandler struct {
	store  storage.Catalog
	logger *slog.Logger
}

func NewCatalogHandler(store storage.Catalog, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{store: store, logger: logger}
}

func (h *CatalogHandler) Clinics(w http.ResponseWriter, r *http.Request) {
	clinics, err := h.store.Clinics(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make([]clinicJSON, 0, len(clinics))
	for _, c := range clinics {
		doctors, err := h.store.Doctors(r.Context(), c.ID)
		if err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
		cj := clinicJSON{ID: c.ID, Name: c.Name, Address: c.Address, Doctors: []doctorJSON{}}
		for _, d := range doctors {
			cj.Doctors = append(cj.Doctors, toDoctorJSON(d))
		}
		out = append(out, cj)
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *CatalogHandler) Doctors(w http.ResponseWriter, r *http.Request) {
	clinicID := strings.TrimSpace(r.URL.Query().Get("clinicId"))
	if clinicID != "" && !validID(clinicID) {
		badRequest(w, "clinicId", "must be a UUID")
		return
	}
	doctors, err := h.store.Doctors(r.Context(), clinicID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make([]doctorJSON, 0, len(doctors))
	for _, d := range doctors {
		out = append(out, toDoctorJSON(d))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *CatalogHandler) Doctor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(id) {
		badRequest(w, "id", "must be a UUID")
		return
	}
	doc, err := h.store.Doctor(r.Context(), id)
	if err != nil {
		h.writeLookupErr(w, r, err, "doctor")
		return
	}
	services, err := h.store.Services(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := toDoctorJSON(doc)
	out.Services = make([]serviceJSON, 0, len(services))
	for _, s := range services {
		out.Services = append(out.Services, toServiceJSON(s))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// WorkingHours returns the doctor's weekly schedule keyed by weekday name.
// Days without a row are omitted; they are closed.
func (h *CatalogHandler) WorkingHours(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(id) {
		badRequest(w, "id", "must be a UUID")
		return
	}
	if _, err := h.store.Doctor(r.Context(), id); err != nil {
		h.writeLookupErr(w, r, err, "doctor")
		return
	}
	rows, err := h.store.WeeklyHours(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make(map[model.Weekday]hoursJSON, len(rows))
	for _, wh := range rows {
		out[wh.Day] = hoursJSON{Start: wh.Start.String(), End: wh.End.String()}
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *CatalogHandler) Services(w http.ResponseWriter, r *http.Request) {
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctorId"))
	if doctorID != "" && !validID(doctorID) {
		badRequest(w, "doctorId", "must be a UUID")
		return
	}
	services, err := h.store.Services(r.Context(), doctorID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make([]serviceJSON, 0, len(services))
	for _, s := range services {
		out = append(out, toServiceJSON(s))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *CatalogHandler) writeLookupErr(w http.ResponseWriter, r *http.Request, err error, entity string) {
	if storage.IsNotFound(err) {
		httpx.WriteError(w, http.StatusNotFound, codeNotFound, entity+" not found")
		return
	}
	writeDomainError(w, r, h.logger, err)
}
