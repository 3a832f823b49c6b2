package handlers

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/md-rashed-zaman/clinicbook/libs/auth"
	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/otp"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/storage"
)

type Deps struct {
	Store     storage.Store
	Arbiter   *availability.Arbiter
	OTP       *otp.Service
	Logger    *slog.Logger
	JWTSecret string
	// RequireOTP rejects public bookings whose phone has not been verified.
	RequireOTP bool
	// OTPLimiter throttles /otp requests per client when set.
	OTPLimiter httpx.Limiter
}

// NewRouter mounts the public and staff APIs under /api/v1.
func NewRouter(d Deps) chi.Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	catalog := NewCatalogHandler(d.Store, d.Logger)
	booking := NewBookingHandler(d.Arbiter, d.OTP, d.RequireOTP, d.Logger)
	admin := NewAppointmentsHandler(d.Arbiter, d.Store, d.Logger)
	verify := NewOTPHandler(d.OTP, d.Logger)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/clinics", catalog.Clinics)
		r.Get("/doctors", catalog.Doctors)
		r.Get("/doctors/{id}", catalog.Doctor)
		r.Get("/doctors/{id}/working-hours", catalog.WorkingHours)
		r.Get("/services", catalog.Services)

		r.Get("/available-slots", booking.AvailableSlots)
		r.Post("/booking", booking.Create)

		r.Group(func(r chi.Router) {
			if d.OTPLimiter != nil {
				r.Use(httpx.WithRateLimit(d.OTPLimiter, d.Logger, false))
			}
			r.Post("/otp/send", verify.Send)
			r.Post("/otp/verify", verify.Verify)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", booking.Create)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(d.JWTSecret))
				r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleStaff, auth.RoleDoctor)).Get("/", admin.List)
				r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleStaff, auth.RoleDoctor)).Get("/{id}", admin.Get)
				r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleStaff)).Patch("/{id}", admin.Patch)
				r.With(auth.RequireRole(auth.RoleAdmin)).Delete("/{id}", admin.Delete)
			})
		})
	})
	return r
}
