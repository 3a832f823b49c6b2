package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/otp"
)

const (
	codeValidation        = "VALIDATION_ERROR"
	codeInvalidJSON       = "INVALID_JSON"
	codeNotFound          = "NOT_FOUND"
	codeSlotAlreadyBooked = "SLOT_ALREADY_BOOKED"
	codeOutsideHours      = "SLOT_OUTSIDE_WORKING_HOURS"
	codeInvalidTransition = "INVALID_STATUS_TRANSITION"
	codePhoneNotVerified  = "PHONE_NOT_VERIFIED"
	codeInternal          = "INTERNAL_ERROR"
)

// writeDomainError maps arbiter errors to HTTP responses. Anything unrecognised
// is a store failure: logged and reported as 500 so callers never assume success.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		ve *availability.ValidationError
		nf *availability.NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		httpx.WriteError(w, http.StatusBadRequest, codeValidation, ve.Error())
	case errors.As(err, &nf):
		httpx.WriteError(w, http.StatusNotFound, codeNotFound, nf.Entity+" not found")
	case errors.Is(err, availability.ErrSlotAlreadyBooked):
		httpx.WriteError(w, http.StatusConflict, codeSlotAlreadyBooked, "This time slot is no longer available. Please choose another slot.")
	case errors.Is(err, availability.ErrSlotOutsideWorkingHours):
		httpx.WriteError(w, http.StatusUnprocessableEntity, codeOutsideHours, "The requested time is not a bookable slot for this doctor on that date.")
	case errors.Is(err, availability.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, codeInvalidTransition, err.Error())
	default:
		logger.ErrorContext(r.Context(), "request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()), "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func writeOTPError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, otp.ErrDisabled):
		httpx.WriteError(w, http.StatusServiceUnavailable, "OTP_DISABLED", "phone verification is not available")
	case errors.Is(err, otp.ErrInvalidPhone):
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_PHONE", err.Error())
	case errors.Is(err, otp.ErrInvalidCode):
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_CODE", err.Error())
	case errors.Is(err, otp.ErrTooManyAttempts):
		httpx.WriteError(w, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "too many attempts, request a new code")
	default:
		logger.ErrorContext(r.Context(), "otp provider failed",
			"request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
		httpx.WriteError(w, http.StatusBadGateway, "OTP_PROVIDER_ERROR", "failed to reach the verification provider")
	}
}

func badRequest(w http.ResponseWriter, field, reason string) {
	httpx.WriteError(w, http.StatusBadRequest, codeValidation, field+": "+reason)
}
