package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/otp"
)

type OTPHandler struct {
	otp    *otp.Service
	logger *slog.Logger
}

func NewOTPHandler(svc *otp.Service, logger *slog.Logger) *OTPHandler {
	return &OTPHandler{otp: svc, logger: logger}
}

type otpSendRequest struct {
	Phone string `json:"phoneNumber"`
}

type otpVerifyRequest struct {
	Phone string `json:"phoneNumber"`
	Code  string `json:"code"`
}

func (h *OTPHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req otpSendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		badRequest(w, "phoneNumber", "is required")
		return
	}
	res, err := h.otp.Send(r.Context(), req.Phone)
	if err != nil {
		writeOTPError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "sid": res.SID})
}

// Verify reports verified=false with 200 for a wrong code; only transport and
// input problems are errors.
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		badRequest(w, "phoneNumber", "is required")
		return
	}
	ok, err := h.otp.Verify(r.Context(), req.Phone, req.Code)
	if err != nil {
		writeOTPError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "verified": ok})
}
