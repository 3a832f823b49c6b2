// Package otp verifies patient phone numbers with one-time codes before a booking is submitted.
package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/metrics"
)

const DefaultCountryCode = "966"

var (
	ErrDisabled         = errors.New("otp verification is not configured")
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrInvalidCode      = errors.New("code must be 4 to 10 digits")
	ErrTooManyAttempts  = errors.New("too many verification attempts")
	ErrProviderRejected = errors.New("otp provider rejected the request")
)

// Provider delivers and checks codes for an E.164 phone number.
type Provider interface {
	Send(ctx context.Context, phone string) (sid string, err error)
	Check(ctx context.Context, phone, code string) (approved bool, err error)
	Name() string
}

// NormalizePhone converts user input to E.164. Numbers without a leading '+'
// get countryCode; a national trunk '0' is dropped first.
func NormalizePhone(raw, countryCode string) (string, error) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	phone := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	switch {
	case strings.HasPrefix(phone, "+"):
	case strings.HasPrefix(phone, "0"):
		phone = "+" + countryCode + phone[1:]
	default:
		phone = "+" + countryCode + phone
	}

	digits := phone[1:]
	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrInvalidPhone
	}
	for _, r := range digits {
		if !unicode.IsDigit(r) {
			return "", ErrInvalidPhone
		}
	}
	return phone, nil
}

type Service struct {
	provider    Provider
	markers     Markers
	countryCode string
	verifiedTTL time.Duration
	logger      *slog.Logger
	metrics     *metrics.BookingMetrics
}

type Config struct {
	CountryCode string
	// VerifiedTTL is how long a successful verification lets the phone book.
	VerifiedTTL time.Duration
}

// NewService returns a service that answers ErrDisabled when provider is nil.
func NewService(provider Provider, markers Markers, cfg Config, logger *slog.Logger, m *metrics.BookingMetrics) *Service {
	if cfg.CountryCode == "" {
		cfg.CountryCode = DefaultCountryCode
	}
	if cfg.VerifiedTTL <= 0 {
		cfg.VerifiedTTL = 15 * time.Minute
	}
	if markers == nil {
		markers = NewMemoryMarkers()
	}
	return &Service{
		provider:    provider,
		markers:     markers,
		countryCode: strings.TrimPrefix(cfg.CountryCode, "+"),
		verifiedTTL: cfg.VerifiedTTL,
		logger:      logger,
		metrics:     m,
	}
}

func (s *Service) Enabled() bool { return s != nil && s.provider != nil }

type SendResult struct {
	Phone string
	SID   string
}

func (s *Service) Send(ctx context.Context, rawPhone string) (SendResult, error) {
	if !s.Enabled() {
		return SendResult{}, ErrDisabled
	}
	phone, err := NormalizePhone(rawPhone, s.countryCode)
	if err != nil {
		s.metrics.ObserveOTP("send", "invalid")
		return SendResult{}, err
	}
	sid, err := s.provider.Send(ctx, phone)
	if err != nil {
		s.metrics.ObserveOTP("send", "error")
		return SendResult{}, fmt.Errorf("send otp via %s: %w", s.provider.Name(), err)
	}
	s.metrics.ObserveOTP("send", "ok")
	s.logger.InfoContext(ctx, "otp sent", "provider", s.provider.Name(), "phone", mask(phone))
	return SendResult{Phone: phone, SID: sid}, nil
}

// Verify checks code and, when approved, marks the phone verified for VerifiedTTL.
func (s *Service) Verify(ctx context.Context, rawPhone, code string) (bool, error) {
	if !s.Enabled() {
		return false, ErrDisabled
	}
	phone, err := NormalizePhone(rawPhone, s.countryCode)
	if err != nil {
		s.metrics.ObserveOTP("verify", "invalid")
		return false, err
	}
	code = strings.TrimSpace(code)
	if !validCode(code) {
		s.metrics.ObserveOTP("verify", "invalid")
		return false, ErrInvalidCode
	}
	approved, err := s.provider.Check(ctx, phone, code)
	if err != nil {
		s.metrics.ObserveOTP("verify", "error")
		return false, err
	}
	if !approved {
		s.metrics.ObserveOTP("verify", "rejected")
		return false, nil
	}
	if err := s.markers.Mark(ctx, phone, s.verifiedTTL); err != nil {
		return false, fmt.Errorf("store verified marker: %w", err)
	}
	s.metrics.ObserveOTP("verify", "approved")
	s.logger.InfoContext(ctx, "otp verified", "provider", s.provider.Name(), "phone", mask(phone))
	return true, nil
}

// IsVerified reports whether the phone passed verification recently.
func (s *Service) IsVerified(ctx context.Context, rawPhone string) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	phone, err := NormalizePhone(rawPhone, s.countryCode)
	if err != nil {
		return false, nil
	}
	return s.markers.Has(ctx, phone)
}

func validCode(code string) bool {
	if len(code) < 4 || len(code) > 10 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func mask(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
