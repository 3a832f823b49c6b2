package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicbook/libs/config"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/otp"
)

type serviceConfig struct {
	Service  string
	Port     string
	GRPCPort string

	// DatabaseURL empty runs on the in-memory store seeded with the demo catalog.
	DatabaseURL string
	DBMaxConns  int
	RedisAddr   string
	RedisPass   string

	KafkaBrokers string
	OutboxPoll   time.Duration
	OutboxBatch  int

	JWTSecret      string
	CORSOrigins    []string
	RateLimit      int
	OTPRateLimit   int
	MaxBodyBytes   int64
	RequestTimeout time.Duration

	RequireOTP     bool
	OTPProvider    string
	OTPCountryCode string
	OTPVerifiedTTL time.Duration
	Twilio         otp.TwilioConfig
	SMSWebhookURL  string
	SMSWebhookKey  string
}

const (
	otpDisabled = "disabled"
	otpTwilio   = "twilio"
	otpLocal    = "local"
)

func loadConfig() (serviceConfig, error) {
	cfg := serviceConfig{
		Service:        config.String("SERVICE_NAME", "booking-service"),
		DatabaseURL:    config.String("DATABASE_URL", ""),
		DBMaxConns:     config.Int("DB_MAX_CONNS", 10),
		RedisAddr:      config.String("REDIS_ADDR", ""),
		RedisPass:      config.String("REDIS_PASSWORD", ""),
		KafkaBrokers:   config.String("KAFKA_BROKERS", ""),
		OutboxPoll:     config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatch:    config.Int("OUTBOX_BATCH_SIZE", 50),
		JWTSecret:      config.String("JWT_SECRET", ""),
		CORSOrigins:    config.List("CORS_ALLOWED_ORIGINS"),
		RateLimit:      config.Int("RATE_LIMIT_PER_MINUTE", 120),
		OTPRateLimit:   config.Int("OTP_RATE_LIMIT_PER_MINUTE", 5),
		MaxBodyBytes:   int64(config.Int("HTTP_BODY_LIMIT_BYTES", 1<<20)),
		RequestTimeout: time.Duration(config.Int("HTTP_TIMEOUT_SECONDS", 15)) * time.Second,
		RequireOTP:     config.Bool("REQUIRE_OTP", false),
		OTPProvider:    strings.ToLower(config.String("OTP_PROVIDER", otpDisabled)),
		OTPCountryCode: config.String("OTP_DEFAULT_COUNTRY_CODE", otp.DefaultCountryCode),
		OTPVerifiedTTL: config.Duration("OTP_VERIFIED_TTL", 15*time.Minute),
		Twilio: otp.TwilioConfig{
			BaseURL:    config.String("TWILIO_VERIFY_URL", ""),
			AccountSID: config.String("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  config.String("TWILIO_AUTH_TOKEN", ""),
			ServiceSID: config.String("TWILIO_VERIFY_SERVICE_ID", ""),
		},
		SMSWebhookURL: config.String("SMS_WEBHOOK_URL", ""),
		SMSWebhookKey: config.String("SMS_WEBHOOK_TOKEN", ""),
	}

	var err error
	if cfg.Port, err = config.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9083"); err != nil {
		return cfg, err
	}

	switch cfg.OTPProvider {
	case otpDisabled, otpTwilio:
	case otpLocal:
		if cfg.RedisAddr == "" {
			return cfg, fmt.Errorf("OTP_PROVIDER=local requires REDIS_ADDR")
		}
	default:
		return cfg, fmt.Errorf("OTP_PROVIDER must be one of disabled, twilio, local (got %q)", cfg.OTPProvider)
	}
	if cfg.RequireOTP && cfg.OTPProvider == otpDisabled {
		return cfg, fmt.Errorf("REQUIRE_OTP needs an OTP_PROVIDER")
	}
	return cfg, nil
}
