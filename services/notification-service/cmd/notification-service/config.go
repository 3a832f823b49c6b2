package main

import (
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/clinicbook/libs/config"
	"github.com/md-rashed-zaman/clinicbook/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/clinicbook/services/notification-service/internal/events"
)

type serviceConfig struct {
	Service      string
	Port         string
	DatabaseURL  string
	KafkaBrokers string
	GroupID      string
	Topics       []string

	EmailProvider string
	SMTPHost      string
	SMTPPort      string
	From          string
	FromName      string
	SendGrid      email.SendGridConfig
}

func loadConfig() (serviceConfig, error) {
	cfg := serviceConfig{
		Service:       config.String("SERVICE_NAME", "notification-service"),
		KafkaBrokers:  config.String("KAFKA_BROKERS", ""),
		GroupID:       config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:        config.List("KAFKA_CONSUME_TOPICS"),
		EmailProvider: strings.ToLower(config.String("EMAIL_PROVIDER", "smtp")),
		SMTPHost:      config.String("SMTP_HOST", "mailpit"),
		SMTPPort:      config.String("SMTP_PORT", "1025"),
		From:          config.String("EMAIL_FROM", "no-reply@clinicbook.local"),
		FromName:      config.String("EMAIL_FROM_NAME", "ClinicBook"),
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = events.Topics
	}
	cfg.SendGrid = email.SendGridConfig{
		APIKey:    config.String("SENDGRID_API_KEY", ""),
		FromEmail: cfg.From,
		FromName:  cfg.FromName,
		BaseURL:   config.String("SENDGRID_BASE_URL", ""),
	}

	var err error
	if cfg.Port, err = config.Port("PORT", "8085"); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return cfg, err
	}
	switch cfg.EmailProvider {
	case "smtp", "sendgrid", "noop":
	default:
		return cfg, fmt.Errorf("EMAIL_PROVIDER must be one of smtp, sendgrid, noop (got %q)", cfg.EmailProvider)
	}
	return cfg, nil
}
