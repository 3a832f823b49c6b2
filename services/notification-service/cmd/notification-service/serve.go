package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/clinicbook/libs/db"
	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"github.com/md-rashed-zaman/clinicbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/clinicbook/libs/otel"
	"github.com/md-rashed-zaman/clinicbook/libs/runtime"
	"github.com/md-rashed-zaman/clinicbook/services/notification-service/internal/consumer"
	"github.com/md-rashed-zaman/clinicbook/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/clinicbook/services/notification-service/internal/inbox"
	"github.com/md-rashed-zaman/clinicbook/services/notification-service/internal/notify"
	"github.com/md-rashed-zaman/clinicbook/services/notification-service/internal/storage"
)

func run(ctx context.Context, cfg serviceConfig) error {
	logger := runtime.NewLogger(cfg.Service)

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		return fmt.Errorf("db connection failed: %w", err)
	}
	defer pool.Close()

	sender, err := newSender(cfg, logger)
	if err != nil {
		return err
	}
	renderer, err := email.NewRenderer()
	if err != nil {
		return err
	}
	processor := notify.NewProcessor(renderer, sender, storage.NewRepository(pool), logger)

	if len(kafkax.SplitBrokers(cfg.KafkaBrokers)) == 0 {
		logger.Warn("event consumer disabled (no kafka brokers configured)")
	} else {
		eventConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.GroupID,
			Topics:  cfg.Topics,
		}, processor.Handle)
		go eventConsumer.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler, "notification"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "email_provider", sender.ProviderID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	return nil
}

func newSender(cfg serviceConfig, logger *slog.Logger) (email.Sender, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		return email.NewSendGridSender(cfg.SendGrid)
	case "noop":
		return email.NewNoopSender(logger), nil
	default:
		return email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.From), nil
	}
}
