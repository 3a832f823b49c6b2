package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/clinicbook/libs/db"
	"github.com/md-rashed-zaman/clinicbook/libs/grpcx"
	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"github.com/md-rashed-zaman/clinicbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/clinicbook/libs/otel"
	"github.com/md-rashed-zaman/clinicbook/libs/runtime"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/otp"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/seed"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/sms"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/storage"
)

func runServer(ctx context.Context, cfg serviceConfig) error {
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

	var (
		store       storage.Store
		outboxSrc   outbox.Source
		readyChecks []runtime.ReadyCheck
	)
	if cfg.DatabaseURL == "" {
		mem := storage.NewMemory()
		if err := mem.Seed(ctx, seed.Demo()); err != nil {
			return fmt.Errorf("seed memory store: %w", err)
		}
		logger.Warn("DATABASE_URL not set; using in-memory store with demo data")
		store, outboxSrc = mem, mem
	} else {
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: int32(cfg.DBMaxConns)})
		if err != nil {
			return fmt.Errorf("db connection failed: %w", err)
		}
		defer pool.Close()
		store, outboxSrc = storage.NewPostgres(pool), outbox.NewRepository(pool)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
		})
		defer rdb.Close()
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	if cfg.KafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(reg)

	provider, err := newOTPProvider(cfg, rdb)
	if err != nil {
		return err
	}
	var markers otp.Markers
	if rdb != nil {
		markers = otp.NewRedisMarkers(rdb)
	}
	verifier := otp.NewService(provider, markers, otp.Config{
		CountryCode: cfg.OTPCountryCode,
		VerifiedTTL: cfg.OTPVerifiedTTL,
	}, logger, bookingMetrics)

	publisher := outbox.NewPublisher(outboxSrc, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: cfg.OutboxPoll,
		BatchSize: cfg.OutboxBatch,
	})
	go publisher.Run(ctx)

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; staff endpoints will reject every request")
	}
	router := handlers.NewRouter(handlers.Deps{
		Store:      store,
		Arbiter:    availability.NewArbiter(store, logger, bookingMetrics),
		OTP:        verifier,
		Logger:     logger,
		JWTSecret:  cfg.JWTSecret,
		RequireOTP: cfg.RequireOTP,
		OTPLimiter: newLimiter(rdb, cfg.OTPRateLimit, "rl:otp"),
	})
	runtime.RegisterHealth(router, readyChecks...)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpHandler := httpx.Chain(router,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRateLimit(newLimiter(rdb, cfg.RateLimit, "rl:api"), logger, true),
		httpx.WithBodyLimit(cfg.MaxBodyBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(httpHandler, "booking"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	logger.Info("http server starting", "addr", srv.Addr, "otp_provider", cfg.OTPProvider, "require_otp", cfg.RequireOTP)
	return serveUntilDone(ctx, logger, srv, grpcx.NewServer(logger), grpcLis)
}

const healthService = "clinicbook.booking.v1"

// serveUntilDone binds the HTTP listener, then reports SERVING on the gRPC
// health service, and blocks until ctx ends or the HTTP server fails.
func serveUntilDone(ctx context.Context, logger *slog.Logger, srv *http.Server, grpcSrv *grpcx.Server, grpcLis net.Listener) error {
	httpLis, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("http listen: %w", err)
	}

	go func() {
		logger.Info("grpc health server starting", "addr", grpcLis.Addr().String())
		if err := grpcSrv.Serve(grpcLis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	grpcSrv.SetServing(true, healthService)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		logger.Error("http server error", "err", serveErr)
	}

	grpcSrv.SetServing(false, healthService)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	grpcSrv.GracefulStop()
	logger.Info("servers stopped")
	return serveErr
}

func newOTPProvider(cfg serviceConfig, rdb *redis.Client) (otp.Provider, error) {
	switch cfg.OTPProvider {
	case otpTwilio:
		return otp.NewTwilioVerify(cfg.Twilio)
	case otpLocal:
		if rdb == nil {
			return nil, errors.New("OTP_PROVIDER=local requires REDIS_ADDR")
		}
		return otp.NewLocal(rdb, sms.NewSender(cfg.SMSWebhookURL, cfg.SMSWebhookKey), otp.LocalConfig{}), nil
	default:
		return nil, nil
	}
}

// newLimiter shares counters through Redis when available so every replica
// enforces the same window.
func newLimiter(rdb *redis.Client, perMinute int, prefix string) httpx.Limiter {
	if rdb != nil {
		return httpx.NewRedisRateLimiter(rdb, perMinute, time.Minute, prefix)
	}
	return httpx.NewRateLimiter(perMinute, time.Minute)
}
