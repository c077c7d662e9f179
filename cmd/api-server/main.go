package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/api"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/appointment"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/auth"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/config"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/db"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/directory"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/logging"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/notify"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/observability/metrics"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/otp"
	redisclient "github.com/hhnhan98/telehealth-v2-sub006/internal/redis"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/schedule"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/slots"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "dev")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "api-server").Logger()
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	catalog, err := slots.Parse(cfg.SlotSessions, cfg.SlotGranularity)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid slot configuration")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg)

	var sender notify.EmailSender
	switch cfg.EmailProvider {
	case "sendgrid":
		sender = notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
			Timeout:   10 * time.Second,
		}, logger)
	default:
		sender = notify.NewLogSender(logger)
	}

	codes := otp.NewService(redisclient.NewOTPStore(rdb), sender, otp.Config{
		TTL:            cfg.OTPTTL,
		ResendInterval: cfg.OTPResendInterval,
		MaxAttempts:    cfg.OTPMaxAttempts,
		Secret:         cfg.OTPSecret,
	}, logger)

	dirRepo := directory.NewPgRepository(pgPool)
	scheduleSvc := schedule.NewService(schedule.NewPgRepository(pgPool), dirRepo, catalog, cfg.Location(), logger)
	appointmentSvc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		dirRepo,
		scheduleSvc,
		codes,
		bookingMetrics,
		logger,
	).WithMaxHold(cfg.PendingMaxHold)

	router := api.NewRouter(api.RouterConfig{
		Appointments: appointmentSvc,
		Schedule:     scheduleSvc,
		Directory:    dirRepo,
		Authenticate: auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer).Middleware,
		Health: api.NewHealthHandler(
			pgPool.Ping,
			func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			cfg.Env,
			version,
		),
		Logger:         logger,
		HTTPMetrics:    httpMetrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}

	logger.Info().Msg("api-server stopped")
}
