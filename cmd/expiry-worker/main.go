package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/appointment"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/config"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/db"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/directory"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/logging"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/notify"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/otp"
	redisclient "github.com/hhnhan98/telehealth-v2-sub006/internal/redis"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/schedule"
	"github.com/hhnhan98/telehealth-v2-sub006/internal/slots"
)

const (
	expiryBatch = 200
	// Reservations younger than this may still be waiting for their appointment row.
	orphanGrace = 2 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "dev")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "expiry-worker").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("expiry-worker starting up")

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

	// The worker never sends mail; it only revokes codes of expired bookings.
	codes := otp.NewService(redisclient.NewOTPStore(rdb), notify.NewLogSender(logger), otp.Config{
		TTL:            cfg.OTPTTL,
		ResendInterval: cfg.OTPResendInterval,
		MaxAttempts:    cfg.OTPMaxAttempts,
		Secret:         cfg.OTPSecret,
	}, logger)

	dirRepo := directory.NewPgRepository(pgPool)
	scheduleSvc := schedule.NewService(schedule.NewPgRepository(pgPool), dirRepo, catalog, cfg.Location(), logger)
	svc := appointment.NewService(appointment.NewPgRepository(pgPool), dirRepo, scheduleSvc, codes, nil, logger).WithMaxHold(cfg.PendingMaxHold)

	// Run once at startup
	runOnce(rootCtx, logger, svc, scheduleSvc)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, logger, svc, scheduleSvc)
		}
	}
}

func runOnce(ctx context.Context, logger zerolog.Logger, svc *appointment.Service, sched *schedule.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := svc.ExpirePendingAppointments(runCtx, expiryBatch)
	if err != nil {
		logger.Error().Err(err).Msg("expiry run error")
	}

	released, err := sched.ReleaseOrphaned(runCtx, orphanGrace)
	if err != nil {
		logger.Error().Err(err).Msg("orphan release error")
	}

	logger.Info().
		Int("expired", expired).
		Int64("released", released).
		Dur("took", time.Since(start)).
		Msg("expiry run complete")
}
