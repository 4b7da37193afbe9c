package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/hospital-scheduling/internal/api"
	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/httpx"
	"github.com/hackgods/hospital-scheduling/internal/logging"
	redisclient "github.com/hackgods/hospital-scheduling/internal/redis"
	"github.com/hackgods/hospital-scheduling/internal/remote"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "appointment-service",
		Short: "Hospital appointment service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the appointment HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServer(cmd.Context(), cfg, logging.New(cfg.Env, cfg.LogLevel, "appointment-service"))
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the appointment store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := logging.New(cfg.Env, cfg.LogLevel, "appointment-service")

			pool, err := db.Connect(cmd.Context(), cfg.Pool())
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(cmd.Context(), pool, db.SchemaAppointment)
			if err != nil {
				return err
			}
			logger.Info().Strs("applied", applied).Msg("migrations complete")
			return nil
		},
	}
}

func runServer(rootCtx context.Context, cfg config.Config, logger zerolog.Logger) error {
	logger.Info().Str("env", cfg.Env).Str("port", cfg.HTTPPort).Str("sequencer", cfg.QueueSequencer).Msg("appointment-service starting up")

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pool, err := db.Connect(pgCtx, cfg.Pool())
	cancelPg()
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	svc := newAppointmentService(cfg, pool, redisclient.NewRedisLocker(rdb, cfg.LockTTL), sequencerFor(cfg, pool, rdb), logger)

	health := httpx.NewHealthHandler(cfg.Env, version).
		AddCheck("postgres", true, pool.Ping).
		AddCheck("redis", false, redisclient.PingCheck(rdb))

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service: svc,
			Health:  health,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return httpx.Serve(rootCtx, srv, cfg.ShutdownTimeout, logger)
}

func sequencerFor(cfg config.Config, pool *pgxpool.Pool, rdb *redis.Client) appointment.Sequencer {
	if cfg.QueueSequencer == config.SequencerRedis {
		return redisclient.NewQueueSequencer(rdb, 72*time.Hour)
	}
	return appointment.NewPgSequencer(pool)
}

func newAppointmentService(cfg config.Config, pool *pgxpool.Pool, locker redisclient.Locker, seq appointment.Sequencer, logger zerolog.Logger) *appointment.Service {
	repo := appointment.NewPgRepository(pool)

	opts := []appointment.Option{
		appointment.WithDirectory(appointment.NewCachedDirectory(repo, cfg.DirectoryCacheSize, cfg.DirectoryCacheTTL)),
		appointment.WithNoShowGrace(cfg.NoShowGrace),
	}
	if cfg.ScheduleServiceURL != "" {
		opts = append(opts, appointment.WithAvailability(remote.NewScheduleClient(cfg.ScheduleServiceURL, cfg.RemoteCallTimeout)))
	} else {
		logger.Warn().Msg("SCHEDULE_SERVICE_URL not set, bookings skip the availability check")
	}

	svc := appointment.NewService(repo, seq, locker, logger, opts...)
	svc.Hooks().Register(appointment.TransitionBulkCancel, appointment.Hook{
		Name: "notify-patient",
		After: func(ctx context.Context, a appointment.Appointment) {
			logging.WithRequest(ctx, logger).Info().
				Str("appointment_id", a.ID.String()).
				Str("patient_id", a.PatientID.String()).
				Msg("patient notified of doctor cancellation")
		},
	})
	return svc
}
