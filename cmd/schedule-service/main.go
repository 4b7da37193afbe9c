package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/hospital-scheduling/internal/alert"
	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/httpx"
	"github.com/hackgods/hospital-scheduling/internal/logging"
	redisclient "github.com/hackgods/hospital-scheduling/internal/redis"
	"github.com/hackgods/hospital-scheduling/internal/remote"
	"github.com/hackgods/hospital-scheduling/internal/schedule"
	"github.com/hackgods/hospital-scheduling/internal/scheduleapi"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "schedule-service",
		Short: "Doctor schedule service and cancellation saga orchestrator",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(recoverCmd())
	rootCmd.AddCommand(reconcileCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// deps is everything the subcommands share once config is loaded.
type deps struct {
	cfg          config.Config
	logger       zerolog.Logger
	pool         *pgxpool.Pool
	service      *schedule.Service
	orchestrator *schedule.Orchestrator
	recovery     *schedule.Recovery
	health       *httpx.HealthHandler
	closers      []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func setup(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	d := &deps{cfg: cfg, logger: logging.New(cfg.Env, cfg.LogLevel, "schedule-service")}

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	d.pool, err = db.Connect(pgCtx, cfg.Pool())
	cancelPg()
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, d.pool.Close)
	d.logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.closers = append(d.closers, func() {
		if err := rdb.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("error closing redis")
		}
	})
	d.logger.Info().Msg("connected to Redis")

	notifiers := alert.Multi{alert.NewLogNotifier(d.logger)}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := alert.DialAMQP(cfg.AMQPURL, cfg.AlertExchange)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, func() { _ = amqpNotifier.Close() })
		notifiers = append(notifiers, amqpNotifier)
		d.logger.Info().Str("exchange", cfg.AlertExchange).Msg("publishing saga alerts to AMQP")
	}

	appointments := remote.NewRetryingAppointmentClient(
		remote.NewAppointmentClient(cfg.AppointmentServiceURL, cfg.RemoteCallTimeout),
		remote.RetryPolicy{
			MaxAttempts: cfg.RemoteMaxAttempts,
			BaseDelay:   cfg.RemoteBackoffBase,
			MaxDelay:    cfg.RemoteBackoffMax,
			CallTimeout: cfg.RemoteCallTimeout,
		},
		d.logger,
	)

	repo := schedule.NewPgRepository(d.pool)
	d.service = schedule.NewService(repo, appointments, d.logger)
	d.orchestrator = schedule.NewOrchestrator(repo, appointments, redisclient.NewRedisLocker(rdb, cfg.SagaLockTTL), notifiers, d.logger,
		schedule.WithCommitPolicy(schedule.CommitPolicy{
			MaxAttempts:      cfg.CommitMaxAttempts,
			BaseDelay:        cfg.RemoteBackoffBase,
			MaxDelay:         cfg.RemoteBackoffMax,
			StatementTimeout: cfg.SagaStatementTimeout,
		}),
		schedule.WithLeaseRenewal(cfg.SagaLeaseRenewal()))
	d.recovery = schedule.NewRecovery(repo, d.orchestrator, cfg.SagaStaleAfter, d.logger)

	d.health = httpx.NewHealthHandler(cfg.Env, version).
		AddCheck("postgres", true, d.pool.Ping).
		AddCheck("redis", true, redisclient.PingCheck(rdb))

	return d, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the schedule HTTP API and the saga recovery loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := setup(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			d.logger.Info().
				Str("env", d.cfg.Env).
				Str("port", d.cfg.HTTPPort).
				Str("appointment_service", d.cfg.AppointmentServiceURL).
				Msg("schedule-service starting up")

			// sagas a previous process left behind are picked up before traffic arrives
			if n, err := d.recovery.ResumeStale(ctx); err != nil {
				d.logger.Error().Err(err).Msg("startup saga recovery failed")
			} else if n > 0 {
				d.logger.Info().Int("resumed", n).Msg("startup saga recovery")
			}
			go d.recovery.Run(ctx, d.cfg.RecoveryInterval)

			srv := &http.Server{
				Addr: ":" + d.cfg.HTTPPort,
				Handler: scheduleapi.NewRouter(scheduleapi.RouterConfig{
					Service:      d.service,
					Orchestrator: d.orchestrator,
					Health:       d.health,
					Logger:       d.logger,
				}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return httpx.Serve(ctx, srv, d.cfg.ShutdownTimeout, d.logger)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schedule store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := logging.New(cfg.Env, cfg.LogLevel, "schedule-service")

			pool, err := db.Connect(cmd.Context(), cfg.Pool())
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(cmd.Context(), pool, db.SchemaSchedule)
			if err != nil {
				return err
			}
			logger.Info().Strs("applied", applied).Msg("migrations complete")
			return nil
		},
	}
}

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Resume stale in-flight sagas once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			n, err := d.recovery.ResumeStale(cmd.Context())
			if err != nil {
				return err
			}
			d.logger.Info().Int("resumed", n).Msg("recovery complete")
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Retry compensation for a saga parked in COMPENSATION_FAILED",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("saga")
			sagaID, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("--saga must be a UUID: %w", err)
			}

			d, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			rec, err := d.orchestrator.Reconcile(cmd.Context(), sagaID)
			if err != nil {
				return err
			}
			d.logger.Info().
				Str("saga_id", rec.ID.String()).
				Str("phase", string(rec.Phase)).
				Int("restored", rec.RestoredCount).
				Msg("saga reconciled")
			return nil
		},
	}
	cmd.Flags().String("saga", "", "ID of the saga to reconcile")
	_ = cmd.MarkFlagRequired("saga")
	return cmd
}
