package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/logging"
	"github.com/hackgods/hospital-scheduling/internal/schedule"
)

var departments = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type seedOptions struct {
	appointmentDSN string
	scheduleDSN    string
	doctors        int
	patients       int
	days           int
	start          string
}

func main() {
	opts := seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the appointment directory and the schedule store with fake data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"), "seed"))
		},
	}
	cmd.Flags().StringVar(&opts.appointmentDSN, "appointment-dsn", os.Getenv("APPOINTMENT_POSTGRES_DSN"), "appointment service database")
	cmd.Flags().StringVar(&opts.scheduleDSN, "schedule-dsn", os.Getenv("SCHEDULE_POSTGRES_DSN"), "schedule service database, empty skips schedules")
	cmd.Flags().IntVar(&opts.doctors, "doctors", 100, "number of doctors")
	cmd.Flags().IntVar(&opts.patients, "patients", 9000, "number of patients")
	cmd.Flags().IntVar(&opts.days, "days", 7, "working days to schedule per doctor")
	cmd.Flags().StringVar(&opts.start, "start", time.Now().Format(time.DateOnly), "first scheduled day")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedOptions, logger zerolog.Logger) error {
	if opts.appointmentDSN == "" {
		return errors.New("--appointment-dsn or APPOINTMENT_POSTGRES_DSN is required")
	}
	start, err := time.Parse(time.DateOnly, opts.start)
	if err != nil {
		return fmt.Errorf("--start must be YYYY-MM-DD: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.Connect(connectCtx, db.PoolConfig{DSN: opts.appointmentDSN})
	if err != nil {
		return err
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctors, err := seedDoctors(ctx, pool, opts.doctors, logger)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	if err := seedPatients(ctx, pool, opts.patients, logger); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	if opts.scheduleDSN != "" {
		schedPool, err := db.Connect(connectCtx, db.PoolConfig{DSN: opts.scheduleDSN, MaxConns: 4})
		if err != nil {
			return err
		}
		defer schedPool.Close()

		if err := seedSchedules(ctx, schedule.NewPgRepository(schedPool), doctors, start, opts.days, logger); err != nil {
			return fmt.Errorf("seed schedules: %w", err)
		}
	}

	logger.Info().Msg("seed complete")
	return nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		dept := departments[gofakeit.Number(0, len(departments)-1)]

		if _, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, department, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, dept); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info().Msg("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			if _, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email()); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}

// seedSchedules gives every doctor a schedule on each of the next working
// days. Weekends are skipped.
func seedSchedules(ctx context.Context, repo schedule.Repository, doctors []uuid.UUID, start time.Time, days int, logger zerolog.Logger) error {
	shifts := [][2]string{{"08:00", "16:00"}, {"09:00", "17:00"}, {"12:00", "20:00"}}

	created := 0
	for _, doctorID := range doctors {
		shift := shifts[gofakeit.Number(0, len(shifts)-1)]
		day := start
		for n := 0; n < days; day = day.AddDate(0, 0, 1) {
			if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			n++

			_, err := repo.CreateSchedule(ctx, &schedule.Schedule{
				StaffID:   doctorID,
				Day:       day,
				StartTime: shift[0],
				EndTime:   shift[1],
				Status:    schedule.StatusAvailable,
				CreatedBy: "seed",
				UpdatedBy: "seed",
			})
			if err != nil && !errors.Is(err, schedule.ErrScheduleExists) {
				return err
			}
			created++
		}
	}

	logger.Info().Int("schedules", created).Int("doctors", len(doctors)).Msg("schedules seeded")
	return nil
}
