package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/hospital-scheduling/internal/api"
	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/httpx"
	"github.com/hackgods/hospital-scheduling/internal/logging"
	"github.com/hackgods/hospital-scheduling/internal/scheduleapi"
)

type SimConfig struct {
	AppointmentURL string
	ScheduleURL    string
	PostgresDSN    string
	Duration       time.Duration
	Workers        int
	WalkInRatio    float64
	PatientLimit   int
	SkipCancel     bool
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	return sum / time.Duration(len(latencies)),
		latencies[len(latencies)*50/100],
		latencies[min(len(latencies)*95/100, len(latencies)-1)],
		latencies[len(latencies)-1]
}

type Metrics struct {
	WalkIn    OperationMetrics
	Scheduled OperationMetrics
	Queue     OperationMetrics
}

// Simulator drives one doctor's day: concurrent walk-ins and timed bookings,
// then a schedule cancellation through the saga.
type Simulator struct {
	config   SimConfig
	client   *http.Client
	logger   zerolog.Logger
	doctorID uuid.UUID
	patients []uuid.UUID
	metrics  Metrics
}

func main() {
	cfg := SimConfig{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Load one doctor's day with concurrent bookings, then cancel it",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"), "simulate")
			return run(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&cfg.AppointmentURL, "appointments", envOr("SIM_APPOINTMENT_URL", "http://localhost:8080"), "appointment service base URL")
	cmd.Flags().StringVar(&cfg.ScheduleURL, "schedules", envOr("SIM_SCHEDULE_URL", "http://localhost:8081"), "schedule service base URL")
	cmd.Flags().StringVar(&cfg.PostgresDSN, "dsn", os.Getenv("POSTGRES_DSN"), "appointment database, used to pick a doctor and patients")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 20*time.Second, "load phase duration")
	cmd.Flags().IntVar(&cfg.Workers, "workers", 10, "concurrent clients")
	cmd.Flags().Float64Var(&cfg.WalkInRatio, "walk-in-ratio", 0.6, "share of requests that are walk-ins")
	cmd.Flags().IntVar(&cfg.PatientLimit, "patients", 4000, "patients to sample from")
	cmd.Flags().BoolVar(&cfg.SkipCancel, "skip-cancel", false, "leave the day booked")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg SimConfig, logger zerolog.Logger) error {
	if cfg.PostgresDSN == "" {
		return errors.New("--dsn or POSTGRES_DSN is required")
	}
	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		return errors.New("workers and duration must be > 0")
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := db.Connect(loadCtx, db.PoolConfig{DSN: cfg.PostgresDSN, MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	if err := sim.loadPeople(loadCtx, pool); err != nil {
		return err
	}
	logger.Info().Str("doctor_id", sim.doctorID.String()).Int("patients", len(sim.patients)).Msg("loaded directory")

	scheduleID, err := sim.ensureSchedule(ctx)
	if err != nil {
		return err
	}

	sim.load(ctx)
	if err := sim.checkQueue(ctx); err != nil {
		return err
	}
	sim.PrintReport()

	if cfg.SkipCancel {
		return nil
	}
	return sim.cancelDay(ctx, scheduleID)
}

func (s *Simulator) loadPeople(ctx context.Context, pool *pgxpool.Pool) error {
	if err := pool.QueryRow(ctx, `SELECT id FROM doctors ORDER BY random() LIMIT 1`).Scan(&s.doctorID); err != nil {
		return fmt.Errorf("pick doctor: %w", err)
	}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, s.config.PatientLimit)
	if err != nil {
		return fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		s.patients = append(s.patients, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(s.patients) == 0 {
		return errors.New("no patients loaded, run seed first")
	}
	return nil
}

// ensureSchedule opens today for the doctor, reusing an existing schedule.
func (s *Simulator) ensureSchedule(ctx context.Context) (uuid.UUID, error) {
	today := time.Now().Format(time.DateOnly)

	var created scheduleapi.ScheduleResponse
	status, err := s.call(ctx, http.MethodPost, s.config.ScheduleURL+"/schedules", scheduleapi.CreateScheduleRequest{
		StaffID:   s.doctorID.String(),
		Date:      today,
		StartTime: "00:00",
		EndTime:   "23:59",
	}, &created)
	if err != nil {
		return uuid.Nil, err
	}
	if status == http.StatusCreated {
		return created.ID, nil
	}
	if status != http.StatusConflict {
		return uuid.Nil, fmt.Errorf("create schedule: status %d", status)
	}

	var list struct {
		Items []scheduleapi.ScheduleResponse `json:"items"`
	}
	url := fmt.Sprintf("%s/schedules?staff_id=%s&from=%s&to=%s", s.config.ScheduleURL, s.doctorID, today, today)
	if _, err := s.call(ctx, http.MethodGet, url, nil, &list); err != nil {
		return uuid.Nil, err
	}
	if len(list.Items) != 1 || list.Items[0].Status == "CANCELLED" {
		return uuid.Nil, fmt.Errorf("doctor %s has no usable schedule today", s.doctorID)
	}
	return list.Items[0].ID, nil
}

func (s *Simulator) load(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting load")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(runCtx, rand.New(rand.NewSource(time.Now().UnixNano()+int64(workerID))))
		}(i)
	}
	wg.Wait()

	s.logger.Info().Msg("load complete")
}

func (s *Simulator) worker(ctx context.Context, rng *rand.Rand) {
	for ctx.Err() == nil {
		patient := s.patients[rng.Intn(len(s.patients))].String()
		start := time.Now()

		if rng.Float64() < s.config.WalkInRatio {
			req := api.WalkInRequest{PatientID: patient, DoctorID: s.doctorID.String()}
			if rng.Intn(10) == 0 {
				reason := string(appointment.PriorityReasonEmergency)
				req.PriorityReason = &reason
			}
			status, err := s.call(ctx, http.MethodPost, s.config.AppointmentURL+"/appointments/walk-ins", req, nil)
			s.metrics.WalkIn.Record(time.Since(start), status, err)
			continue
		}

		// a random quarter hour later today, so collisions are frequent
		slot := time.Now().Truncate(15 * time.Minute).Add(time.Duration(1+rng.Intn(24)) * 15 * time.Minute)
		status, err := s.call(ctx, http.MethodPost, s.config.AppointmentURL+"/appointments", api.CreateAppointmentRequest{
			PatientID:       patient,
			DoctorID:        s.doctorID.String(),
			AppointmentTime: slot.Format(time.RFC3339),
		}, nil)
		s.metrics.Scheduled.Record(time.Since(start), status, err)
	}
}

// checkQueue fails if two walk-ins share a queue number.
func (s *Simulator) checkQueue(ctx context.Context) error {
	start := time.Now()
	var queue api.ListResponse
	url := fmt.Sprintf("%s/doctors/%s/days/%s/queue", s.config.AppointmentURL, s.doctorID, time.Now().Format(time.DateOnly))
	status, err := s.call(ctx, http.MethodGet, url, nil, &queue)
	s.metrics.Queue.Record(time.Since(start), status, err)
	if err != nil {
		return err
	}

	seen := make(map[int]uuid.UUID, len(queue.Items))
	for _, a := range queue.Items {
		if a.QueueNumber == nil {
			continue
		}
		if other, dup := seen[*a.QueueNumber]; dup {
			return fmt.Errorf("queue number %d issued twice: %s and %s", *a.QueueNumber, other, a.ID)
		}
		seen[*a.QueueNumber] = a.ID
	}
	s.logger.Info().Int("queued", len(seen)).Msg("queue numbers are unique")
	return nil
}

func (s *Simulator) cancelDay(ctx context.Context, scheduleID uuid.UUID) error {
	var saga scheduleapi.SagaResponse
	status, err := s.call(ctx, http.MethodPost, fmt.Sprintf("%s/schedules/%s/cancel", s.config.ScheduleURL, scheduleID),
		scheduleapi.CancelScheduleRequest{Reason: "simulated doctor absence"}, &saga)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("cancel schedule: status %d", status)
	}
	s.logger.Info().
		Str("saga_id", saga.ID.String()).
		Str("phase", saga.Phase).
		Int("cancelled", saga.CancelledCount).
		Msg("schedule cancelled")

	status, err = s.call(ctx, http.MethodPost, s.config.AppointmentURL+"/appointments/walk-ins", api.WalkInRequest{
		PatientID: s.patients[0].String(),
		DoctorID:  s.doctorID.String(),
	}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusConflict {
		return fmt.Errorf("walk-in on a cancelled day returned %d, want 409", status)
	}
	return nil
}

// call sends body as JSON and decodes a 2xx response into out.
func (s *Simulator) call(ctx context.Context, method, url string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpx.HeaderActorID, "simulator")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, url, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Doctor: %s\n", s.doctorID)
	fmt.Printf("Duration: %s  Workers: %d\n\n", s.config.Duration, s.config.Workers)

	printOperationReport("Walk-in", &s.metrics.WalkIn)
	printOperationReport("Scheduled", &s.metrics.Scheduled)
	printOperationReport("Queue read", &s.metrics.Queue)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
