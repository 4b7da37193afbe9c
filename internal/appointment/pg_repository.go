package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/hospital-scheduling/internal/apperr"
)

const pgUniqueViolation = "23505"

const (
	liveSlotIndex    = "appointments_live_slot_uidx"
	queueNumberIndex = "appointments_queue_uidx"
)

// insertConflict maps a failed appointment insert to the conflict that caused
// it. Each unique index backs a different booking rule.
func insertConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case liveSlotIndex:
			return apperr.Wrap(ErrSlotTaken, err)
		case queueNumberIndex:
			return apperr.Wrap(ErrQueueNumberTaken, err)
		}
	}
	return fmt.Errorf("insert appointment: %w", err)
}

const appointmentColumns = `id, patient_id, patient_name, doctor_id, doctor_name, department,
	appointment_date, appointment_time, queue_number, priority, priority_reason,
	status, reason, notes, cancelled_at, cancel_reason, cancel_origin,
	created_by, updated_by, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Department,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PatientName,
		&a.DoctorID,
		&a.DoctorName,
		&a.Department,
		&a.AppointmentDate,
		&a.AppointmentTime,
		&a.QueueNumber,
		&a.Priority,
		&a.PriorityReason,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.CancelledAt,
		&a.CancelReason,
		&a.CancelOrigin,
		&a.CreatedBy,
		&a.UpdatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.AppointmentDate = DayOf(a.AppointmentDate)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// lockDay makes sure the gate row of (doctorID, day) exists and locks it in
// mode, returning whether it is closed.
func lockDay(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, day time.Time, mode string) (bool, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO doctor_days (doctor_id, day)
		VALUES ($1, $2)
		ON CONFLICT (doctor_id, day) DO NOTHING
	`, doctorID, day); err != nil {
		return false, fmt.Errorf("ensure day gate: %w", err)
	}

	var closed bool
	err := tx.QueryRow(ctx, `
		SELECT closed FROM doctor_days
		WHERE doctor_id = $1 AND day = $2
		FOR `+mode, doctorID, day).Scan(&closed)
	if err != nil {
		return false, fmt.Errorf("lock day gate: %w", err)
	}
	return closed, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, department, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetLiveAppointmentForSlot(ctx context.Context, doctorID uuid.UUID, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_time = $2
		  AND status = ANY($3)
		LIMIT 1
	`, doctorID, at, statusStrings(activeStatuses))
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create appointment: %w", err)
	}
	defer tx.Rollback(ctx)

	// KEY SHARE lets bookings and the queue counter run side by side while
	// still waiting out a bulk cancel holding FOR UPDATE.
	closed, err := lockDay(ctx, tx, a.DoctorID, a.AppointmentDate, "KEY SHARE")
	if err != nil {
		return nil, err
	}
	if closed {
		return nil, ErrScheduleUnavailable
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, patient_name, doctor_id, doctor_name, department,
			appointment_date, appointment_time, queue_number, priority, priority_reason,
			status, reason, notes, created_by, updated_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.PatientName, a.DoctorID, a.DoctorName, a.Department,
		a.AppointmentDate, a.AppointmentTime, a.QueueNumber, a.Priority, a.PriorityReason,
		a.Status, a.Reason, a.Notes, a.CreatedBy,
	)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, insertConflict(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create appointment: %w", err)
	}

	return created, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from AppointmentStatus, change StatusChange) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancelled_at = CASE WHEN $2 = 'CANCELLED' THEN $4 ELSE cancelled_at END,
		    cancel_reason = CASE WHEN $2 = 'CANCELLED' THEN $5 ELSE cancel_reason END,
		    cancel_origin = CASE WHEN $2 = 'CANCELLED' THEN $6 ELSE cancel_origin END,
		    updated_by = $7,
		    updated_at = $4
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, change.To, from, change.At, change.CancelReason, change.CancelOrigin, change.Actor,
	)

	return scanAppointment(row)
}

func (r *PgRepository) BulkCancel(ctx context.Context, doctorID uuid.UUID, day time.Time, change StatusChange) ([]Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin bulk cancel: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockDay(ctx, tx, doctorID, day, "UPDATE"); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE doctor_days SET closed = true, updated_at = now()
		WHERE doctor_id = $1 AND day = $2
	`, doctorID, day); err != nil {
		return nil, fmt.Errorf("close day gate: %w", err)
	}

	rows, err := tx.Query(ctx, `
		UPDATE appointments
		SET status = 'CANCELLED',
		    cancelled_at = $3,
		    cancel_reason = $4,
		    cancel_origin = $5,
		    updated_by = $6,
		    updated_at = $3
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status = ANY($7)
		RETURNING `+appointmentColumns,
		doctorID, day, change.At, change.CancelReason, change.CancelOrigin, change.Actor, statusStrings(activeStatuses),
	)
	if err != nil {
		return nil, fmt.Errorf("bulk cancel appointments: %w", err)
	}
	cancelled, err := collectAppointments(rows)
	if err != nil {
		return nil, fmt.Errorf("bulk cancel appointments: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit bulk cancel: %w", err)
	}
	return cancelled, nil
}

func (r *PgRepository) BulkRestore(ctx context.Context, doctorID uuid.UUID, day time.Time, actor string, at time.Time) ([]Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin bulk restore: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockDay(ctx, tx, doctorID, day, "UPDATE"); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE doctor_days SET closed = false, updated_at = now()
		WHERE doctor_id = $1 AND day = $2
	`, doctorID, day); err != nil {
		return nil, fmt.Errorf("reopen day gate: %w", err)
	}

	rows, err := tx.Query(ctx, `
		UPDATE appointments
		SET status = 'SCHEDULED',
		    cancelled_at = NULL,
		    cancel_reason = NULL,
		    cancel_origin = NULL,
		    updated_by = $3,
		    updated_at = $4
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status = 'CANCELLED'
		  AND cancel_origin = $5
		RETURNING `+appointmentColumns,
		doctorID, day, actor, at, CancelOriginScheduleSaga,
	)
	if err != nil {
		return nil, fmt.Errorf("bulk restore appointments: %w", err)
	}
	restored, err := collectAppointments(rows)
	if err != nil {
		return nil, fmt.Errorf("bulk restore appointments: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit bulk restore: %w", err)
	}
	return restored, nil
}

func (r *PgRepository) CountActive(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status = ANY($3)
	`, doctorID, day, statusStrings(activeStatuses)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active appointments: %w", err)
	}
	return n, nil
}

func (r *PgRepository) ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		ORDER BY appointment_time NULLS LAST, queue_number
	`, doctorID, day)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindOverdueScheduled(ctx context.Context, slotCutoff, today time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'SCHEDULED'
		  AND (
		        (appointment_time IS NOT NULL AND appointment_time < $1)
		     OR (queue_number IS NOT NULL AND appointment_date < $2)
		  )
	`, slotCutoff, today)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, actor, trace_id, payload, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, COALESCE($6, now()))
	`, ev.EventType, ev.AppointmentID, ev.Actor, ev.TraceID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// PgSequencer keeps the walk-in counter on the day gate row. The upsert is a
// single statement, so the row lock serializes callers of one (doctor, day)
// and nothing else.
type PgSequencer struct {
	pool *pgxpool.Pool
}

func NewPgSequencer(pool *pgxpool.Pool) *PgSequencer {
	return &PgSequencer{pool: pool}
}

func (s *PgSequencer) NextQueueNumber(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO doctor_days (doctor_id, day, last_queue_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (doctor_id, day)
		DO UPDATE SET last_queue_number = doctor_days.last_queue_number + 1,
		              updated_at = now()
		RETURNING last_queue_number
	`, doctorID, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next queue number: %w", err)
	}
	return n, nil
}
