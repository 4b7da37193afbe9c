package schedule

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/hospital-scheduling/internal/apperr"
)

const pgUniqueViolation = "23505"

const scheduleColumns = `id, staff_id, day, start_time, end_time, status, prior_status,
	created_by, updated_by, created_at, updated_at`

const sagaColumns = `id, schedule_id, doctor_id, day, prior_status, phase, reason,
	cancelled_count, restored_count, attempts, last_error, actor, lease_owner, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PgRepository)(nil)

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule

	err := row.Scan(
		&s.ID,
		&s.StaffID,
		&s.Day,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.PriorStatus,
		&s.CreatedBy,
		&s.UpdatedBy,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	s.Day = dayOf(s.Day)
	return &s, nil
}

func scanSaga(row pgx.Row) (*SagaRecord, error) {
	var r SagaRecord

	err := row.Scan(
		&r.ID,
		&r.ScheduleID,
		&r.DoctorID,
		&r.Day,
		&r.PriorStatus,
		&r.Phase,
		&r.Reason,
		&r.CancelledCount,
		&r.RestoredCount,
		&r.Attempts,
		&r.LastError,
		&r.Actor,
		&r.Owner,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSagaNotFound
		}
		return nil, err
	}

	r.Day = dayOf(r.Day)
	return &r, nil
}

func phaseStrings(phases ...Phase) []string {
	out := make([]string, len(phases))
	for i, p := range phases {
		out[i] = string(p)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// lockSaga reads the saga row FOR UPDATE and checks it is in one of phases
// with its lease held by owner.
func lockSaga(ctx context.Context, tx pgx.Tx, id, owner uuid.UUID, phases ...Phase) (*SagaRecord, error) {
	rec, err := scanSaga(tx.QueryRow(ctx, `SELECT `+sagaColumns+` FROM saga_records WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if !slices.Contains(phases, rec.Phase) {
		return nil, apperr.Wrap(ErrSagaPhaseConflict, fmt.Errorf("saga %s is %s", id, rec.Phase))
	}
	if rec.Owner != owner {
		return nil, apperr.Wrap(ErrSagaLeaseLost, fmt.Errorf("saga %s is held by %s", id, rec.Owner))
	}
	return rec, nil
}

// updateOwnedSaga runs a single-row update on a saga owner still holds.
func (r *PgRepository) updateOwnedSaga(ctx context.Context, id, owner uuid.UUID, phases []Phase, set string, args ...any) (*SagaRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin saga update: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockSaga(ctx, tx, id, owner, phases...); err != nil {
		return nil, err
	}

	updated, err := scanSaga(tx.QueryRow(ctx, `
		UPDATE saga_records SET `+set+`
		WHERE id = $1
		RETURNING `+sagaColumns, append([]any{id}, args...)...))
	if err != nil {
		return nil, fmt.Errorf("update saga record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit saga update: %w", err)
	}
	return updated, nil
}

var openPhases = []Phase{PhaseStarted, PhaseAppointmentsCancelled, PhaseCompensationFailed}

// Schedules

func (r *PgRepository) CreateSchedule(ctx context.Context, s *Schedule) (*Schedule, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO schedules (id, staff_id, day, start_time, end_time, status, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, now(), now())
		RETURNING `+scheduleColumns,
		s.ID, s.StaffID, s.Day, s.StartTime, s.EndTime, s.Status, s.CreatedBy,
	)

	created, err := scanSchedule(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Wrap(ErrScheduleExists, err)
		}
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	return scanSchedule(row)
}

func (r *PgRepository) GetScheduleByStaffAndDay(ctx context.Context, staffID uuid.UUID, day time.Time) (*Schedule, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE staff_id = $1 AND day = $2`, staffID, day)
	return scanSchedule(row)
}

func (r *PgRepository) ListSchedulesByStaff(ctx context.Context, staffID uuid.UUID, from, to time.Time) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE staff_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day
	`, staffID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var result []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpdateScheduleStatus(ctx context.Context, id uuid.UUID, from, to Status, actor string, at time.Time) (*Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE schedules
		SET status = $3, updated_by = $4, updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING `+scheduleColumns,
		id, from, to, actor, at,
	)
	return scanSchedule(row)
}

func (r *PgRepository) DeleteSchedule(ctx context.Context, id uuid.UUID, from Status) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1 AND status = $2`, id, from)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// Saga log

func (r *PgRepository) BeginCancellation(ctx context.Context, rec *SagaRecord, at time.Time) (*SagaRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cancellation: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE schedules
		SET status = 'PENDING_CANCEL', prior_status = status, updated_by = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, rec.ScheduleID, rec.PriorStatus, rec.Actor, at)
	if err != nil {
		return nil, fmt.Errorf("mark schedule pending cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.Wrap(ErrInvalidStatusTransition, fmt.Errorf("schedule %s left %s", rec.ScheduleID, rec.PriorStatus))
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO saga_records (id, schedule_id, doctor_id, day, prior_status, phase, reason, actor, lease_owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'STARTED', $6, $7, $8, $9, $9)
		RETURNING `+sagaColumns,
		rec.ID, rec.ScheduleID, rec.DoctorID, rec.Day, rec.PriorStatus, rec.Reason, rec.Actor, rec.Owner, at,
	)
	started, err := scanSaga(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Wrap(ErrCancellationInProgress, err)
		}
		return nil, fmt.Errorf("insert saga record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit begin cancellation: %w", err)
	}
	return started, nil
}

func (r *PgRepository) RecordAppointmentsCancelled(ctx context.Context, sagaID, owner uuid.UUID, count int, at time.Time) (*SagaRecord, error) {
	return r.updateOwnedSaga(ctx, sagaID, owner, []Phase{PhaseStarted},
		`phase = 'APPOINTMENTS_CANCELLED', cancelled_count = cancelled_count + $2, updated_at = $3`, count, at)
}

func (r *PgRepository) RenewLease(ctx context.Context, sagaID, owner uuid.UUID, at time.Time) (*SagaRecord, error) {
	return r.updateOwnedSaga(ctx, sagaID, owner, openPhases, `updated_at = $2`, at)
}

func (r *PgRepository) CommitCancellation(ctx context.Context, sagaID, owner uuid.UUID, actor string, at time.Time) (*SagaRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := lockSaga(ctx, tx, sagaID, owner, PhaseAppointmentsCancelled)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE schedules
		SET status = 'CANCELLED', prior_status = NULL, updated_by = $2, updated_at = $3
		WHERE id = $1 AND status = 'PENDING_CANCEL'
	`, rec.ScheduleID, actor, at)
	if err != nil {
		return nil, fmt.Errorf("cancel schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.Wrap(ErrInvalidStatusTransition, fmt.Errorf("schedule %s is not PENDING_CANCEL", rec.ScheduleID))
	}

	committed, err := scanSaga(tx.QueryRow(ctx, `
		UPDATE saga_records SET phase = 'COMMITTED', updated_at = $2
		WHERE id = $1
		RETURNING `+sagaColumns, sagaID, at))
	if err != nil {
		return nil, fmt.Errorf("commit saga record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancellation: %w", err)
	}
	return committed, nil
}

func (r *PgRepository) RollbackCancellation(ctx context.Context, sagaID, owner uuid.UUID, restored int, actor string, at time.Time) (*SagaRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin rollback: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := lockSaga(ctx, tx, sagaID, owner, openPhases...)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE schedules
		SET status = $2, prior_status = NULL, updated_by = $3, updated_at = $4
		WHERE id = $1 AND status = 'PENDING_CANCEL'
	`, rec.ScheduleID, rec.PriorStatus, actor, at)
	if err != nil {
		return nil, fmt.Errorf("revert schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.Wrap(ErrInvalidStatusTransition, fmt.Errorf("schedule %s is not PENDING_CANCEL", rec.ScheduleID))
	}

	rolledBack, err := scanSaga(tx.QueryRow(ctx, `
		UPDATE saga_records
		SET phase = 'ROLLED_BACK', restored_count = restored_count + $2, updated_at = $3
		WHERE id = $1
		RETURNING `+sagaColumns, sagaID, restored, at))
	if err != nil {
		return nil, fmt.Errorf("roll back saga record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rollback: %w", err)
	}
	return rolledBack, nil
}

func (r *PgRepository) MarkCompensationFailed(ctx context.Context, sagaID, owner uuid.UUID, lastErr string, at time.Time) (*SagaRecord, error) {
	return r.updateOwnedSaga(ctx, sagaID, owner, openPhases,
		`phase = 'COMPENSATION_FAILED', last_error = $2, attempts = attempts + 1, updated_at = $3`, lastErr, at)
}

func (r *PgRepository) GetSaga(ctx context.Context, id uuid.UUID) (*SagaRecord, error) {
	return scanSaga(r.pool.QueryRow(ctx, `SELECT `+sagaColumns+` FROM saga_records WHERE id = $1`, id))
}

func (r *PgRepository) ListStaleSagas(ctx context.Context, before time.Time, limit int) ([]SagaRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sagaColumns+`
		FROM saga_records
		WHERE phase = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, phaseStrings(PhaseStarted, PhaseAppointmentsCancelled), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale sagas: %w", err)
	}
	defer rows.Close()

	var result []SagaRecord
	for rows.Next() {
		rec, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}

func (r *PgRepository) ClaimSaga(ctx context.Context, id uuid.UUID, seen time.Time, owner uuid.UUID, at time.Time) (*SagaRecord, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE saga_records
		SET lease_owner = $3, updated_at = $4, attempts = attempts + 1
		WHERE id = $1 AND updated_at = $2 AND phase = ANY($5)
		RETURNING `+sagaColumns,
		id, seen, owner, at, phaseStrings(openPhases...),
	)
	rec, err := scanSaga(row)
	if errors.Is(err, ErrSagaNotFound) {
		return nil, apperr.Wrap(ErrSagaPhaseConflict, fmt.Errorf("saga %s claimed elsewhere", id))
	}
	return rec, err
}
