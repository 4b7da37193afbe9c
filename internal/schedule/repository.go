package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the schedule store plus the saga log. The saga methods that
// touch both tables do so in one local transaction; every phase move is
// conditional on the phase the caller expects and fails with
// ErrSagaPhaseConflict otherwise.
type Repository interface {
	CreateSchedule(ctx context.Context, s *Schedule) (*Schedule, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)
	GetScheduleByStaffAndDay(ctx context.Context, staffID uuid.UUID, day time.Time) (*Schedule, error)
	ListSchedulesByStaff(ctx context.Context, staffID uuid.UUID, from, to time.Time) ([]Schedule, error)
	// UpdateScheduleStatus moves id from -> to and returns ErrScheduleNotFound
	// when the row is gone or no longer in from.
	UpdateScheduleStatus(ctx context.Context, id uuid.UUID, from, to Status, actor string, at time.Time) (*Schedule, error)
	DeleteSchedule(ctx context.Context, id uuid.UUID, from Status) error

	// BeginCancellation moves the schedule from rec.PriorStatus to
	// PENDING_CANCEL and inserts rec in phase STARTED with rec.Owner holding
	// the lease.
	BeginCancellation(ctx context.Context, rec *SagaRecord, at time.Time) (*SagaRecord, error)
	// The moves below also require owner to hold the lease and fail with
	// ErrSagaLeaseLost otherwise.
	RecordAppointmentsCancelled(ctx context.Context, sagaID, owner uuid.UUID, count int, at time.Time) (*SagaRecord, error)
	// CommitCancellation moves the schedule to CANCELLED and the saga to COMMITTED.
	CommitCancellation(ctx context.Context, sagaID, owner uuid.UUID, actor string, at time.Time) (*SagaRecord, error)
	// RollbackCancellation reverts the schedule to the saga's prior status and
	// the saga to ROLLED_BACK.
	RollbackCancellation(ctx context.Context, sagaID, owner uuid.UUID, restored int, actor string, at time.Time) (*SagaRecord, error)
	MarkCompensationFailed(ctx context.Context, sagaID, owner uuid.UUID, lastErr string, at time.Time) (*SagaRecord, error)
	// RenewLease bumps updated_at of an unfinished saga owner still holds.
	RenewLease(ctx context.Context, sagaID, owner uuid.UUID, at time.Time) (*SagaRecord, error)

	GetSaga(ctx context.Context, id uuid.UUID) (*SagaRecord, error)
	// ListStaleSagas returns STARTED and APPOINTMENTS_CANCELLED sagas not
	// touched since before.
	ListStaleSagas(ctx context.Context, before time.Time, limit int) ([]SagaRecord, error)
	// ClaimSaga hands the lease of an unfinished saga to owner if updated_at
	// still equals seen, so one recovering process wins. The loser gets
	// ErrSagaPhaseConflict.
	ClaimSaga(ctx context.Context, id uuid.UUID, seen time.Time, owner uuid.UUID, at time.Time) (*SagaRecord, error)
}
