package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/alert"
	"github.com/hackgods/hospital-scheduling/internal/apperr"
	"github.com/hackgods/hospital-scheduling/internal/logging"
	redisclient "github.com/hackgods/hospital-scheduling/internal/redis"
	"github.com/hackgods/hospital-scheduling/internal/remote"
	"github.com/hackgods/hospital-scheduling/internal/reqctx"
)

// CommitPolicy bounds the local retry of the final commit. StatementTimeout
// caps every saga log write, commit attempts included.
type CommitPolicy struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	StatementTimeout time.Duration
}

// Orchestrator runs the cancellation saga of a schedule: mark it
// PENDING_CANCEL, cancel the day's appointments in the appointment service,
// then commit the schedule to CANCELLED. Any failure after the first step is
// compensated by restoring the appointments and the prior schedule status.
//
// Each run drives the saga under a lease recorded on the saga log. A driver
// that finds its lease gone stops and reports the saga as it finds it.
type Orchestrator struct {
	repo         Repository
	appointments remote.AppointmentAPI
	locker       redisclient.Locker
	notifier     alert.Notifier
	commit       CommitPolicy
	leaseRenewal time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

type OrchestratorOption func(*Orchestrator)

func WithCommitPolicy(p CommitPolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.commit = p }
}

func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// WithLeaseRenewal makes a running saga touch its record every interval so
// recovery does not take it over. Keep it well under the recovery staleness
// window. Zero disables renewal.
func WithLeaseRenewal(interval time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.leaseRenewal = interval }
}

// NewOrchestrator expects appointments to already retry transient failures,
// see remote.RetryingAppointmentClient.
func NewOrchestrator(repo Repository, appointments remote.AppointmentAPI, locker redisclient.Locker, notifier alert.Notifier, logger zerolog.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		repo:         repo,
		appointments: appointments,
		locker:       locker,
		notifier:     notifier,
		commit: CommitPolicy{
			MaxAttempts:      5,
			BaseDelay:        100 * time.Millisecond,
			MaxDelay:         2 * time.Second,
			StatementTimeout: 5 * time.Second,
		},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.commit.MaxAttempts < 1 {
		o.commit.MaxAttempts = 1
	}
	if o.commit.StatementTimeout <= 0 {
		o.commit.StatementTimeout = 5 * time.Second
	}
	return o
}

// Cancel cancels the schedule and every active appointment of its doctor's
// day. It returns the saga record in COMMITTED, or with an error: a conflict
// if another cancellation holds the day, ErrCancellationRolledBack when the
// saga undid itself, ErrCompensationFailed when it could not.
func (o *Orchestrator) Cancel(ctx context.Context, scheduleID uuid.UUID, reason string) (*SagaRecord, error) {
	rec, err := o.begin(ctx, scheduleID, reason)
	if err != nil {
		return nil, err
	}
	return o.drive(ctx, rec)
}

func (o *Orchestrator) begin(ctx context.Context, scheduleID uuid.UUID, reason string) (*SagaRecord, error) {
	sched, err := o.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	var started *SagaRecord
	err = o.locker.WithLock(ctx, redisclient.SagaLockKey(sched.StaffID, sched.Day), func(lockCtx context.Context) error {
		// re-read under the lock, the status may have moved since
		current, err := o.repo.GetSchedule(lockCtx, scheduleID)
		if err != nil {
			return err
		}
		switch current.Status {
		case StatusPendingCancel:
			return ErrCancellationInProgress
		case StatusCancelled:
			return ErrScheduleCancelled
		}

		started, err = o.repo.BeginCancellation(lockCtx, &SagaRecord{
			ScheduleID:  current.ID,
			DoctorID:    current.StaffID,
			Day:         current.Day,
			PriorStatus: current.Status,
			Reason:      reason,
			Actor:       reqctx.Actor(ctx),
			Owner:       uuid.New(),
		}, o.now())
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, apperr.Wrap(ErrCancellationInProgress, err)
		}
		return nil, err
	}

	o.sagaLogger(ctx, started).Info().Str("prior_status", string(started.PriorStatus)).Msg("saga started")
	return started, nil
}

// drive runs rec forward from its current phase under the lease rec.Owner.
// Once the remote cancel may have been issued the saga must reach COMMITTED
// or ROLLED_BACK, so caller cancellation is ignored from here on.
func (o *Orchestrator) drive(ctx context.Context, rec *SagaRecord) (*SagaRecord, error) {
	ctx = context.WithoutCancel(ctx)
	stop := o.keepLease(ctx, rec)
	defer stop()

	if rec.Phase == PhaseStarted {
		n, err := o.appointments.BulkCancel(ctx, rec.DoctorID, rec.Day, rec.Reason)
		if err != nil {
			return o.compensate(ctx, rec, fmt.Errorf("bulk cancel appointments: %w", err))
		}

		stmtCtx, cancel := o.statement(ctx)
		advanced, err := o.repo.RecordAppointmentsCancelled(stmtCtx, rec.ID, rec.Owner, n, o.now())
		cancel()
		if err != nil {
			err = fmt.Errorf("record appointments cancelled: %w", err)
			if lostSaga(err) {
				return o.handOff(ctx, rec, err)
			}
			return o.compensate(ctx, rec, err)
		}
		rec = advanced
		o.sagaLogger(ctx, rec).Info().Int("cancelled", n).Msg("saga appointments cancelled")
	}

	if rec.Phase != PhaseAppointmentsCancelled {
		return rec, nil
	}

	committed, err := o.commitWithRetry(ctx, rec)
	if err != nil {
		err = fmt.Errorf("commit schedule cancellation: %w", err)
		if lostSaga(err) {
			return o.handOff(ctx, rec, err)
		}
		return o.compensate(ctx, rec, err)
	}

	o.sagaLogger(ctx, committed).Info().Int("cancelled", committed.CancelledCount).Msg("saga committed")
	return committed, nil
}

func (o *Orchestrator) commitWithRetry(ctx context.Context, rec *SagaRecord) (*SagaRecord, error) {
	var (
		committed *SagaRecord
		attempt   int
	)

	operation := func() error {
		attempt++
		stmtCtx, cancel := o.statement(ctx)
		defer cancel()

		out, err := o.repo.CommitCancellation(stmtCtx, rec.ID, rec.Owner, reqctx.Actor(ctx), o.now())
		if err != nil {
			if apperr.KindOf(err) == apperr.KindConflict {
				return backoff.Permanent(err)
			}
			o.sagaLogger(ctx, rec).Warn().Err(err).Int("attempt", attempt).Msg("saga commit failed")
			return err
		}
		committed = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.commit.BaseDelay
	b.MaxInterval = o.commit.MaxDelay
	b.MaxElapsedTime = 0

	if err := backoff.Retry(operation, backoff.WithMaxRetries(b, uint64(o.commit.MaxAttempts-1))); err != nil {
		return nil, err
	}
	return committed, nil
}

// compensate restores the appointments cancelled by the saga and reverts the
// schedule. Both steps are idempotent so it is safe to run again. The restore
// only runs while rec.Owner still holds an unfinished saga.
func (o *Orchestrator) compensate(ctx context.Context, rec *SagaRecord, cause error) (*SagaRecord, error) {
	logger := o.sagaLogger(ctx, rec)
	logger.Warn().Err(cause).Msg("saga compensating")

	stmtCtx, cancel := o.statement(ctx)
	_, err := o.repo.RenewLease(stmtCtx, rec.ID, rec.Owner, o.now())
	cancel()
	if err != nil {
		if lostSaga(err) {
			return o.handOff(ctx, rec, errors.Join(cause, err))
		}
		return o.compensationFailed(ctx, rec, cause, fmt.Errorf("renew saga lease: %w", err))
	}

	restored, err := o.appointments.BulkRestore(ctx, rec.DoctorID, rec.Day)
	if err != nil {
		return o.compensationFailed(ctx, rec, cause, fmt.Errorf("bulk restore appointments: %w", err))
	}

	stmtCtx, cancel = o.statement(ctx)
	rolledBack, err := o.repo.RollbackCancellation(stmtCtx, rec.ID, rec.Owner, restored, reqctx.Actor(ctx), o.now())
	cancel()
	if err != nil {
		if lostSaga(err) {
			return o.handOff(ctx, rec, errors.Join(cause, err))
		}
		return o.compensationFailed(ctx, rec, cause, fmt.Errorf("revert schedule: %w", err))
	}

	logger.Warn().Int("restored", restored).Str("schedule_status", string(rolledBack.PriorStatus)).Msg("saga rolled back")
	if cause == nil {
		return rolledBack, nil
	}
	return rolledBack, apperr.Wrap(ErrCancellationRolledBack, cause)
}

// compensationFailed parks the saga for an operator. The schedule stays in
// PENDING_CANCEL so nothing can be booked on a day in an unknown state.
func (o *Orchestrator) compensationFailed(ctx context.Context, rec *SagaRecord, cause, compErr error) (*SagaRecord, error) {
	failure := errors.Join(cause, compErr)
	logger := o.sagaLogger(ctx, rec)

	stmtCtx, cancel := o.statement(ctx)
	parked, err := o.repo.MarkCompensationFailed(stmtCtx, rec.ID, rec.Owner, failure.Error(), o.now())
	cancel()
	if err != nil {
		if lostSaga(err) {
			return o.handOff(ctx, rec, errors.Join(failure, err))
		}
		logger.Error().Err(err).Msg("failed to record compensation failure")
		parked = rec
	}

	a := alert.Alert{
		Type:       alert.TypeCompensationFailed,
		SagaID:     rec.ID,
		ScheduleID: rec.ScheduleID,
		DoctorID:   rec.DoctorID,
		Date:       rec.Day.Format(time.DateOnly),
		Error:      failure.Error(),
		RaisedAt:   o.now(),
	}
	if o.notifier != nil {
		if err := o.notifier.Notify(ctx, a); err != nil {
			logger.Error().Err(err).Msg("failed to deliver compensation alert")
		}
	}

	logger.Error().Err(failure).Msg("saga compensation failed, operator reconciliation required")
	return parked, apperr.Wrap(ErrCompensationFailed, failure)
}

// handOff is where a driver ends up once another one owns or has finished
// the saga. It reports the saga as it now stands and touches nothing.
func (o *Orchestrator) handOff(ctx context.Context, rec *SagaRecord, cause error) (*SagaRecord, error) {
	stmtCtx, cancel := o.statement(ctx)
	current, err := o.repo.GetSaga(stmtCtx, rec.ID)
	cancel()
	if err != nil {
		return nil, errors.Join(cause, err)
	}

	o.sagaLogger(ctx, current).Warn().Err(cause).
		Str("phase", string(current.Phase)).
		Msg("saga taken over by another driver, leaving it")

	switch current.Phase {
	case PhaseCommitted:
		return current, nil
	case PhaseRolledBack:
		return current, apperr.Wrap(ErrCancellationRolledBack, cause)
	case PhaseCompensationFailed:
		return current, apperr.Wrap(ErrCompensationFailed, cause)
	default:
		return current, apperr.Wrap(ErrCancellationInProgress, cause)
	}
}

// keepLease renews rec's lease in the background until the returned func is
// called.
func (o *Orchestrator) keepLease(ctx context.Context, rec *SagaRecord) func() {
	if o.leaseRenewal <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.leaseRenewal)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stmtCtx, cancelStmt := o.statement(ctx)
				_, err := o.repo.RenewLease(stmtCtx, rec.ID, rec.Owner, o.now())
				cancelStmt()
				if err == nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				if lostSaga(err) {
					o.sagaLogger(ctx, rec).Debug().Err(err).Msg("saga lease renewal stopped")
					return
				}
				o.sagaLogger(ctx, rec).Warn().Err(err).Msg("saga lease renewal failed")
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (o *Orchestrator) statement(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.commit.StatementTimeout)
}

// lostSaga reports an error meaning another driver owns or has already moved
// the saga.
func lostSaga(err error) bool {
	return errors.Is(err, ErrSagaLeaseLost) || errors.Is(err, ErrSagaPhaseConflict)
}

// Reconcile re-runs compensation for a saga parked in COMPENSATION_FAILED.
func (o *Orchestrator) Reconcile(ctx context.Context, sagaID uuid.UUID) (*SagaRecord, error) {
	rec, err := o.repo.GetSaga(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	if rec.Phase != PhaseCompensationFailed {
		return nil, apperr.Wrap(ErrSagaNotReconcilable, fmt.Errorf("saga %s is %s", sagaID, rec.Phase))
	}

	claimed, err := o.repo.ClaimSaga(ctx, rec.ID, rec.UpdatedAt, uuid.New(), o.now())
	if err != nil {
		if errors.Is(err, ErrSagaPhaseConflict) {
			return nil, apperr.Wrap(ErrCancellationInProgress, fmt.Errorf("saga %s is being reconciled elsewhere", sagaID))
		}
		return nil, err
	}

	o.sagaLogger(ctx, claimed).Info().Msg("saga reconciliation requested")
	ctx = context.WithoutCancel(ctx)
	stop := o.keepLease(ctx, claimed)
	defer stop()
	return o.compensate(ctx, claimed, nil)
}

func (o *Orchestrator) sagaLogger(ctx context.Context, rec *SagaRecord) *zerolog.Logger {
	l := logging.WithRequest(ctx, o.logger).With().
		Str("saga_id", rec.ID.String()).
		Str("doctor_id", rec.DoctorID.String()).
		Str("day", rec.Day.Format(time.DateOnly)).
		Logger()
	return &l
}
