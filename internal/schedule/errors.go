package schedule

import "github.com/hackgods/hospital-scheduling/internal/apperr"

var (
	ErrInvalidSchedule = apperr.Validation("invalid_schedule", "schedule request is malformed")

	ErrScheduleNotFound = apperr.NotFound("schedule_not_found", "schedule not found")
	ErrSagaNotFound     = apperr.NotFound("saga_not_found", "saga record not found")

	ErrScheduleExists          = apperr.Conflict("schedule_exists", "staff member already has a schedule for this day")
	ErrCancellationInProgress  = apperr.Conflict("cancellation_in_progress", "a cancellation is already in progress for this doctor and day")
	ErrScheduleCancelled       = apperr.Conflict("schedule_cancelled", "schedule is already cancelled")
	ErrActiveAppointments      = apperr.Conflict("active_appointments", "doctor has active appointments on this day, cancel the schedule instead")
	ErrInvalidStatusTransition = apperr.Conflict("invalid_schedule_transition", "invalid schedule status transition")
	ErrSagaPhaseConflict       = apperr.Conflict("saga_phase_conflict", "saga is not in the expected phase")
	ErrSagaLeaseLost           = apperr.Conflict("saga_lease_lost", "saga is being driven by another process")
	ErrSagaNotReconcilable     = apperr.Conflict("saga_not_reconcilable", "only sagas in COMPENSATION_FAILED can be reconciled")

	// ErrCancellationRolledBack means the schedule and its appointments are
	// back where they were and the caller may try again later.
	ErrCancellationRolledBack = apperr.New(apperr.KindTransientRemote, "cancellation_rolled_back", "cancellation failed and was rolled back")

	ErrCompensationFailed = apperr.New(apperr.KindCompensationFailure, "saga_compensation_failed", "cancellation could not be rolled back, operator reconciliation required")
)
