// Package scheduletest provides an in-memory schedule.Repository for tests.
package scheduletest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/apperr"
	"github.com/hackgods/hospital-scheduling/internal/schedule"
)

// Repository mirrors the Postgres store: every method is atomic and the
// saga moves check the same phases and in-flight uniqueness.
type Repository struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]schedule.Schedule
	sagas     map[uuid.UUID]schedule.SagaRecord

	// CommitFault, when set, is consulted on every commit attempt with its
	// 1-based number. A non-nil error fails the attempt.
	CommitFault func(call int) error
	commitCalls int
}

var _ schedule.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		schedules: make(map[uuid.UUID]schedule.Schedule),
		sagas:     make(map[uuid.UUID]schedule.SagaRecord),
	}
}

func (r *Repository) CreateSchedule(_ context.Context, s *schedule.Schedule) (*schedule.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.schedules {
		if existing.StaffID == s.StaffID && existing.Day.Equal(s.Day) {
			return nil, schedule.ErrScheduleExists
		}
	}
	created := *s
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	r.schedules[created.ID] = created
	return &created, nil
}

func (r *Repository) GetSchedule(_ context.Context, id uuid.UUID) (*schedule.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, schedule.ErrScheduleNotFound
	}
	return &s, nil
}

func (r *Repository) GetScheduleByStaffAndDay(_ context.Context, staffID uuid.UUID, day time.Time) (*schedule.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.schedules {
		if s.StaffID == staffID && s.Day.Equal(day) {
			return &s, nil
		}
	}
	return nil, schedule.ErrScheduleNotFound
}

func (r *Repository) ListSchedulesByStaff(_ context.Context, staffID uuid.UUID, from, to time.Time) ([]schedule.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schedule.Schedule
	for _, s := range r.schedules {
		if s.StaffID == staffID && !s.Day.Before(from) && !s.Day.After(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (r *Repository) UpdateScheduleStatus(_ context.Context, id uuid.UUID, from, to schedule.Status, actor string, at time.Time) (*schedule.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok || s.Status != from {
		return nil, schedule.ErrScheduleNotFound
	}
	s.Status, s.UpdatedBy, s.UpdatedAt = to, actor, at
	r.schedules[id] = s
	return &s, nil
}

func (r *Repository) DeleteSchedule(_ context.Context, id uuid.UUID, from schedule.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok || s.Status != from {
		return schedule.ErrScheduleNotFound
	}
	delete(r.schedules, id)
	return nil
}

func inPhase(p schedule.Phase, phases ...schedule.Phase) bool {
	for _, want := range phases {
		if p == want {
			return true
		}
	}
	return false
}

func (r *Repository) BeginCancellation(_ context.Context, rec *schedule.SagaRecord, at time.Time) (*schedule.SagaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[rec.ScheduleID]
	if !ok || s.Status != rec.PriorStatus {
		return nil, schedule.ErrInvalidStatusTransition
	}
	for _, other := range r.sagas {
		if other.DoctorID == rec.DoctorID && other.Day.Equal(rec.Day) &&
			inPhase(other.Phase, schedule.PhaseStarted, schedule.PhaseAppointmentsCancelled, schedule.PhaseCompensationFailed) {
			return nil, schedule.ErrCancellationInProgress
		}
	}

	prior := s.Status
	s.PriorStatus = &prior
	s.Status = schedule.StatusPendingCancel
	s.UpdatedBy, s.UpdatedAt = rec.Actor, at
	r.schedules[s.ID] = s

	started := *rec
	if started.ID == uuid.Nil {
		started.ID = uuid.New()
	}
	started.Phase = schedule.PhaseStarted
	started.CreatedAt, started.UpdatedAt = at, at
	r.sagas[started.ID] = started
	return &started, nil
}

var openPhases = []schedule.Phase{schedule.PhaseStarted, schedule.PhaseAppointmentsCancelled, schedule.PhaseCompensationFailed}

func (r *Repository) sagaIn(id uuid.UUID, phases ...schedule.Phase) (schedule.SagaRecord, error) {
	rec, ok := r.sagas[id]
	if !ok {
		return schedule.SagaRecord{}, schedule.ErrSagaNotFound
	}
	if !inPhase(rec.Phase, phases...) {
		return schedule.SagaRecord{}, apperr.Wrap(schedule.ErrSagaPhaseConflict, fmt.Errorf("saga %s is %s", id, rec.Phase))
	}
	return rec, nil
}

func (r *Repository) ownedSaga(id, owner uuid.UUID, phases ...schedule.Phase) (schedule.SagaRecord, error) {
	rec, err := r.sagaIn(id, phases...)
	if err != nil {
		return rec, err
	}
	if rec.Owner != owner {
		return schedule.SagaRecord{}, apperr.Wrap(schedule.ErrSagaLeaseLost, fmt.Errorf("saga %s is held by %s", id, rec.Owner))
	}
	return rec, nil
}

func (r *Repository) RecordAppointmentsCancelled(_ context.Context, sagaID, owner uuid.UUID, count int, at time.Time) (*schedule.SagaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedSaga(sagaID, owner, schedule.PhaseStarted)
	if err != nil {
		return nil, err
	}
	rec.Phase = schedule.PhaseAppointmentsCancelled
	rec.CancelledCount += count
	rec.UpdatedAt = at
	r.sagas[sagaID] = rec
	return &rec, nil
}

func (r *Repository) CommitCancellation(ctx context.Context, sagaID, owner uuid.UUID, actor string, at time.Time) (*schedule.SagaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.commitCalls++
	if r.CommitFault != nil {
		if err := r.CommitFault(r.commitCalls); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := r.ownedSaga(sagaID, owner, schedule.PhaseAppointmentsCancelled)
	if err != nil {
		return nil, err
	}
	s := r.schedules[rec.ScheduleID]
	if s.Status != schedule.StatusPendingCancel {
		return nil, schedule.ErrInvalidStatusTransition
	}
	s.Status, s.PriorStatus, s.UpdatedBy, s.UpdatedAt = schedule.StatusCancelled, nil, actor, at
	r.schedules[s.ID] = s

	rec.Phase, rec.UpdatedAt = schedule.PhaseCommitted, at
	r.sagas[sagaID] = rec
	return &rec, nil
}

func (r *Repository) RollbackCancellation(_ context.Context, sagaID, owner uuid.UUID, restored int, actor string, at time.Time) (*schedule.SagaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.ownedSaga(sagaID, owner, openPhases...)
	if err != nil {
		return nil, err
	}
	s := r.schedules[rec.ScheduleID]
	if s.Status != schedule.StatusPendingCancel {
		return nil, schedule.ErrInvalidStatusTransition
	}
	s.Status, s.PriorStatus, s.UpdatedBy, s.UpdatedAt = rec.PriorStatus, nil, actor, at
	r.schedules[s.ID] = s

	rec.Phase, rec.UpdatedAt = schedule.PhaseRolledBack, at
	rec.RestoredCount += restored
	r.sagas[sagaID] = rec
	return &rec, nil
}

func (r *Repository) MarkCompensationFailed(_ context.Context, sagaID, owner uuid.UUID, lastErr string, at time.Time) (*schedule.SagaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedSaga(sagaID, owner, openPhases...)
	if err != nil {
		return nil, err
	}
	rec.Phase = schedule.PhaseCompensationFailed
	rec.LastError = &lastErr
	rec.Attempts++
	rec.UpdatedAt = at
	r.sagas[sagaID] = rec
	return &rec, nil
}

func (r *Repository) RenewLease(_ context.Context, sagaID, owner uuid.UUID, at time.Time) (*schedule.SagaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.ownedSaga(sagaID, owner, openPhases...)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = at
	r.sagas[sagaID] = rec
	return &rec, nil
}

func (r *Repository) GetSaga(_ context.Context, id uuid.UUID) (*schedule.SagaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sagas[id]
	if !ok {
		return nil, schedule.ErrSagaNotFound
	}
	return &rec, nil
}

func (r *Repository) ListStaleSagas(_ context.Context, before time.Time, limit int) ([]schedule.SagaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schedule.SagaRecord
	for _, rec := range r.sagas {
		if inPhase(rec.Phase, schedule.PhaseStarted, schedule.PhaseAppointmentsCancelled) && rec.UpdatedAt.Before(before) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) ClaimSaga(_ context.Context, id uuid.UUID, seen time.Time, owner uuid.UUID, at time.Time) (*schedule.SagaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.sagaIn(id, openPhases...)
	if err != nil {
		return nil, err
	}
	if !rec.UpdatedAt.Equal(seen) {
		return nil, schedule.ErrSagaPhaseConflict
	}
	rec.Owner = owner
	rec.UpdatedAt = at
	rec.Attempts++
	r.sagas[id] = rec
	return &rec, nil
}

// CommitCalls reports how many commit attempts were made.
func (r *Repository) CommitCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commitCalls
}

func (r *Repository) SagaCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sagas)
}

// Sagas returns a copy of every saga record, oldest first.
func (r *Repository) Sagas() []schedule.SagaRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schedule.SagaRecord, 0, len(r.sagas))
	for _, rec := range r.sagas {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
