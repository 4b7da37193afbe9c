package schedule_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/alert"
	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/appointment/appointmenttest"
	"github.com/hackgods/hospital-scheduling/internal/apperr"
	"github.com/hackgods/hospital-scheduling/internal/remote"
	"github.com/hackgods/hospital-scheduling/internal/schedule"
	"github.com/hackgods/hospital-scheduling/internal/schedule/scheduletest"
)

var clinicNow = time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

// faultyAPI sits between the retry decorator and the appointment service.
type faultyAPI struct {
	remote.AppointmentAPI

	cancelErr  error
	restoreErr atomic.Pointer[error]

	restoreCalls atomic.Int32

	// when set, the first BulkCancel signals entered and waits for release
	entered chan struct{}
	release chan struct{}
	blocked atomic.Bool
}

func (f *faultyAPI) BulkCancel(ctx context.Context, doctorID uuid.UUID, day time.Time, reason string) (int, error) {
	if f.entered != nil && f.blocked.CompareAndSwap(false, true) {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.cancelErr != nil {
		return 0, f.cancelErr
	}
	return f.AppointmentAPI.BulkCancel(ctx, doctorID, day, reason)
}

func (f *faultyAPI) BulkRestore(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	f.restoreCalls.Add(1)
	if errp := f.restoreErr.Load(); errp != nil {
		return 0, *errp
	}
	return f.AppointmentAPI.BulkRestore(ctx, doctorID, day)
}

func (f *faultyAPI) failRestore(err error) { f.restoreErr.Store(&err) }
func (f *faultyAPI) healRestore()          { f.restoreErr.Store(nil) }

type harness struct {
	apptRepo *appointmenttest.Repository
	appts    *appointment.Service
	api      *faultyAPI
	repo     *scheduletest.Repository
	svc      *schedule.Service
	orch     *schedule.Orchestrator
	recovery *schedule.Recovery
	alerts   *recordingNotifier
	doctor   appointment.Doctor
	patient  appointment.Patient
	sched    *schedule.Schedule

	clockMu sync.Mutex
	now     time.Time
}

func (h *harness) clock() time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	return h.now
}

func (h *harness) setNow(t time.Time) {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	h.now = t
}

func newHarness(t *testing.T, opts ...schedule.OrchestratorOption) *harness {
	t.Helper()
	h := &harness{
		apptRepo: appointmenttest.NewRepository(),
		repo:     scheduletest.NewRepository(),
		alerts:   &recordingNotifier{},
		now:      clinicNow,
	}
	clock := h.clock

	h.doctor = h.apptRepo.AddDoctor("Dr. Grace Ito", "Neurology")
	h.patient = h.apptRepo.AddPatient("Sam Cole")
	h.appts = appointment.NewService(h.apptRepo, appointmenttest.NewSequencer(), appointmenttest.NewLocker(), zerolog.Nop(),
		appointment.WithClock(clock))

	h.api = &faultyAPI{AppointmentAPI: remote.NewLocalAppointmentAPI(h.appts)}
	retrying := remote.NewRetryingAppointmentClient(h.api, remote.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		CallTimeout: time.Second,
	}, zerolog.Nop())

	h.svc = schedule.NewService(h.repo, retrying, zerolog.Nop(), schedule.WithClock(clock))
	orchOpts := append([]schedule.OrchestratorOption{
		schedule.WithCommitPolicy(schedule.CommitPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}),
		schedule.WithOrchestratorClock(clock),
	}, opts...)
	h.orch = schedule.NewOrchestrator(h.repo, retrying, appointmenttest.NewLocker(), h.alerts, zerolog.Nop(), orchOpts...)
	h.recovery = schedule.NewRecovery(h.repo, h.orch, 2*time.Minute, zerolog.Nop())

	s, err := h.svc.Create(context.Background(), schedule.CreateRequest{
		StaffID:   h.doctor.ID,
		Day:       clinicNow,
		StartTime: "08:00",
		EndTime:   "16:00",
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	h.sched = s
	return h
}

// bookDay gives the doctor two timed appointments and one walk-in.
func (h *harness) bookDay(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		if _, err := h.appts.CreateScheduled(ctx, appointment.ScheduledRequest{
			PatientID: h.patient.ID,
			DoctorID:  h.doctor.ID,
			Time:      clinicNow.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("book: %v", err)
		}
	}
	if _, err := h.appts.RegisterWalkIn(ctx, appointment.WalkInRequest{PatientID: h.patient.ID, DoctorID: h.doctor.ID}); err != nil {
		t.Fatalf("walk-in: %v", err)
	}
}

func (h *harness) statuses() map[appointment.AppointmentStatus]int {
	out := map[appointment.AppointmentStatus]int{}
	for _, a := range h.apptRepo.All() {
		out[a.Status]++
	}
	return out
}

func (h *harness) scheduleStatus(t *testing.T) schedule.Status {
	t.Helper()
	s, err := h.repo.GetSchedule(context.Background(), h.sched.ID)
	if err != nil {
		t.Fatal(err)
	}
	return s.Status
}

func TestCancel_ForwardPath(t *testing.T) {
	h := newHarness(t)
	h.bookDay(t)
	ctx := context.Background()

	rec, err := h.orch.Cancel(ctx, h.sched.ID, "doctor on leave")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rec.Phase != schedule.PhaseCommitted || rec.CancelledCount != 3 {
		t.Errorf("unexpected saga record: phase=%s cancelled=%d", rec.Phase, rec.CancelledCount)
	}
	if got := h.scheduleStatus(t); got != schedule.StatusCancelled {
		t.Errorf("schedule %s, want CANCELLED", got)
	}
	if got := h.statuses()[appointment.StatusCancelled]; got != 3 {
		t.Errorf("expected 3 cancelled appointments, got %d", got)
	}
	if n, _ := h.appts.CountActiveByDoctorAndDate(ctx, h.doctor.ID, clinicNow); n != 0 {
		t.Errorf("expected 0 active, got %d", n)
	}
	for _, a := range h.apptRepo.All() {
		if a.UpdatedBy != "system" || *a.CancelReason != "doctor on leave" {
			t.Errorf("unexpected stamp on %s: by=%s reason=%s", a.ID, a.UpdatedBy, *a.CancelReason)
		}
	}

	if _, err := h.orch.Cancel(ctx, h.sched.ID, ""); !errors.Is(err, schedule.ErrScheduleCancelled) {
		t.Errorf("second cancel: expected ErrScheduleCancelled, got %v", err)
	}
}

func TestCancel_CompensatesPartialBulkCancel(t *testing.T) {
	h := newHarness(t)
	h.bookDay(t)
	ctx := context.Background()

	if _, err := h.svc.MarkBooked(ctx, h.sched.ID); err != nil {
		t.Fatal(err)
	}
	h.apptRepo.BulkCancelFault = func(done int) error {
		if done == 2 {
			return errors.New("appointment store crashed")
		}
		return nil
	}

	rec, err := h.orch.Cancel(ctx, h.sched.ID, "")
	if !errors.Is(err, schedule.ErrCancellationRolledBack) {
		t.Fatalf("expected ErrCancellationRolledBack, got %v", err)
	}
	if rec.Phase != schedule.PhaseRolledBack || rec.RestoredCount != 2 {
		t.Errorf("unexpected saga record: phase=%s restored=%d", rec.Phase, rec.RestoredCount)
	}
	if got := h.scheduleStatus(t); got != schedule.StatusBooked {
		t.Errorf("schedule %s, want pre-saga BOOKED", got)
	}
	if got := h.statuses()[appointment.StatusScheduled]; got != 3 {
		t.Errorf("expected all 3 appointments SCHEDULED, got %v", h.statuses())
	}

	h.apptRepo.BulkCancelFault = nil
	before := h.apptRepo.All()
	n, err := h.api.BulkRestore(ctx, h.doctor.ID, clinicNow)
	if err != nil || n != 0 {
		t.Fatalf("repeated compensation: n=%d err=%v", n, err)
	}
	after := h.apptRepo.All()
	for i := range before {
		if before[i].Status != after[i].Status || !before[i].UpdatedAt.Equal(after[i].UpdatedAt) {
			t.Errorf("repeated compensation touched %s", before[i].ID)
		}
	}

	if _, err := h.appts.RegisterWalkIn(ctx, appointment.WalkInRequest{PatientID: h.patient.ID, DoctorID: h.doctor.ID}); err != nil {
		t.Errorf("day should accept bookings after rollback: %v", err)
	}
}

func TestCancel_PreservesManualCancellation(t *testing.T) {
	h := newHarness(t)
	h.bookDay(t)
	ctx := context.Background()

	manual := h.apptRepo.All()[0]
	if _, err := h.appts.CancelAppointment(ctx, manual.ID, "patient travelling"); err != nil {
		t.Fatal(err)
	}
	h.apptRepo.BulkCancelFault = func(done int) error {
		if done == 1 {
			return errors.New("boom")
		}
		return nil
	}

	if _, err := h.orch.Cancel(ctx, h.sched.ID, ""); !errors.Is(err, schedule.ErrCancellationRolledBack) {
		t.Fatalf("expected rollback, got %v", err)
	}

	got, _ := h.appts.GetAppointment(ctx, manual.ID)
	if got.Status != appointment.StatusCancelled {
		t.Errorf("manual cancellation resurrected: %s", got.Status)
	}
	if n := h.statuses()[appointment.StatusScheduled]; n != 2 {
		t.Errorf("expected 2 scheduled, got %d", n)
	}
}

func TestCancel_CommitRetriedThenSucceeds(t *testing.T) {
	h := newHarness(t)
	h.bookDay(t)
	h.repo.CommitFault = func(call int) error {
		if call < 3 {
			return errors.New("connection reset")
		}
		return nil
	}

	rec, err := h.orch.Cancel(context.Background(), h.sched.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rec.Phase != schedule.PhaseCommitted || h.repo.CommitCalls() != 3 {
		t.Errorf("phase=%s commit calls=%d", rec.Phase, h.repo.CommitCalls())
	}
}

func TestCancel_CommitExhaustedCompensates(t *testing.T) {
	h := newHarness(t)
	h.bookDay(t)
	h.repo.CommitFault = func(int) error { return errors.New("disk full") }

	rec, err := h.orch.Cancel(context.Background(), h.sched.ID, "")
	if !errors.Is(err, schedule.ErrCancellationRolledBack) {
		t.Fatalf("expected rollback, got %v", err)
	}
	if h.repo.CommitCalls() != 3 {
		t.Errorf("expected 3 commit attempts, got %d", h.repo.CommitCalls())
	}
	if rec.Phase != schedule.PhaseRolledBack || rec.CancelledCount != 3 || rec.RestoredCount != 3 {
		t.Errorf("unexpected record %+v", rec)
	}
	if got := h.scheduleStatus(t); got != schedule.StatusAvailable {
		t.Errorf("schedule %s, want AVAILABLE", got)
	}
	if n := h.statuses()[appointment.StatusScheduled]; n != 3 {
		t.Errorf("expected 3 restored, got %d", n)
	}
}

func TestCancel_CompensationFailureAlertsAndParks(t *testing.T) {
	h := newHarness(t)
	h.bookDay(t)
	ctx := context.Background()

	h.api.cancelErr = apperr.Wrap(remote.ErrRemoteUnavailable, errors.New("timeout"))
	h.api.failRestore(apperr.Wrap(remote.ErrRemoteUnavailable, errors.New("connection refused")))

	rec, err := h.orch.Cancel(ctx, h.sched.ID, "")
	if !errors.Is(err, schedule.ErrCompensationFailed) || apperr.KindOf(err) != apperr.KindCompensationFailure {
		t.Fatalf("expected compensation failure, got %v", err)
	}
	if rec.Phase != schedule.PhaseCompensationFailed || rec.LastError == nil {
		t.Errorf("unexpected record %+v", rec)
	}
	if got := h.api.restoreCalls.Load(); got != 3 {
		t.Errorf("expected restore retried 3 times, got %d", got)
	}
	if got := h.scheduleStatus(t); got != schedule.StatusPendingCancel {
		t.Errorf("schedule %s, want PENDING_CANCEL", got)
	}
	if h.alerts.count() != 1 || h.alerts.alerts[0].SagaID != rec.ID {
		t.Fatalf("expected one alert for saga %s, got %+v", rec.ID, h.alerts.alerts)
	}

	avail, err := h.svc.Availability(ctx, h.doctor.ID, clinicNow)
	if err != nil || avail.Bookable {
		t.Errorf("parked day must not be bookable: %+v %v", avail, err)
	}
	if _, err := h.orch.Cancel(ctx, h.sched.ID, ""); !errors.Is(err, schedule.ErrCancellationInProgress) {
		t.Errorf("expected ErrCancellationInProgress, got %v", err)
	}

	h.api.healRestore()
	reconciled, err := h.orch.Reconcile(ctx, rec.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if reconciled.Phase != schedule.PhaseRolledBack {
		t.Errorf("phase %s, want ROLLED_BACK", reconciled.Phase)
	}
	if got := h.scheduleStatus(t); got != schedule.StatusAvailable {
		t.Errorf("schedule %s, want AVAILABLE", got)
	}

	if _, err := h.orch.Reconcile(ctx, rec.ID); !errors.Is(err, schedule.ErrSagaNotReconcilable) {
		t.Errorf("expected ErrSagaNotReconcilable, got %v", err)
	}
}

func TestCancel_MutualExclusionWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.bookDay(t)
	h.api.entered = make(chan struct{})
	h.api.release = make(chan struct{})

	type result struct {
		rec *schedule.SagaRecord
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := h.orch.Cancel(context.Background(), h.sched.ID, "")
		done <- result{rec, err}
	}()

	<-h.api.entered
	_, err := h.orch.Cancel(context.Background(), h.sched.ID, "")
	if !errors.Is(err, schedule.ErrCancellationInProgress) {
		t.Errorf("expected ErrCancellationInProgress, got %v", err)
	}
	close(h.api.release)

	first := <-done
	if first.err != nil || first.rec.Phase != schedule.PhaseCommitted {
		t.Fatalf("first saga: %+v %v", first.rec, first.err)
	}
	if h.repo.SagaCount() != 1 {
		t.Errorf("expected one saga record, got %d", h.repo.SagaCount())
	}
}

func TestCancel_ConcurrentRequestsRunOneSaga(t *testing.T) {
	h := newHarness(t)
	h.bookDay(t)

	const n = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Cancel(context.Background(), h.sched.ID, "")
			switch {
			case err == nil:
				successes.Add(1)
			case apperr.KindOf(err) == apperr.KindConflict:
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 || conflicts.Load() != n-1 {
		t.Errorf("successes=%d conflicts=%d", successes.Load(), conflicts.Load())
	}
	if h.repo.SagaCount() != 1 {
		t.Errorf("expected one saga record, got %d", h.repo.SagaCount())
	}
}

func TestRecovery_ResumesFromStarted(t *testing.T) {
	h := newHarness(t)
	h.bookDay(t)
	ctx := context.Background()

	// the process died right after the durable begin
	rec, err := h.repo.BeginCancellation(ctx, &schedule.SagaRecord{
		ScheduleID:  h.sched.ID,
		DoctorID:    h.doctor.ID,
		Day:         h.sched.Day,
		PriorStatus: schedule.StatusAvailable,
		Actor:       "system",
		Owner:       uuid.New(),
	}, clinicNow)
	if err != nil {
		t.Fatal(err)
	}

	if n, _ := h.recovery.ResumeStale(ctx); n != 0 {
		t.Fatalf("fresh saga must not be resumed, got %d", n)
	}

	h.setNow(clinicNow.Add(5 * time.Minute))
	n, err := h.recovery.ResumeStale(ctx)
	if err != nil || n != 1 {
		t.Fatalf("resume: n=%d err=%v", n, err)
	}

	got, _ := h.repo.GetSaga(ctx, rec.ID)
	if got.Phase != schedule.PhaseCommitted || got.CancelledCount != 3 {
		t.Errorf("unexpected record %+v", got)
	}
	if s := h.scheduleStatus(t); s != schedule.StatusCancelled {
		t.Errorf("schedule %s, want CANCELLED", s)
	}
}

func TestRecovery_ResumesFromAppointmentsCancelled(t *testing.T) {
	h := newHarness(t)
	h.bookDay(t)
	ctx := context.Background()

	rec, err := h.repo.BeginCancellation(ctx, &schedule.SagaRecord{
		ScheduleID:  h.sched.ID,
		DoctorID:    h.doctor.ID,
		Day:         h.sched.Day,
		PriorStatus: schedule.StatusAvailable,
		Actor:       "system",
		Owner:       uuid.New(),
	}, clinicNow)
	if err != nil {
		t.Fatal(err)
	}
	cancelled, err := h.api.BulkCancel(ctx, h.doctor.ID, h.sched.Day, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.repo.RecordAppointmentsCancelled(ctx, rec.ID, rec.Owner, cancelled, clinicNow); err != nil {
		t.Fatal(err)
	}

	h.setNow(clinicNow.Add(5 * time.Minute))
	if n, err := h.recovery.ResumeStale(ctx); err != nil || n != 1 {
		t.Fatalf("resume: n=%d err=%v", n, err)
	}

	got, _ := h.repo.GetSaga(ctx, rec.ID)
	if got.Phase != schedule.PhaseCommitted || got.CancelledCount != 3 || got.Attempts != 1 {
		t.Errorf("unexpected record %+v", got)
	}
	if n, _ := h.recovery.ResumeStale(ctx); n != 0 {
		t.Errorf("finished saga resumed again")
	}
}

type cancelResult struct {
	rec *schedule.SagaRecord
	err error
}

// stallFirstCancel starts a saga whose bulk cancel blocks until the returned
// release func is called, and waits until it is blocked.
func (h *harness) stallFirstCancel(t *testing.T) (release func(), done <-chan cancelResult) {
	t.Helper()
	h.api.entered = make(chan struct{})
	h.api.release = make(chan struct{})

	out := make(chan cancelResult, 1)
	go func() {
		rec, err := h.orch.Cancel(context.Background(), h.sched.ID, "doctor on leave")
		out <- cancelResult{rec, err}
	}()

	select {
	case <-h.api.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("bulk cancel never started")
	}
	return func() { close(h.api.release) }, out
}

func TestCancel_StaleDriverLeavesRecoveredSagaCommitted(t *testing.T) {
	h := newHarness(t)
	h.bookDay(t)
	ctx := context.Background()

	release, done := h.stallFirstCancel(t)

	h.setNow(clinicNow.Add(5 * time.Minute))
	if n, err := h.recovery.ResumeStale(ctx); err != nil || n != 1 {
		t.Fatalf("resume: n=%d err=%v", n, err)
	}
	if got := h.scheduleStatus(t); got != schedule.StatusCancelled {
		t.Fatalf("recovery should have committed, schedule %s", got)
	}

	release()
	first := <-done
	if first.err != nil {
		t.Fatalf("original driver: %v", first.err)
	}
	if first.rec.Phase != schedule.PhaseCommitted {
		t.Errorf("original driver reported %s, want COMMITTED", first.rec.Phase)
	}
	if got := h.scheduleStatus(t); got != schedule.StatusCancelled {
		t.Errorf("schedule %s, want CANCELLED", got)
	}
	if got := h.statuses()[appointment.StatusCancelled]; got != 3 {
		t.Errorf("expected 3 cancelled appointments, got %v", h.statuses())
	}
	if h.api.restoreCalls.Load() != 0 || h.alerts.count() != 0 {
		t.Errorf("committed saga compensated: restores=%d alerts=%d", h.api.restoreCalls.Load(), h.alerts.count())
	}
}

func TestCancel_StaleDriverFailureDoesNotCompensateCommittedSaga(t *testing.T) {
	h := newHarness(t)
	h.bookDay(t)
	ctx := context.Background()

	release, done := h.stallFirstCancel(t)

	h.setNow(clinicNow.Add(5 * time.Minute))
	if n, err := h.recovery.ResumeStale(ctx); err != nil || n != 1 {
		t.Fatalf("resume: n=%d err=%v", n, err)
	}

	// the original driver's remote call comes back failed after the takeover
	h.api.cancelErr = apperr.Wrap(remote.ErrRemoteUnavailable, errors.New("timeout"))
	release()
	first := <-done
	if first.err != nil || first.rec.Phase != schedule.PhaseCommitted {
		t.Fatalf("original driver: %+v %v", first.rec, first.err)
	}

	if got := h.scheduleStatus(t); got != schedule.StatusCancelled {
		t.Errorf("schedule %s, want CANCELLED", got)
	}
	if got := h.statuses()[appointment.StatusCancelled]; got != 3 {
		t.Errorf("appointments restored under a committed saga: %v", h.statuses())
	}
	if h.api.restoreCalls.Load() != 0 {
		t.Errorf("expected no restore, got %d", h.api.restoreCalls.Load())
	}
	if h.alerts.count() != 0 {
		t.Errorf("expected no operator alert, got %d", h.alerts.count())
	}
	if !h.apptRepo.DayClosed(h.doctor.ID, clinicNow) {
		t.Error("day gate reopened under a committed saga")
	}
}

func TestCancel_TakenOverDriverStopsWithoutWriting(t *testing.T) {
	h := newHarness(t)
	h.bookDay(t)
	ctx := context.Background()

	release, done := h.stallFirstCancel(t)

	// another instance takes the lease but has not moved the saga yet
	rec := h.repo.Sagas()[0]
	if _, err := h.repo.ClaimSaga(ctx, rec.ID, rec.UpdatedAt, uuid.New(), clinicNow.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	release()
	first := <-done
	if !errors.Is(first.err, schedule.ErrCancellationInProgress) {
		t.Fatalf("expected ErrCancellationInProgress, got %v", first.err)
	}

	got, _ := h.repo.GetSaga(ctx, rec.ID)
	if got.Phase != schedule.PhaseStarted {
		t.Errorf("phase %s, the new owner should find the saga untouched", got.Phase)
	}
	if h.api.restoreCalls.Load() != 0 || h.alerts.count() != 0 {
		t.Errorf("restores=%d alerts=%d", h.api.restoreCalls.Load(), h.alerts.count())
	}
}

func TestRecovery_SkipsSagaWithLiveLease(t *testing.T) {
	h := newHarness(t, schedule.WithLeaseRenewal(5*time.Millisecond))
	h.bookDay(t)
	ctx := context.Background()

	release, done := h.stallFirstCancel(t)

	later := clinicNow.Add(10 * time.Minute)
	h.setNow(later)

	deadline := time.Now().Add(2 * time.Second)
	for !h.repo.Sagas()[0].UpdatedAt.Equal(later) {
		if time.Now().After(deadline) {
			t.Fatal("lease was never renewed")
		}
		time.Sleep(time.Millisecond)
	}

	if n, err := h.recovery.ResumeStale(ctx); err != nil || n != 0 {
		t.Fatalf("saga with a live lease resumed: n=%d err=%v", n, err)
	}

	release()
	first := <-done
	if first.err != nil || first.rec.Phase != schedule.PhaseCommitted {
		t.Fatalf("driver: %+v %v", first.rec, first.err)
	}
	if first.rec.Attempts != 0 {
		t.Errorf("saga was claimed %d times", first.rec.Attempts)
	}
}
