package appointment_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/appointment/appointmenttest"
	"github.com/hackgods/hospital-scheduling/internal/reqctx"
)

var clinicNow = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

type fixture struct {
	repo    *appointmenttest.Repository
	svc     *appointment.Service
	doctor  appointment.Doctor
	patient appointment.Patient
	now     time.Time
}

func newFixture(t *testing.T, opts ...appointment.Option) *fixture {
	t.Helper()
	f := &fixture{repo: appointmenttest.NewRepository(), now: clinicNow}
	f.doctor = f.repo.AddDoctor("Dr. Ana Ruiz", "Cardiology")
	f.patient = f.repo.AddPatient("Tom Baker")

	opts = append([]appointment.Option{
		appointment.WithClock(func() time.Time { return f.now }),
		appointment.WithNoShowGrace(15 * time.Minute),
	}, opts...)
	f.svc = appointment.NewService(f.repo, appointmenttest.NewSequencer(), appointmenttest.NewLocker(), zerolog.Nop(), opts...)
	return f
}

func (f *fixture) walkIn(t *testing.T, reason *appointment.PriorityReason) *appointment.Appointment {
	t.Helper()
	a, err := f.svc.RegisterWalkIn(context.Background(), appointment.WalkInRequest{
		PatientID:      f.patient.ID,
		DoctorID:       f.doctor.ID,
		Reason:         "checkup",
		PriorityReason: reason,
	})
	if err != nil {
		t.Fatalf("register walk-in: %v", err)
	}
	return a
}

func (f *fixture) book(t *testing.T, at time.Time) *appointment.Appointment {
	t.Helper()
	a, err := f.svc.CreateScheduled(context.Background(), appointment.ScheduledRequest{
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		Time:      at,
		Reason:    "follow-up",
	})
	if err != nil {
		t.Fatalf("create scheduled: %v", err)
	}
	return a
}

func reasonPtr(r appointment.PriorityReason) *appointment.PriorityReason { return &r }

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		reason *appointment.PriorityReason
		want   int
	}{
		{nil, appointment.PriorityNormal},
		{reasonPtr(appointment.PriorityReasonEmergency), 10},
		{reasonPtr(appointment.PriorityReasonElderly), 50},
		{reasonPtr(appointment.PriorityReasonPregnant), 50},
		{reasonPtr(appointment.PriorityReasonDisability), 50},
	}
	for _, tt := range tests {
		got, err := appointment.PriorityFor(tt.reason)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tt.want {
			t.Errorf("PriorityFor(%v) = %d, want %d", tt.reason, got, tt.want)
		}
	}

	if _, err := appointment.PriorityFor(reasonPtr("VIP")); !errors.Is(err, appointment.ErrInvalidPriorityReason) {
		t.Errorf("expected ErrInvalidPriorityReason, got %v", err)
	}
}

func TestRegisterWalkIn_ConcurrentNumbersAreDistinct(t *testing.T) {
	f := newFixture(t)

	const n = 40
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := f.svc.RegisterWalkIn(context.Background(), appointment.WalkInRequest{
				PatientID: f.patient.ID,
				DoctorID:  f.doctor.ID,
			})
			if err != nil {
				t.Errorf("register walk-in: %v", err)
				return
			}
			mu.Lock()
			numbers = append(numbers, *a.QueueNumber)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(numbers)
	if len(numbers) != n {
		t.Fatalf("expected %d walk-ins, got %d", n, len(numbers))
	}
	for i := 1; i < len(numbers); i++ {
		if numbers[i] == numbers[i-1] {
			t.Fatalf("duplicate queue number %d", numbers[i])
		}
	}
}

func TestRegisterWalkIn_NumbersNotReusedAfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.walkIn(t, nil)
	if _, err := f.svc.CancelAppointment(ctx, first.ID, "changed mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	second := f.walkIn(t, nil)

	if *second.QueueNumber <= *first.QueueNumber {
		t.Errorf("expected queue number after %d, got %d", *first.QueueNumber, *second.QueueNumber)
	}
}

// stuckSequencer hands out the same number, as a reset counter would.
type stuckSequencer struct{}

func (stuckSequencer) NextQueueNumber(context.Context, uuid.UUID, time.Time) (int, error) {
	return 1, nil
}

func TestRegisterWalkIn_DuplicateQueueNumberIsNotSlotConflict(t *testing.T) {
	repo := appointmenttest.NewRepository()
	doctor := repo.AddDoctor("Dr. Ana Ruiz", "Cardiology")
	patient := repo.AddPatient("Tom Baker")
	svc := appointment.NewService(repo, stuckSequencer{}, appointmenttest.NewLocker(), zerolog.Nop(),
		appointment.WithClock(func() time.Time { return clinicNow }))

	req := appointment.WalkInRequest{PatientID: patient.ID, DoctorID: doctor.ID}
	if _, err := svc.RegisterWalkIn(context.Background(), req); err != nil {
		t.Fatalf("first walk-in: %v", err)
	}

	_, err := svc.RegisterWalkIn(context.Background(), req)
	if !errors.Is(err, appointment.ErrQueueNumberTaken) {
		t.Fatalf("expected ErrQueueNumberTaken, got %v", err)
	}
	if errors.Is(err, appointment.ErrSlotTaken) {
		t.Error("walk-in collision reported as a slot conflict")
	}
}

func TestListQueue_ServiceOrder(t *testing.T) {
	f := newFixture(t)

	f.walkIn(t, nil)
	f.walkIn(t, reasonPtr(appointment.PriorityReasonEmergency))
	f.walkIn(t, reasonPtr(appointment.PriorityReasonElderly))
	f.walkIn(t, nil)

	queue, err := f.svc.ListQueue(context.Background(), f.doctor.ID, clinicNow)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}

	type slot struct{ priority, number int }
	want := []slot{{10, 2}, {50, 3}, {100, 1}, {100, 4}}
	if len(queue) != len(want) {
		t.Fatalf("expected %d waiting, got %d", len(want), len(queue))
	}
	for i, a := range queue {
		got := slot{*a.Priority, *a.QueueNumber}
		if got != want[i] {
			t.Errorf("position %d: got %+v, want %+v", i, got, want[i])
		}
	}
}

func TestCallNext_StartsHeadOfQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.walkIn(t, nil)
	urgent := f.walkIn(t, reasonPtr(appointment.PriorityReasonEmergency))

	started, err := f.svc.CallNext(ctx, f.doctor.ID)
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if started.ID != urgent.ID || started.Status != appointment.StatusInProgress {
		t.Errorf("expected emergency walk-in in progress, got %s %s", started.ID, started.Status)
	}

	if _, err := f.svc.CallNext(ctx, f.doctor.ID); err != nil {
		t.Fatalf("second call next: %v", err)
	}
	if _, err := f.svc.CallNext(ctx, f.doctor.ID); !errors.Is(err, appointment.ErrQueueEmpty) {
		t.Errorf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestRegisterWalkIn_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RegisterWalkIn(ctx, appointment.WalkInRequest{PatientID: f.patient.ID, DoctorID: uuid.New()})
	if !errors.Is(err, appointment.ErrDoctorNotFound) {
		t.Errorf("expected ErrDoctorNotFound, got %v", err)
	}

	_, err = f.svc.RegisterWalkIn(ctx, appointment.WalkInRequest{
		PatientID:      f.patient.ID,
		DoctorID:       f.doctor.ID,
		PriorityReason: reasonPtr("VIP"),
	})
	if !errors.Is(err, appointment.ErrInvalidPriorityReason) {
		t.Errorf("expected ErrInvalidPriorityReason, got %v", err)
	}
}

func TestCreateScheduled_SlotConflict(t *testing.T) {
	f := newFixture(t)
	at := clinicNow.Add(2 * time.Hour)

	f.book(t, at)

	_, err := f.svc.CreateScheduled(context.Background(), appointment.ScheduledRequest{
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		Time:      at,
	})
	if !errors.Is(err, appointment.ErrSlotTaken) {
		t.Errorf("expected ErrSlotTaken, got %v", err)
	}
}

func TestCreateScheduled_SlotFreedByCancellation(t *testing.T) {
	f := newFixture(t)
	at := clinicNow.Add(2 * time.Hour)

	first := f.book(t, at)
	if _, err := f.svc.CancelAppointment(context.Background(), first.ID, "travel"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.book(t, at)
}

func TestCreateScheduled_RejectsPastTime(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateScheduled(context.Background(), appointment.ScheduledRequest{
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		Time:      clinicNow.Add(-time.Hour),
	})
	if !errors.Is(err, appointment.ErrInvalidAppointment) {
		t.Errorf("expected ErrInvalidAppointment, got %v", err)
	}
}

func TestSnapshotSurvivesDirectoryEdit(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, clinicNow.Add(time.Hour))

	f.repo.RenameDoctor(f.doctor.ID, "Dr. Ana Ruiz-Okafor")

	got, err := f.svc.GetAppointment(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DoctorName != "Dr. Ana Ruiz" || got.Department != "Cardiology" || got.PatientName != "Tom Baker" {
		t.Errorf("snapshot changed: %+v", got)
	}
}

func TestStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := reqctx.WithActor(context.Background(), "dr-ruiz")
	a := f.walkIn(t, nil)

	if _, err := f.svc.CompleteConsultation(ctx, a.ID); !errors.Is(err, appointment.ErrInvalidStatusTransition) {
		t.Fatalf("complete before start: expected ErrInvalidStatusTransition, got %v", err)
	}

	started, err := f.svc.StartConsultation(ctx, a.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != appointment.StatusInProgress || started.UpdatedBy != "dr-ruiz" {
		t.Errorf("unexpected after start: %s by %s", started.Status, started.UpdatedBy)
	}

	done, err := f.svc.CompleteConsultation(ctx, a.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != appointment.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", done.Status)
	}

	if _, err := f.svc.CancelAppointment(ctx, a.ID, "late"); !errors.Is(err, appointment.ErrInvalidStatusTransition) {
		t.Errorf("cancel after completion: expected ErrInvalidStatusTransition, got %v", err)
	}
}

func TestCanTransition_NoManualRestore(t *testing.T) {
	if appointment.CanTransition(appointment.StatusCancelled, appointment.StatusScheduled) {
		t.Error("CANCELLED -> SCHEDULED must only happen through bulk restore")
	}
	if !appointment.CanTransition(appointment.StatusInProgress, appointment.StatusCancelled) {
		t.Error("IN_PROGRESS -> CANCELLED must be allowed")
	}
	if appointment.CanTransition(appointment.StatusInProgress, appointment.StatusNoShow) {
		t.Error("IN_PROGRESS -> NO_SHOW must not be allowed")
	}
}

func TestMarkNoShow_RespectsGraceWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, clinicNow.Add(time.Hour))

	f.now = clinicNow.Add(time.Hour + 10*time.Minute)
	if _, err := f.svc.MarkNoShow(ctx, a.ID); !errors.Is(err, appointment.ErrNoShowTooEarly) {
		t.Fatalf("expected ErrNoShowTooEarly, got %v", err)
	}

	f.now = clinicNow.Add(time.Hour + 16*time.Minute)
	got, err := f.svc.MarkNoShow(ctx, a.ID)
	if err != nil {
		t.Fatalf("mark no-show: %v", err)
	}
	if got.Status != appointment.StatusNoShow {
		t.Errorf("expected NO_SHOW, got %s", got.Status)
	}
}

func TestSweepNoShows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	overdue := f.book(t, clinicNow.Add(30*time.Minute))
	later := f.book(t, clinicNow.Add(5*time.Hour))
	walkIn := f.walkIn(t, nil)

	f.now = clinicNow.Add(time.Hour)
	n, err := f.svc.SweepNoShows(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 no-show, got %d", n)
	}

	f.now = clinicNow.AddDate(0, 0, 1)
	n, err = f.svc.SweepNoShows(ctx)
	if err != nil {
		t.Fatalf("sweep next day: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected later booking and walk-in next day, got %d", n)
	}

	for _, id := range []uuid.UUID{overdue.ID, later.ID, walkIn.ID} {
		a, _ := f.svc.GetAppointment(ctx, id)
		if a.Status != appointment.StatusNoShow {
			t.Errorf("%s: expected NO_SHOW, got %s", id, a.Status)
		}
	}
}

func TestBulkCancel_IdempotentAndClosesDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, clinicNow.Add(time.Hour))
	f.walkIn(t, nil)
	inProgress := f.walkIn(t, nil)
	if _, err := f.svc.StartConsultation(ctx, inProgress.ID); err != nil {
		t.Fatal(err)
	}

	n, err := f.svc.BulkCancelByDoctorAndDate(ctx, f.doctor.ID, clinicNow, "doctor sick")
	if err != nil {
		t.Fatalf("bulk cancel: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 cancelled, got %d", n)
	}
	stamped := map[uuid.UUID]time.Time{}
	for _, a := range f.repo.All() {
		if a.Status != appointment.StatusCancelled || a.CancelOrigin == nil || *a.CancelOrigin != appointment.CancelOriginScheduleSaga {
			t.Errorf("%s not saga cancelled: %+v", a.ID, a)
			continue
		}
		if a.UpdatedBy != reqctx.SystemActor {
			t.Errorf("expected system actor, got %s", a.UpdatedBy)
		}
		stamped[a.ID] = *a.CancelledAt
	}

	f.now = clinicNow.Add(time.Minute)
	n, err = f.svc.BulkCancelByDoctorAndDate(ctx, f.doctor.ID, clinicNow, "doctor sick")
	if err != nil {
		t.Fatalf("second bulk cancel: %v", err)
	}
	if n != 0 {
		t.Errorf("expected retry to cancel 0, got %d", n)
	}
	for _, a := range f.repo.All() {
		if !a.CancelledAt.Equal(stamped[a.ID]) {
			t.Errorf("%s was stamped twice", a.ID)
		}
	}

	if count, _ := f.svc.CountActiveByDoctorAndDate(ctx, f.doctor.ID, clinicNow); count != 0 {
		t.Errorf("expected 0 active, got %d", count)
	}

	_, err = f.svc.RegisterWalkIn(ctx, appointment.WalkInRequest{PatientID: f.patient.ID, DoctorID: f.doctor.ID})
	if !errors.Is(err, appointment.ErrScheduleUnavailable) {
		t.Errorf("expected closed day to reject walk-in, got %v", err)
	}
}

func TestBulkRestore_OnlySagaCancellations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	manual := f.book(t, clinicNow.Add(time.Hour))
	if _, err := f.svc.CancelAppointment(ctx, manual.ID, "patient moved"); err != nil {
		t.Fatal(err)
	}
	f.book(t, clinicNow.Add(2*time.Hour))
	f.walkIn(t, nil)

	if _, err := f.svc.BulkCancelByDoctorAndDate(ctx, f.doctor.ID, clinicNow, ""); err != nil {
		t.Fatal(err)
	}

	n, err := f.svc.BulkRestoreByDoctorAndDate(ctx, f.doctor.ID, clinicNow)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 restored, got %d", n)
	}

	n, err = f.svc.BulkRestoreByDoctorAndDate(ctx, f.doctor.ID, clinicNow)
	if err != nil || n != 0 {
		t.Fatalf("second restore: n=%d err=%v", n, err)
	}

	got, _ := f.svc.GetAppointment(ctx, manual.ID)
	if got.Status != appointment.StatusCancelled || *got.CancelReason != "patient moved" {
		t.Errorf("manual cancellation was touched: %+v", got)
	}
	if count, _ := f.svc.CountActiveByDoctorAndDate(ctx, f.doctor.ID, clinicNow); count != 2 {
		t.Errorf("expected 2 active after restore, got %d", count)
	}
	if f.repo.DayClosed(f.doctor.ID, clinicNow) {
		t.Error("expected day to reopen after restore")
	}
}

type stubAvailability struct{ err error }

func (s stubAvailability) CheckBookable(context.Context, uuid.UUID, time.Time) error { return s.err }

func TestBooking_RejectedWhenScheduleUnavailable(t *testing.T) {
	f := newFixture(t, appointment.WithAvailability(stubAvailability{err: appointment.ErrScheduleUnavailable}))

	_, err := f.svc.CreateScheduled(context.Background(), appointment.ScheduledRequest{
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		Time:      clinicNow.Add(time.Hour),
	})
	if !errors.Is(err, appointment.ErrScheduleUnavailable) {
		t.Errorf("expected ErrScheduleUnavailable, got %v", err)
	}
}

func TestHooks_BeforeVetoesAndAfterObserves(t *testing.T) {
	hooks := appointment.NewHooks()
	var seen []appointment.AppointmentStatus
	hooks.Register(appointment.TransitionCancel, appointment.Hook{
		Name: "require-reason",
		Before: func(_ context.Context, a *appointment.Appointment) error {
			if a.Notes == nil {
				return errors.New("notes required")
			}
			return nil
		},
	})
	hooks.Register(appointment.TransitionBulkCancel, appointment.Hook{
		Name:  "notify",
		After: func(_ context.Context, a appointment.Appointment) { seen = append(seen, a.Status) },
	})

	f := newFixture(t, appointment.WithHooks(hooks))
	ctx := context.Background()
	a := f.walkIn(t, nil)

	if _, err := f.svc.CancelAppointment(ctx, a.ID, "x"); err == nil {
		t.Fatal("expected before hook to veto cancel")
	}
	if got, _ := f.svc.GetAppointment(ctx, a.ID); got.Status != appointment.StatusScheduled {
		t.Fatalf("vetoed cancel changed status to %s", got.Status)
	}

	if _, err := f.svc.BulkCancelByDoctorAndDate(ctx, f.doctor.ID, clinicNow, ""); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != appointment.StatusCancelled {
		t.Errorf("expected one after-hook call with CANCELLED, got %v", seen)
	}
}

func TestTransitionsWriteAuditTrail(t *testing.T) {
	f := newFixture(t)
	ctx := reqctx.WithTraceID(reqctx.WithActor(context.Background(), "nurse-3"), "trace-9")
	a := f.walkIn(t, nil)

	if _, err := f.svc.StartConsultation(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	events := f.repo.Events()
	last := events[len(events)-1]
	if last.EventType != appointment.EventConsultationStarted {
		t.Fatalf("expected %s, got %s", appointment.EventConsultationStarted, last.EventType)
	}
	if last.Actor != "nurse-3" || last.TraceID != "trace-9" {
		t.Errorf("unexpected audit stamp: actor=%s trace=%s", last.Actor, last.TraceID)
	}
}
