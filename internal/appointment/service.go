package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/apperr"
	"github.com/hackgods/hospital-scheduling/internal/logging"
	redisclient "github.com/hackgods/hospital-scheduling/internal/redis"
	"github.com/hackgods/hospital-scheduling/internal/reqctx"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventWalkInRegistered     = "WALK_IN_REGISTERED"
	EventConsultationStarted  = "CONSULTATION_STARTED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
	EventAppointmentRestored  = "APPOINTMENT_RESTORED"
)

// DefaultSagaCancelReason is stamped when a bulk cancel arrives without a reason.
const DefaultSagaCancelReason = "doctor schedule cancelled"

// transitions lists the moves a caller may request. CANCELLED -> SCHEDULED is
// deliberately absent: only BulkRestoreByDoctorAndDate performs it.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal single-appointment move.
func CanTransition(from, to AppointmentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Service is the appointment lifecycle manager and the only writer of
// appointment status.
type Service struct {
	repo         Repository
	directory    Directory
	sequencer    Sequencer
	locker       redisclient.Locker
	availability AvailabilityChecker
	hooks        *Hooks
	logger       zerolog.Logger
	now          func() time.Time
	noShowGrace  time.Duration
}

type Option func(*Service)

// WithDirectory replaces the repository as the snapshot source, e.g. with a CachedDirectory.
func WithDirectory(d Directory) Option { return func(s *Service) { s.directory = d } }

// WithAvailability makes bookings ask the schedule owner first.
func WithAvailability(c AvailabilityChecker) Option { return func(s *Service) { s.availability = c } }

func WithHooks(h *Hooks) Option { return func(s *Service) { s.hooks = h } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithNoShowGrace(d time.Duration) Option { return func(s *Service) { s.noShowGrace = d } }

func NewService(repo Repository, sequencer Sequencer, locker redisclient.Locker, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		directory:   repo,
		sequencer:   sequencer,
		locker:      locker,
		hooks:       NewHooks(),
		logger:      logger,
		now:         time.Now,
		noShowGrace: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hooks exposes the registry so callers can add extension points after construction.
func (s *Service) Hooks() *Hooks { return s.hooks }

type ScheduledRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Time      time.Time
	Reason    string
	Notes     *string
}

// CreateScheduled books a time slotted appointment. The slot lock plus the
// re-check inside it keep two concurrent requests from taking the same time.
func (s *Service) CreateScheduled(ctx context.Context, req ScheduledRequest) (*Appointment, error) {
	if req.Time.IsZero() {
		return nil, apperr.Wrap(ErrInvalidAppointment, errors.New("appointment_time is required"))
	}
	if req.Time.Before(s.now()) {
		return nil, apperr.Wrap(ErrInvalidAppointment, errors.New("appointment_time is in the past"))
	}

	patient, doctor, err := s.resolve(ctx, req.PatientID, req.DoctorID)
	if err != nil {
		return nil, err
	}

	day := DayOf(req.Time)
	if err := s.checkBookable(ctx, doctor.ID, day); err != nil {
		return nil, err
	}

	at := req.Time
	appt := s.newAppointment(ctx, patient, doctor, day, req.Reason, req.Notes)
	appt.AppointmentTime = &at

	if err := s.hooks.runBefore(ctx, TransitionCreate, appt); err != nil {
		return nil, err
	}

	var created *Appointment

	err = s.locker.WithLock(ctx, redisclient.SlotLockKey(doctor.ID, at), func(lockCtx context.Context) error {
		// Inside the critical section re-check for a live appointment at this time
		existing, err := s.repo.GetLiveAppointmentForSlot(lockCtx, doctor.ID, at)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check slot: %w", err)
		}
		if existing != nil {
			return ErrSlotTaken
		}

		created, err = s.repo.CreateAppointment(lockCtx, appt)
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"doctor_id":        created.DoctorID.String(),
		"patient_id":       created.PatientID.String(),
		"appointment_time": at,
	})
	s.hooks.runAfter(ctx, TransitionCreate, *created)

	return created, nil
}

type WalkInRequest struct {
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	Reason         string
	PriorityReason *PriorityReason
	Notes          *string
}

// RegisterWalkIn queues a patient for today with the doctor. The queue number
// comes from the sequencer; numbers burnt by a failed insert are not reused.
func (s *Service) RegisterWalkIn(ctx context.Context, req WalkInRequest) (*Appointment, error) {
	if req.PriorityReason != nil && *req.PriorityReason == "" {
		req.PriorityReason = nil
	}
	priority, err := PriorityFor(req.PriorityReason)
	if err != nil {
		return nil, err
	}

	patient, doctor, err := s.resolve(ctx, req.PatientID, req.DoctorID)
	if err != nil {
		return nil, err
	}

	day := DayOf(s.now())
	if err := s.checkBookable(ctx, doctor.ID, day); err != nil {
		return nil, err
	}

	appt := s.newAppointment(ctx, patient, doctor, day, req.Reason, req.Notes)
	appt.Priority = &priority
	appt.PriorityReason = req.PriorityReason

	if err := s.hooks.runBefore(ctx, TransitionWalkIn, appt); err != nil {
		return nil, err
	}

	number, err := s.sequencer.NextQueueNumber(ctx, doctor.ID, day)
	if err != nil {
		return nil, fmt.Errorf("assign queue number: %w", err)
	}
	appt.QueueNumber = &number

	created, err := s.repo.CreateAppointment(ctx, appt)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventWalkInRegistered, map[string]any{
		"doctor_id":    created.DoctorID.String(),
		"patient_id":   created.PatientID.String(),
		"queue_number": number,
		"priority":     priority,
	})
	s.hooks.runAfter(ctx, TransitionWalkIn, *created)

	return created, nil
}

// StartConsultation moves SCHEDULED -> IN_PROGRESS.
func (s *Service) StartConsultation(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, TransitionStart, StatusInProgress, nil, EventConsultationStarted)
}

// CompleteConsultation moves IN_PROGRESS -> COMPLETED.
func (s *Service) CompleteConsultation(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, TransitionComplete, StatusCompleted, nil, EventAppointmentCompleted)
}

// CancelAppointment is a patient or staff cancellation. It is never undone by
// a saga restore.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, id, TransitionCancel, StatusCancelled, &reason, EventAppointmentCancelled)
}

// MarkNoShow moves SCHEDULED -> NO_SHOW once the appointment time plus the
// grace window has passed. Walk-ins qualify once their day is over.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, TransitionNoShow, StatusNoShow, nil, EventAppointmentNoShow)
}

func (s *Service) noShowDue(a *Appointment, now time.Time) bool {
	if a.AppointmentTime != nil {
		return now.After(a.AppointmentTime.Add(s.noShowGrace))
	}
	return DayOf(now).After(a.AppointmentDate)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, kind TransitionKind, to AppointmentStatus, cancelReason *string, event string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	now := s.now()
	from := appt.Status

	if !CanTransition(from, to) {
		return nil, apperr.Wrap(ErrInvalidStatusTransition, fmt.Errorf("%s -> %s", from, to))
	}
	if to == StatusNoShow && !s.noShowDue(appt, now) {
		return nil, ErrNoShowTooEarly
	}

	if err := s.hooks.runBefore(ctx, kind, appt); err != nil {
		return nil, err
	}

	change := StatusChange{To: to, Actor: reqctx.Actor(ctx), At: now}
	if to == StatusCancelled {
		origin := CancelOriginManual
		change.CancelReason = cancelReason
		change.CancelOrigin = &origin
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, from, change)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// the row left `from` between our read and the conditional update
			return nil, apperr.Wrap(ErrInvalidStatusTransition, fmt.Errorf("appointment %s changed concurrently", id))
		}
		return nil, fmt.Errorf("%s appointment: %w", kind, err)
	}

	payload := map[string]any{"from": from, "to": to}
	if cancelReason != nil {
		payload["reason"] = *cancelReason
	}
	s.logEvent(ctx, updated.ID, event, payload)
	s.hooks.runAfter(ctx, kind, *updated)

	return updated, nil
}

// BulkCancelByDoctorAndDate cancels every active appointment of the doctor's
// day and closes the day to new bookings. Repeating it finds nothing left to
// do and returns 0.
func (s *Service) BulkCancelByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, day time.Time, reason string) (int, error) {
	day = DayOf(day)
	if reason == "" {
		reason = DefaultSagaCancelReason
	}
	origin := CancelOriginScheduleSaga

	change := StatusChange{
		To:           StatusCancelled,
		Actor:        reqctx.Actor(ctx),
		At:           s.now(),
		CancelReason: &reason,
		CancelOrigin: &origin,
	}

	cancelled, err := s.repo.BulkCancel(ctx, doctorID, day, change)
	if err != nil {
		return 0, fmt.Errorf("bulk cancel: %w", err)
	}

	for _, a := range cancelled {
		s.logEvent(ctx, a.ID, EventAppointmentCancelled, map[string]any{
			"origin": origin,
			"reason": reason,
		})
		s.hooks.runAfter(ctx, TransitionBulkCancel, a)
	}

	logging.WithRequest(ctx, s.logger).Info().
		Str("doctor_id", doctorID.String()).
		Str("day", day.Format(time.DateOnly)).
		Int("cancelled", len(cancelled)).
		Msg("bulk cancel applied")

	return len(cancelled), nil
}

// CountActiveByDoctorAndDate counts SCHEDULED and IN_PROGRESS appointments.
func (s *Service) CountActiveByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	n, err := s.repo.CountActive(ctx, doctorID, DayOf(day))
	if err != nil {
		return 0, fmt.Errorf("count active: %w", err)
	}
	return n, nil
}

// BulkRestoreByDoctorAndDate reverts the saga cancellations of the doctor's day
// and reopens it. Manual cancellations are left alone; repeating it returns 0.
func (s *Service) BulkRestoreByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	day = DayOf(day)

	restored, err := s.repo.BulkRestore(ctx, doctorID, day, reqctx.Actor(ctx), s.now())
	if err != nil {
		return 0, fmt.Errorf("bulk restore: %w", err)
	}

	for _, a := range restored {
		s.logEvent(ctx, a.ID, EventAppointmentRestored, map[string]any{
			"from": StatusCancelled,
			"to":   StatusScheduled,
		})
		s.hooks.runAfter(ctx, TransitionRestore, a)
	}

	logging.WithRequest(ctx, s.logger).Info().
		Str("doctor_id", doctorID.String()).
		Str("day", day.Format(time.DateOnly)).
		Int("restored", len(restored)).
		Msg("bulk restore applied")

	return len(restored), nil
}

// GetAppointment retrieves an appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// ListAppointmentsByDoctorAndDate returns the whole day, timed and walk-in.
func (s *Service) ListAppointmentsByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error) {
	appointments, err := s.repo.ListByDoctorAndDate(ctx, doctorID, DayOf(day))
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appointments, nil
}

func (s *Service) resolve(ctx context.Context, patientID, doctorID uuid.UUID) (*Patient, *Doctor, error) {
	patient, err := s.directory.GetPatientByID(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load patient: %w", err)
	}

	doctor, err := s.directory.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load doctor: %w", err)
	}

	return patient, doctor, nil
}

func (s *Service) checkBookable(ctx context.Context, doctorID uuid.UUID, day time.Time) error {
	if s.availability == nil {
		return nil
	}
	if err := s.availability.CheckBookable(ctx, doctorID, day); err != nil {
		if errors.Is(err, ErrScheduleUnavailable) {
			return err
		}
		return fmt.Errorf("check schedule availability: %w", err)
	}
	return nil
}

// newAppointment copies the patient and doctor fields by value so later edits
// to either record do not alter the appointment.
func (s *Service) newAppointment(ctx context.Context, p *Patient, d *Doctor, day time.Time, reason string, notes *string) *Appointment {
	actor := reqctx.Actor(ctx)
	return &Appointment{
		ID:              uuid.New(),
		PatientID:       p.ID,
		PatientName:     p.Name,
		DoctorID:        d.ID,
		DoctorName:      d.Name,
		Department:      d.Department,
		AppointmentDate: day,
		Status:          StatusScheduled,
		Reason:          reason,
		Notes:           notes,
		CreatedBy:       actor,
		UpdatedBy:       actor,
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	logger := logging.WithRequest(ctx, s.logger)

	data, err := json.Marshal(payload)
	if err != nil {
		logger.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Actor:         reqctx.Actor(ctx),
		TraceID:       reqctx.TraceID(ctx),
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		logger.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
