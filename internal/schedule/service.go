package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/apperr"
	"github.com/hackgods/hospital-scheduling/internal/logging"
	"github.com/hackgods/hospital-scheduling/internal/remote"
	"github.com/hackgods/hospital-scheduling/internal/reqctx"
)

const clockLayout = "15:04"

// Service is the schedule store's API for everything except cancellation,
// which goes through the Orchestrator.
type Service struct {
	repo         Repository
	appointments remote.AppointmentAPI
	logger       zerolog.Logger
	now          func() time.Time
}

type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

func NewService(repo Repository, appointments remote.AppointmentAPI, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, appointments: appointments, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateRequest struct {
	StaffID   uuid.UUID
	Day       time.Time
	StartTime string
	EndTime   string
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Schedule, error) {
	if req.StaffID == uuid.Nil {
		return nil, apperr.Wrap(ErrInvalidSchedule, errors.New("staff_id is required"))
	}
	if req.Day.IsZero() {
		return nil, apperr.Wrap(ErrInvalidSchedule, errors.New("day is required"))
	}
	start, err := time.Parse(clockLayout, req.StartTime)
	if err != nil {
		return nil, apperr.Wrap(ErrInvalidSchedule, fmt.Errorf("start_time must be HH:MM: %w", err))
	}
	end, err := time.Parse(clockLayout, req.EndTime)
	if err != nil {
		return nil, apperr.Wrap(ErrInvalidSchedule, fmt.Errorf("end_time must be HH:MM: %w", err))
	}
	if !end.After(start) {
		return nil, apperr.Wrap(ErrInvalidSchedule, errors.New("end_time must be after start_time"))
	}

	actor := reqctx.Actor(ctx)
	created, err := s.repo.CreateSchedule(ctx, &Schedule{
		StaffID:   req.StaffID,
		Day:       dayOf(req.Day),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Status:    StatusAvailable,
		CreatedBy: actor,
		UpdatedBy: actor,
	})
	if err != nil {
		return nil, err
	}

	logging.WithRequest(ctx, s.logger).Info().
		Str("schedule_id", created.ID.String()).
		Str("staff_id", created.StaffID.String()).
		Str("day", created.Day.Format(time.DateOnly)).
		Msg("schedule created")
	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.repo.GetSchedule(ctx, id)
}

func (s *Service) ListByStaff(ctx context.Context, staffID uuid.UUID, from, to time.Time) ([]Schedule, error) {
	if to.Before(from) {
		return nil, apperr.Wrap(ErrInvalidSchedule, errors.New("to is before from"))
	}
	return s.repo.ListSchedulesByStaff(ctx, staffID, dayOf(from), dayOf(to))
}

type Availability struct {
	DoctorID uuid.UUID
	Day      time.Time
	Bookable bool
	// Status is empty when the doctor has no schedule that day.
	Status Status
}

// Availability answers the appointment service's pre-booking check. A day
// without a schedule is not bookable, and neither is one held by a saga.
func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID, day time.Time) (*Availability, error) {
	day = dayOf(day)
	out := &Availability{DoctorID: doctorID, Day: day}

	sched, err := s.repo.GetScheduleByStaffAndDay(ctx, doctorID, day)
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return out, nil
		}
		return nil, err
	}

	out.Status = sched.Status
	out.Bookable = sched.Bookable()
	return out, nil
}

// MarkBooked moves AVAILABLE -> BOOKED.
func (s *Service) MarkBooked(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.move(ctx, id, StatusAvailable, StatusBooked)
}

// MarkAvailable moves BOOKED -> AVAILABLE.
func (s *Service) MarkAvailable(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.move(ctx, id, StatusBooked, StatusAvailable)
}

func (s *Service) move(ctx context.Context, id uuid.UUID, from, to Status) (*Schedule, error) {
	current, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardExternal(current); err != nil {
		return nil, err
	}
	if current.Status != from {
		return nil, apperr.Wrap(ErrInvalidStatusTransition, fmt.Errorf("%s -> %s", current.Status, to))
	}

	updated, err := s.repo.UpdateScheduleStatus(ctx, id, from, to, reqctx.Actor(ctx), s.now())
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return nil, apperr.Wrap(ErrInvalidStatusTransition, fmt.Errorf("schedule %s changed concurrently", id))
		}
		return nil, err
	}
	return updated, nil
}

// Delete removes a schedule that has no active appointments. A day with
// appointments must be cancelled instead so patients are notified. Cancelled
// schedules are kept.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	current, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if err := guardExternal(current); err != nil {
		return err
	}

	active, err := s.appointments.CountActive(ctx, current.StaffID, current.Day)
	if err != nil {
		return fmt.Errorf("count active appointments: %w", err)
	}
	if active > 0 {
		return apperr.Wrap(ErrActiveAppointments, fmt.Errorf("%d active appointments", active))
	}

	if err := s.repo.DeleteSchedule(ctx, id, current.Status); err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return apperr.Wrap(ErrInvalidStatusTransition, fmt.Errorf("schedule %s changed concurrently", id))
		}
		return err
	}

	logging.WithRequest(ctx, s.logger).Info().
		Str("schedule_id", id.String()).
		Msg("schedule deleted")
	return nil
}

// guardExternal rejects any caller other than the orchestrator from acting on
// a schedule in PENDING_CANCEL or CANCELLED.
func guardExternal(s *Schedule) error {
	switch s.Status {
	case StatusPendingCancel:
		return ErrCancellationInProgress
	case StatusCancelled:
		return ErrScheduleCancelled
	}
	return nil
}
