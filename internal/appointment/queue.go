package appointment

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

func priorityOf(a Appointment) int {
	if a.Priority == nil {
		return PriorityNormal
	}
	return *a.Priority
}

func queueNumberOf(a Appointment) int {
	if a.QueueNumber == nil {
		return 0
	}
	return *a.QueueNumber
}

// SortByServiceOrder orders walk-ins the way they are to be seen: lower
// priority first, equal priority by ascending queue number.
func SortByServiceOrder(appts []Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		pi, pj := priorityOf(appts[i]), priorityOf(appts[j])
		if pi != pj {
			return pi < pj
		}
		return queueNumberOf(appts[i]) < queueNumberOf(appts[j])
	})
}

// ListQueue returns the walk-ins still waiting for the doctor's day in service order.
func (s *Service) ListQueue(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error) {
	all, err := s.ListAppointmentsByDoctorAndDate(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}

	waiting := make([]Appointment, 0, len(all))
	for _, a := range all {
		if a.IsWalkIn() && a.Status == StatusScheduled {
			waiting = append(waiting, a)
		}
	}

	SortByServiceOrder(waiting)
	return waiting, nil
}

// CallNext starts the consultation of the head of today's queue. A head taken
// by a concurrent caller is skipped.
func (s *Service) CallNext(ctx context.Context, doctorID uuid.UUID) (*Appointment, error) {
	queue, err := s.ListQueue(ctx, doctorID, DayOf(s.now()))
	if err != nil {
		return nil, err
	}

	for _, candidate := range queue {
		started, err := s.StartConsultation(ctx, candidate.ID)
		if err == nil {
			return started, nil
		}
		if errors.Is(err, ErrInvalidStatusTransition) {
			continue
		}
		return nil, err
	}

	return nil, ErrQueueEmpty
}
