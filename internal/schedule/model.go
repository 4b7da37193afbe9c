package schedule

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAvailable     Status = "AVAILABLE"
	StatusBooked        Status = "BOOKED"
	StatusPendingCancel Status = "PENDING_CANCEL"
	StatusCancelled     Status = "CANCELLED"
)

// Schedule is one staff member's block for a day. PriorStatus is only set
// while a cancellation saga holds it in PENDING_CANCEL.
type Schedule struct {
	ID          uuid.UUID
	StaffID     uuid.UUID
	Day         time.Time
	StartTime   string
	EndTime     string
	Status      Status
	PriorStatus *Status
	CreatedBy   string
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Bookable reports whether new appointments may be placed on the day.
func (s *Schedule) Bookable() bool {
	return s.Status == StatusAvailable || s.Status == StatusBooked
}

type Phase string

const (
	PhaseStarted               Phase = "STARTED"
	PhaseAppointmentsCancelled Phase = "APPOINTMENTS_CANCELLED"
	PhaseCommitted             Phase = "COMMITTED"
	PhaseRolledBack            Phase = "ROLLED_BACK"
	// PhaseCompensationFailed waits for an operator; the schedule stays PENDING_CANCEL.
	PhaseCompensationFailed Phase = "COMPENSATION_FAILED"
)

// IsFinal reports whether the saga reached one of its two outcomes.
func (p Phase) IsFinal() bool {
	return p == PhaseCommitted || p == PhaseRolledBack
}

// SagaRecord is the durable log of one cancellation saga. It is written at
// every phase boundary so a restarted process can resume from the last one.
// Owner holds the lease: only that driver may move the saga, and it keeps
// UpdatedAt fresh while it works.
type SagaRecord struct {
	ID             uuid.UUID
	ScheduleID     uuid.UUID
	DoctorID       uuid.UUID
	Day            time.Time
	PriorStatus    Status
	Phase          Phase
	Reason         string
	CancelledCount int
	RestoredCount  int
	Attempts       int
	LastError      *string
	Actor          string
	Owner          uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
