package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "SCHEDULED"
	StatusInProgress AppointmentStatus = "IN_PROGRESS"
	StatusCompleted  AppointmentStatus = "COMPLETED"
	StatusCancelled  AppointmentStatus = "CANCELLED"
	StatusNoShow     AppointmentStatus = "NO_SHOW"
)

// IsTerminal reports whether no further transition is allowed, saga restore aside.
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// activeStatuses are the non-terminal ones; bulk cancel and the active count use them.
var activeStatuses = []AppointmentStatus{StatusScheduled, StatusInProgress}

// CancelOrigin tells who cancelled an appointment. Only SCHEDULE_SAGA
// cancellations are eligible for bulk restore.
type CancelOrigin string

const (
	CancelOriginManual       CancelOrigin = "MANUAL"
	CancelOriginScheduleSaga CancelOrigin = "SCHEDULE_SAGA"
)

type PriorityReason string

const (
	PriorityReasonEmergency  PriorityReason = "EMERGENCY"
	PriorityReasonElderly    PriorityReason = "ELDERLY"
	PriorityReasonPregnant   PriorityReason = "PREGNANT"
	PriorityReasonDisability PriorityReason = "DISABILITY"
)

// Priority tiers, lower is served first.
const (
	PriorityEmergency = 10
	PriorityPriority  = 50
	PriorityNormal    = 100
)

// PriorityFor maps an optional priority reason to its tier.
func PriorityFor(reason *PriorityReason) (int, error) {
	if reason == nil || *reason == "" {
		return PriorityNormal, nil
	}
	switch *reason {
	case PriorityReasonEmergency:
		return PriorityEmergency, nil
	case PriorityReasonElderly, PriorityReasonPregnant, PriorityReasonDisability:
		return PriorityPriority, nil
	}
	return 0, ErrInvalidPriorityReason
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID         uuid.UUID
	Name       string
	Department string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Appointment is either time slotted (AppointmentTime set) or queue slotted
// (QueueNumber, Priority and PriorityReason set), never both. Patient and
// doctor fields are copies taken at creation.
type Appointment struct {
	ID uuid.UUID

	PatientID   uuid.UUID
	PatientName string
	DoctorID    uuid.UUID
	DoctorName  string
	Department  string

	AppointmentDate time.Time
	AppointmentTime *time.Time

	QueueNumber    *int
	Priority       *int
	PriorityReason *PriorityReason

	Status       AppointmentStatus
	Reason       string
	Notes        *string
	CancelledAt  *time.Time
	CancelReason *string
	CancelOrigin *CancelOrigin

	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsWalkIn reports whether the appointment is queue slotted.
func (a *Appointment) IsWalkIn() bool {
	return a.QueueNumber != nil
}

// StatusChange is one state machine step applied by the repository.
// Restores clear the cancellation fields, cancels set them.
type StatusChange struct {
	To           AppointmentStatus
	Actor        string
	At           time.Time
	CancelReason *string
	CancelOrigin *CancelOrigin
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Actor         string
	TraceID       string
	Payload       []byte
	CreatedAt     time.Time
}

// DayOf returns the calendar day of t as midnight UTC, the form every
// (doctor, day) key in this package uses.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
