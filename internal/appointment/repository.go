package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Directory resolves the patient and doctor records copied into new appointments.
type Directory interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	Directory

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// For conflict checks
	GetLiveAppointmentForSlot(ctx context.Context, doctorID uuid.UUID, at time.Time) (*Appointment, error)

	// CreateAppointment inserts a while holding a shared lock on the day gate of
	// (a.DoctorID, a.AppointmentDate). A closed gate yields ErrScheduleUnavailable.
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// UpdateAppointmentStatus applies change only if the row is still in from.
	// A row that moved on yields ErrAppointmentNotFound.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from AppointmentStatus, change StatusChange) (*Appointment, error)

	// BulkCancel closes the day gate and cancels every active appointment of the
	// day in one transaction, returning the rows it changed.
	BulkCancel(ctx context.Context, doctorID uuid.UUID, day time.Time, change StatusChange) ([]Appointment, error)

	// BulkRestore reopens the day gate and reverts the saga cancellations of the
	// day in one transaction, returning the rows it changed.
	BulkRestore(ctx context.Context, doctorID uuid.UUID, day time.Time, actor string, at time.Time) ([]Appointment, error)

	CountActive(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)
	ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// No-show worker: SCHEDULED rows whose time is before slotCutoff, and
	// SCHEDULED walk-ins of days before today.
	FindOverdueScheduled(ctx context.Context, slotCutoff, today time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Sequencer assigns walk-in queue numbers. Numbers are strictly increasing per
// (doctor, day) and never handed out twice; gaps are allowed.
type Sequencer interface {
	NextQueueNumber(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)
}

// AvailabilityChecker asks the schedule owner whether a doctor's day accepts
// bookings. It returns ErrScheduleUnavailable when it does not.
type AvailabilityChecker interface {
	CheckBookable(ctx context.Context, doctorID uuid.UUID, day time.Time) error
}
