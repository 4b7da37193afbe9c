// Package appointmenttest provides in-memory implementations of the
// appointment ports for tests in this and other packages.
package appointmenttest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
	redisclient "github.com/hackgods/hospital-scheduling/internal/redis"
)

type dayKey struct {
	doctor uuid.UUID
	day    string
}

func keyOf(doctorID uuid.UUID, day time.Time) dayKey {
	return dayKey{doctor: doctorID, day: day.Format(time.DateOnly)}
}

// Repository is a mutex guarded appointment.Repository. Every method is
// atomic, matching the per-statement and per-transaction atomicity of the
// Postgres implementation.
type Repository struct {
	mu       sync.Mutex
	patients map[uuid.UUID]appointment.Patient
	doctors  map[uuid.UUID]appointment.Doctor
	appts    map[uuid.UUID]appointment.Appointment
	order    []uuid.UUID
	closed   map[dayKey]bool
	events   []appointment.EventLog

	// BulkCancelFault, when set, is consulted before each row of a bulk
	// cancel. A non-nil error aborts the cancel mid-way, leaving earlier rows
	// cancelled, to mimic a store without cross-row transactions.
	BulkCancelFault func(done int) error
}

var _ appointment.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		patients: make(map[uuid.UUID]appointment.Patient),
		doctors:  make(map[uuid.UUID]appointment.Doctor),
		appts:    make(map[uuid.UUID]appointment.Appointment),
		closed:   make(map[dayKey]bool),
	}
}

func (r *Repository) AddPatient(name string) appointment.Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := appointment.Patient{ID: uuid.New(), Name: name, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.patients[p.ID] = p
	return p
}

func (r *Repository) AddDoctor(name, department string) appointment.Doctor {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := appointment.Doctor{ID: uuid.New(), Name: name, Department: department, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.doctors[d.ID] = d
	return d
}

// RenameDoctor edits the directory record, leaving existing appointments alone.
func (r *Repository) RenameDoctor(id uuid.UUID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.doctors[id]
	d.Name = name
	r.doctors[id] = d
}

// Events returns a copy of the audit trail.
func (r *Repository) Events() []appointment.EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]appointment.EventLog(nil), r.events...)
}

// All returns every appointment in insertion order.
func (r *Repository) All() []appointment.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]appointment.Appointment, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.appts[id])
	}
	return out
}

// DayClosed reports the day gate state.
func (r *Repository) DayClosed(doctorID uuid.UUID, day time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed[keyOf(doctorID, day)]
}

func (r *Repository) GetPatientByID(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return &p, nil
}

func (r *Repository) GetDoctorByID(_ context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	return &d, nil
}

func (r *Repository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func isActive(s appointment.AppointmentStatus) bool {
	return s == appointment.StatusScheduled || s == appointment.StatusInProgress
}

func (r *Repository) GetLiveAppointmentForSlot(_ context.Context, doctorID uuid.UUID, at time.Time) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.DoctorID == doctorID && a.AppointmentTime != nil && a.AppointmentTime.Equal(at) && isActive(a.Status) {
			return &a, nil
		}
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (r *Repository) CreateAppointment(_ context.Context, a *appointment.Appointment) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed[keyOf(a.DoctorID, a.AppointmentDate)] {
		return nil, appointment.ErrScheduleUnavailable
	}
	for _, existing := range r.appts {
		if existing.DoctorID != a.DoctorID {
			continue
		}
		if a.AppointmentTime != nil && existing.AppointmentTime != nil &&
			existing.AppointmentTime.Equal(*a.AppointmentTime) && isActive(existing.Status) {
			return nil, appointment.ErrSlotTaken
		}
		if a.QueueNumber != nil && existing.QueueNumber != nil &&
			*existing.QueueNumber == *a.QueueNumber && existing.AppointmentDate.Equal(a.AppointmentDate) {
			return nil, appointment.ErrQueueNumberTaken
		}
	}

	created := *a
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	r.appts[created.ID] = created
	r.order = append(r.order, created.ID)
	return &created, nil
}

func apply(a *appointment.Appointment, change appointment.StatusChange) {
	a.Status = change.To
	a.UpdatedBy = change.Actor
	a.UpdatedAt = change.At
	if change.To == appointment.StatusCancelled {
		at := change.At
		a.CancelledAt = &at
		a.CancelReason = change.CancelReason
		a.CancelOrigin = change.CancelOrigin
	}
}

func (r *Repository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from appointment.AppointmentStatus, change appointment.StatusChange) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	apply(&a, change)
	r.appts[id] = a
	return &a, nil
}

func (r *Repository) dayRows(doctorID uuid.UUID, day time.Time) []appointment.Appointment {
	var rows []appointment.Appointment
	for _, id := range r.order {
		a := r.appts[id]
		if a.DoctorID == doctorID && a.AppointmentDate.Equal(day) {
			rows = append(rows, a)
		}
	}
	return rows
}

func (r *Repository) BulkCancel(_ context.Context, doctorID uuid.UUID, day time.Time, change appointment.StatusChange) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed[keyOf(doctorID, day)] = true

	var cancelled []appointment.Appointment
	for _, a := range r.dayRows(doctorID, day) {
		if !isActive(a.Status) {
			continue
		}
		if r.BulkCancelFault != nil {
			if err := r.BulkCancelFault(len(cancelled)); err != nil {
				return nil, err
			}
		}
		apply(&a, change)
		r.appts[a.ID] = a
		cancelled = append(cancelled, a)
	}
	return cancelled, nil
}

func (r *Repository) BulkRestore(_ context.Context, doctorID uuid.UUID, day time.Time, actor string, at time.Time) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.closed, keyOf(doctorID, day))

	var restored []appointment.Appointment
	for _, a := range r.dayRows(doctorID, day) {
		if a.Status != appointment.StatusCancelled || a.CancelOrigin == nil || *a.CancelOrigin != appointment.CancelOriginScheduleSaga {
			continue
		}
		a.Status = appointment.StatusScheduled
		a.CancelledAt = nil
		a.CancelReason = nil
		a.CancelOrigin = nil
		a.UpdatedBy = actor
		a.UpdatedAt = at
		r.appts[a.ID] = a
		restored = append(restored, a)
	}
	return restored, nil
}

func (r *Repository) CountActive(_ context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.dayRows(doctorID, day) {
		if isActive(a.Status) {
			n++
		}
	}
	return n, nil
}

func (r *Repository) ListByDoctorAndDate(_ context.Context, doctorID uuid.UUID, day time.Time) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dayRows(doctorID, day), nil
}

func (r *Repository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rows []appointment.Appointment
	for i := len(r.order) - 1; i >= 0; i-- {
		a := r.appts[r.order[i]]
		if a.PatientID == patientID {
			rows = append(rows, a)
		}
	}
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *Repository) FindOverdueScheduled(_ context.Context, slotCutoff, today time.Time) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rows []appointment.Appointment
	for _, a := range r.appts {
		if a.Status != appointment.StatusScheduled {
			continue
		}
		if a.AppointmentTime != nil && a.AppointmentTime.Before(slotCutoff) {
			rows = append(rows, a)
		}
		if a.QueueNumber != nil && a.AppointmentDate.Before(today) {
			rows = append(rows, a)
		}
	}
	return rows, nil
}

func (r *Repository) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Sequencer is an in-process appointment.Sequencer.
type Sequencer struct {
	mu   sync.Mutex
	last map[dayKey]int
}

func NewSequencer() *Sequencer {
	return &Sequencer{last: make(map[dayKey]int)}
}

func (s *Sequencer) NextQueueNumber(_ context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(doctorID, day)
	s.last[k]++
	return s.last[k], nil
}

// Locker is an in-process fail-fast redisclient.Locker.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

var _ redisclient.Locker = (*Locker)(nil)

func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return redisclient.ErrLockNotAcquired
	}
	l.held[key] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()

	return fn(ctx)
}
