package remote

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/reqctx"
)

// LocalAppointmentAPI serves AppointmentAPI from an in-process service, as
// the system actor, the way the HTTP boundary does. The simulator and tests
// use it to run both services in one process.
type LocalAppointmentAPI struct {
	svc *appointment.Service
}

var _ AppointmentAPI = (*LocalAppointmentAPI)(nil)

func NewLocalAppointmentAPI(svc *appointment.Service) *LocalAppointmentAPI {
	return &LocalAppointmentAPI{svc: svc}
}

func (l *LocalAppointmentAPI) BulkCancel(ctx context.Context, doctorID uuid.UUID, day time.Time, reason string) (int, error) {
	return l.svc.BulkCancelByDoctorAndDate(reqctx.AsSystem(ctx), doctorID, day, reason)
}

func (l *LocalAppointmentAPI) CountActive(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	return l.svc.CountActiveByDoctorAndDate(reqctx.AsSystem(ctx), doctorID, day)
}

func (l *LocalAppointmentAPI) BulkRestore(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	return l.svc.BulkRestoreByDoctorAndDate(reqctx.AsSystem(ctx), doctorID, day)
}
