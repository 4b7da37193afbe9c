// Package alert delivers operator alerts, today only for sagas whose
// compensation could not complete.
package alert

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const TypeCompensationFailed = "saga.compensation_failed"

// Alert tells an operator that a doctor's day needs manual reconciliation.
type Alert struct {
	Type       string    `json:"type"`
	SagaID     uuid.UUID `json:"saga_id"`
	ScheduleID uuid.UUID `json:"schedule_id"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	Date       string    `json:"date"`
	Error      string    `json:"error"`
	RaisedAt   time.Time `json:"raised_at"`
}

type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to the log at error level.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, a Alert) error {
	n.logger.Error().
		Str("alert", a.Type).
		Str("saga_id", a.SagaID.String()).
		Str("schedule_id", a.ScheduleID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Str("date", a.Date).
		Str("error", a.Error).
		Msg("operator action required")
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
