package remote

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/logging"
)

// AppointmentAPI is the appointment service as seen by the schedule service.
type AppointmentAPI interface {
	BulkCancel(ctx context.Context, doctorID uuid.UUID, day time.Time, reason string) (int, error)
	CountActive(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)
	BulkRestore(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)
}

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
}

// RetryingAppointmentClient retries transient failures with exponential
// backoff, bounding every attempt by CallTimeout. Definite answers, such as
// a 4xx, are returned on the first attempt.
type RetryingAppointmentClient struct {
	next   AppointmentAPI
	policy RetryPolicy
	logger zerolog.Logger
}

var _ AppointmentAPI = (*RetryingAppointmentClient)(nil)

func NewRetryingAppointmentClient(next AppointmentAPI, policy RetryPolicy, logger zerolog.Logger) *RetryingAppointmentClient {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryingAppointmentClient{next: next, policy: policy, logger: logger}
}

func (c *RetryingAppointmentClient) BulkCancel(ctx context.Context, doctorID uuid.UUID, day time.Time, reason string) (int, error) {
	return c.retry(ctx, "bulk_cancel", func(ctx context.Context) (int, error) {
		return c.next.BulkCancel(ctx, doctorID, day, reason)
	})
}

func (c *RetryingAppointmentClient) CountActive(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	return c.retry(ctx, "count_active", func(ctx context.Context) (int, error) {
		return c.next.CountActive(ctx, doctorID, day)
	})
}

func (c *RetryingAppointmentClient) BulkRestore(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	return c.retry(ctx, "bulk_restore", func(ctx context.Context) (int, error) {
		return c.next.BulkRestore(ctx, doctorID, day)
	})
}

func (c *RetryingAppointmentClient) retry(ctx context.Context, op string, call func(ctx context.Context) (int, error)) (int, error) {
	var (
		result  int
		attempt int
	)

	operation := func() error {
		attempt++
		callCtx := ctx
		if c.policy.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.policy.CallTimeout)
			defer cancel()
		}

		n, err := call(callCtx)
		if err != nil {
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			logging.WithRequest(ctx, c.logger).Warn().Err(err).
				Str("op", op).
				Int("attempt", attempt).
				Msg("remote call failed")
			return err
		}
		result = n
		return nil
	}

	if err := backoff.Retry(operation, c.backOff(ctx)); err != nil {
		return 0, err
	}
	return result, nil
}

func (c *RetryingAppointmentClient) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.policy.BaseDelay > 0 {
		b.InitialInterval = c.policy.BaseDelay
	}
	if c.policy.MaxDelay > 0 {
		b.MaxInterval = c.policy.MaxDelay
	}
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.policy.MaxAttempts-1)), ctx)
}
