package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// AppointmentClient calls the appointment service's internal endpoints. All
// three operations are idempotent on the server side.
type AppointmentClient struct {
	baseClient
}

func NewAppointmentClient(baseURL string, timeout time.Duration) *AppointmentClient {
	return &AppointmentClient{baseClient: newBaseClient(baseURL, timeout)}
}

func (c *AppointmentClient) BulkCancel(ctx context.Context, doctorID uuid.UUID, day time.Time, reason string) (int, error) {
	var out CountResponse
	err := c.do(ctx, http.MethodPost, DayPath(doctorID, day)+"/cancel", BulkCancelRequest{Reason: reason}, &out)
	return out.Count, err
}

func (c *AppointmentClient) CountActive(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	var out CountResponse
	err := c.do(ctx, http.MethodGet, DayPath(doctorID, day)+"/active-count", nil, &out)
	return out.Count, err
}

func (c *AppointmentClient) BulkRestore(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	var out CountResponse
	err := c.do(ctx, http.MethodPost, DayPath(doctorID, day)+"/restore", nil, &out)
	return out.Count, err
}
