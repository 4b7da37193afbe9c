package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
)

// ScheduleClient asks the schedule service whether a doctor's day is bookable.
type ScheduleClient struct {
	baseClient
}

var _ appointment.AvailabilityChecker = (*ScheduleClient)(nil)

func NewScheduleClient(baseURL string, timeout time.Duration) *ScheduleClient {
	return &ScheduleClient{baseClient: newBaseClient(baseURL, timeout)}
}

// CheckBookable fails closed: if the schedule service cannot answer, the
// booking is refused with a transient error rather than let through.
func (c *ScheduleClient) CheckBookable(ctx context.Context, doctorID uuid.UUID, day time.Time) error {
	q := url.Values{}
	q.Set("doctor_id", doctorID.String())
	q.Set("date", day.Format(time.DateOnly))

	var out AvailabilityResponse
	if err := c.do(ctx, http.MethodGet, "/schedules/availability?"+q.Encode(), nil, &out); err != nil {
		return err
	}
	if !out.Bookable {
		status := out.Status
		if status == "" {
			status = "no schedule"
		}
		return fmt.Errorf("doctor %s on %s: %s: %w", doctorID, out.Date, status, appointment.ErrScheduleUnavailable)
	}
	return nil
}
