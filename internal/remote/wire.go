// Package remote holds the clients the two services use to call each other
// and the request and response bodies both sides agree on.
package remote

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type BulkCancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type AvailabilityResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Bookable bool      `json:"bookable"`
	Status   string    `json:"status,omitempty"`
}

// DayPath is the internal appointment service path for a doctor's day.
func DayPath(doctorID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("/internal/doctors/%s/days/%s", doctorID, day.Format(time.DateOnly))
}
