package scheduleapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/schedule"
)

type CreateScheduleRequest struct {
	StaffID   string `json:"staff_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type CancelScheduleRequest struct {
	Reason string `json:"reason"`
}

type ScheduleResponse struct {
	ID        uuid.UUID `json:"id"`
	StaffID   uuid.UUID `json:"staff_id"`
	Date      string    `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Status    string    `json:"status"`
	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SagaResponse struct {
	ID             uuid.UUID `json:"id"`
	ScheduleID     uuid.UUID `json:"schedule_id"`
	DoctorID       uuid.UUID `json:"doctor_id"`
	Date           string    `json:"date"`
	PriorStatus    string    `json:"prior_status"`
	Phase          string    `json:"phase"`
	CancelledCount int       `json:"cancelled_count"`
	RestoredCount  int       `json:"restored_count"`
	Attempts       int       `json:"attempts"`
	LastError      *string   `json:"last_error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toScheduleResponse(s *schedule.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:        s.ID,
		StaffID:   s.StaffID,
		Date:      s.Day.Format(time.DateOnly),
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Status:    string(s.Status),
		CreatedBy: s.CreatedBy,
		UpdatedBy: s.UpdatedBy,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toSagaResponse(r *schedule.SagaRecord) SagaResponse {
	return SagaResponse{
		ID:             r.ID,
		ScheduleID:     r.ScheduleID,
		DoctorID:       r.DoctorID,
		Date:           r.Day.Format(time.DateOnly),
		PriorStatus:    string(r.PriorStatus),
		Phase:          string(r.Phase),
		CancelledCount: r.CancelledCount,
		RestoredCount:  r.RestoredCount,
		Attempts:       r.Attempts,
		LastError:      r.LastError,
		UpdatedAt:      r.UpdatedAt,
	}
}
