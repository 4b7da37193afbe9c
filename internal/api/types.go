package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID       string  `json:"patient_id"`
	DoctorID        string  `json:"doctor_id"`
	AppointmentTime string  `json:"appointment_time"`
	Reason          string  `json:"reason"`
	Notes           *string `json:"notes,omitempty"`
}

type WalkInRequest struct {
	PatientID      string  `json:"patient_id"`
	DoctorID       string  `json:"doctor_id"`
	Reason         string  `json:"reason"`
	PriorityReason *string `json:"priority_reason,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	PatientName     string     `json:"patient_name"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	DoctorName      string     `json:"doctor_name"`
	Department      string     `json:"department"`
	AppointmentDate string     `json:"appointment_date"`
	AppointmentTime *time.Time `json:"appointment_time,omitempty"`
	QueueNumber     *int       `json:"queue_number,omitempty"`
	Priority        *int       `json:"priority,omitempty"`
	PriorityReason  *string    `json:"priority_reason,omitempty"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelReason    *string    `json:"cancel_reason,omitempty"`
	CreatedBy       string     `json:"created_by"`
	UpdatedBy       string     `json:"updated_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type ListResponse struct {
	Items []AppointmentResponse `json:"items"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		PatientName:     a.PatientName,
		DoctorID:        a.DoctorID,
		DoctorName:      a.DoctorName,
		Department:      a.Department,
		AppointmentDate: a.AppointmentDate.Format(time.DateOnly),
		AppointmentTime: a.AppointmentTime,
		QueueNumber:     a.QueueNumber,
		Priority:        a.Priority,
		Status:          string(a.Status),
		Reason:          a.Reason,
		Notes:           a.Notes,
		CancelledAt:     a.CancelledAt,
		CancelReason:    a.CancelReason,
		CreatedBy:       a.CreatedBy,
		UpdatedBy:       a.UpdatedBy,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if a.PriorityReason != nil {
		pr := string(*a.PriorityReason)
		resp.PriorityReason = &pr
	}
	return resp
}

func toListResponse(appts []appointment.Appointment) ListResponse {
	items := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		items = append(items, toResponse(&appts[i]))
	}
	return ListResponse{Items: items}
}
