package appointment

import "github.com/hackgods/hospital-scheduling/internal/apperr"

var (
	ErrPatientNotFound       = apperr.Validation("unknown_patient", "patient not found")
	ErrDoctorNotFound        = apperr.Validation("unknown_doctor", "doctor not found")
	ErrInvalidPriorityReason = apperr.Validation("invalid_priority_reason", "priority reason must be EMERGENCY, ELDERLY, PREGNANT or DISABILITY")
	ErrInvalidAppointment    = apperr.Validation("invalid_appointment", "appointment request is malformed")

	ErrAppointmentNotFound = apperr.NotFound("appointment_not_found", "appointment not found")
	ErrQueueEmpty          = apperr.NotFound("queue_empty", "no walk-in is waiting")

	ErrSlotTaken               = apperr.Conflict("slot_taken", "doctor already has an appointment at this time")
	ErrQueueNumberTaken        = apperr.Conflict("queue_number_taken", "queue number already issued for this doctor and day, please retry")
	ErrSlotBeingBooked         = apperr.Conflict("slot_being_booked", "slot is currently being booked, please retry")
	ErrInvalidStatusTransition = apperr.Conflict("invalid_status_transition", "invalid status transition")
	ErrNoShowTooEarly          = apperr.Conflict("no_show_too_early", "appointment time plus grace window has not elapsed")
	ErrScheduleUnavailable     = apperr.Conflict("schedule_unavailable", "doctor schedule is not bookable for this day")
)
